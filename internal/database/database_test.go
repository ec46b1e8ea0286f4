package database

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
)

func TestOpenGorm_AppliesPool(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	db, err := OpenGorm(postgres.New(postgres.Config{Conn: sqlDB}), PoolOptions{MaxIdleConns: 2, MaxOpenConns: 7})
	require.NoError(t, err)

	raw, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 7, raw.Stats().MaxOpenConnections)

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterPoolMetrics(reg, db, "rag_vectors"))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	require.NoError(t, Close(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
