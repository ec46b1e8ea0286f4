package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolOptions 连接池参数
type PoolOptions struct {
	MaxIdleConns int
	MaxOpenConns int
}

// DefaultPoolOptions 默认连接池参数
var DefaultPoolOptions = PoolOptions{MaxIdleConns: 10, MaxOpenConns: 100}

// NewGormDB 连接Postgres
func NewGormDB(url string, pool PoolOptions) (*gorm.DB, error) {
	return OpenGorm(postgres.Open(url), pool)
}

// OpenGorm 使用给定方言打开连接并设置连接池
func OpenGorm(dialector gorm.Dialector, pool PoolOptions) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}

	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
