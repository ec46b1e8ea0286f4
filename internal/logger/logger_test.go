package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuild_Levels(t *testing.T) {
	l, err := Build(Options{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = Build(Options{})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = Build(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestGetLogger_NeverNil(t *testing.T) {
	assert.NotNil(t, GetLogger())
	assert.NotNil(t, Named("ingest"))
}
