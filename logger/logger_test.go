package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitializeConsole(t *testing.T) {
	require.NoError(t, Initialize(false))
	require.NotNil(t, Logger)
	assert.False(t, JSONOutput)

	// Must not panic
	Infow("console logger ready", "component", "test")
}

func TestInitializeJSON(t *testing.T) {
	require.NoError(t, Initialize(true))
	require.NotNil(t, Logger)
	assert.True(t, JSONOutput)
}

func TestNopBeforeInitialize(t *testing.T) {
	// The package-level init installs a no-op logger; helpers must be safe
	Warnw("should not panic")
	Errorw("should not panic")
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
}

func TestNamed(t *testing.T) {
	require.NoError(t, Initialize(false))
	named := Named("store")
	require.NotNil(t, named)
	named.Infow("named logger works")
}
