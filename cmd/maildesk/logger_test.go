package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/nhle/maildesk/internal/model"
)

func TestNewLogger(t *testing.T) {
	log, err := newLogger(model.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))

	log, err = newLogger(model.LogConfig{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	_, err := newLogger(model.LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = newLogger(model.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
