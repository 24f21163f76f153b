package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"habitcore/pkg/config"
)

func TestNewReplacesGlobal(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	cfg := &config.Config{AppEnv: "production", AppName: "habitcore"}
	log, err := New(ConfigParams{Cfg: cfg})
	require.NoError(t, err)
	require.Same(t, log, zap.L())
	require.False(t, log.Core().Enabled(zap.DebugLevel))
}
