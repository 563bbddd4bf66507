package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerProvider_Disabled(t *testing.T) {
	ctx := context.Background()

	lp, err := NewLoggerProvider(ctx, LogsConfig{ServiceName: "test-service"}, nil)
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.ForceFlush(ctx))
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestNewZapOTELCore_DisabledIsNop(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{}, nil)
	require.NoError(t, err)

	core := NewZapOTELCore(ZapBridgeConfig{LoggerProvider: lp, Level: zapcore.InfoLevel})
	assert.False(t, core.Enabled(zapcore.ErrorLevel))

	core = NewZapOTELCore(ZapBridgeConfig{})
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
}

func TestNewZapOTELCore_WithLevelFilter(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	lp := &LoggerProvider{provider: provider, logger: zap.NewNop(), config: LogsConfig{Enabled: true}}

	core := NewZapOTELCore(ZapBridgeConfig{LoggerProvider: lp, Level: zapcore.WarnLevel})

	filtered, ok := core.(*levelFilterCore)
	require.True(t, ok)
	assert.Equal(t, zapcore.WarnLevel, filtered.minLevel)
	assert.False(t, core.Enabled(zapcore.InfoLevel))

	debugCore := NewZapOTELCore(ZapBridgeConfig{LoggerProvider: lp, Level: zapcore.DebugLevel})
	_, ok = debugCore.(*levelFilterCore)
	assert.False(t, ok)
}

func TestLevelFilterCore(t *testing.T) {
	observed, logs := observer.New(zapcore.DebugLevel)
	filtered := &levelFilterCore{Core: observed, minLevel: zapcore.WarnLevel}

	assert.True(t, filtered.Enabled(zapcore.WarnLevel))
	assert.False(t, filtered.Enabled(zapcore.InfoLevel))

	logger := zap.New(filtered.With([]zapcore.Field{zap.String("run_id", "r-1")}))
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0].Message)
	assert.Equal(t, "r-1", entries[0].ContextMap()["run_id"])
}
