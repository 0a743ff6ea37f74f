package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context keys recognized by extractFields.
const (
	KeyCycle   = "cycle"
	KeyOrderID = "order_id"
)

// Logger is the logging interface used across the relay.
type Logger interface {
	Debugf(ctx context.Context, format string, args ...interface{})
	Infof(ctx context.Context, format string, args ...interface{})
	Warnf(ctx context.Context, format string, args ...interface{})
	Errorf(ctx context.Context, format string, args ...interface{})
	Sync() error
}

// ZapLogger implements Logger on top of zap.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger creates a ZapLogger with the given level ("debug", "info",
// "warn", "error"; anything else falls back to info).
func NewZapLogger(level string) (Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &ZapLogger{logger: logger}, nil
}

// WithCycle annotates ctx with the current poll cycle number.
func WithCycle(ctx context.Context, cycle int64) context.Context {
	return context.WithValue(ctx, KeyCycle, cycle) //nolint:staticcheck
}

// WithOrderID annotates ctx with the order currently being processed.
func WithOrderID(ctx context.Context, orderID int64) context.Context {
	return context.WithValue(ctx, KeyOrderID, orderID) //nolint:staticcheck
}

// extractFields pulls the known annotation keys out of the context.
func (l *ZapLogger) extractFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0)

	if cycle, ok := ctx.Value(KeyCycle).(int64); ok {
		fields = append(fields, zap.Int64(KeyCycle, cycle))
	}
	if orderID, ok := ctx.Value(KeyOrderID).(int64); ok {
		fields = append(fields, zap.Int64(KeyOrderID, orderID))
	}

	return fields
}

// Debugf logs at debug level.
func (l *ZapLogger) Debugf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

// Infof logs at info level.
func (l *ZapLogger) Infof(ctx context.Context, format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

// Warnf logs at warn level.
func (l *ZapLogger) Warnf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

// Errorf logs at error level.
func (l *ZapLogger) Errorf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() Logger {
	return &ZapLogger{logger: zap.NewNop()}
}
