// Package gavranlog builds the zap.Logger every gavran component
// accepts as a constructor argument, following the logger-as-dependency
// style RichardKnop/minisql's TransactionManager uses.
package gavranlog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger from zap's production (JSON) configuration
// at the given level ("debug", "info", "warn", "error"). An empty
// level means "info"; an unknown level is returned as an error.
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if level == "" {
		lvl = zapcore.InfoLevel
	} else if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("gavranlog: unknown level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("gavranlog: build logger: %w", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything, for library callers
// that never pass a Logger in their DatabaseOptions.
func Nop() *zap.Logger {
	return zap.NewNop()
}
