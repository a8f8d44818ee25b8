package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. "debug" selects the human-readable development
// encoder; every other level uses the production JSON encoder at that level.
// Standard library log output is redirected into the returned logger.
func New(level string) (*zap.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))

	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		lvl, parseErr := zapcore.ParseLevel(level)
		if level != "" && parseErr == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
		logger, err = cfg.Build()
	}
	if err != nil {
		return nil, err
	}

	_ = zap.RedirectStdLog(logger)
	return logger, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
