// Package procdlog builds the shared *zap.Logger used by every core
// supervisor component.
//
// Grounded in the teacher's main.go zap setup: zap.NewDevelopmentConfig with
// a colored level encoder and caller/stacktrace disabled for the common
// interactive case, switching to zap.NewProductionConfig's JSON encoding
// when a log file is configured (spec §6's log-level/log-file keys).
package procdlog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the supervisor's logger. An empty logFile logs to stderr in a
// human-readable, colored development format; a non-empty logFile switches
// to JSON lines written to that path, matching how an operator would point
// a log aggregator at procd.
func New(level, logFile string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	if logFile == "" {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
		cfg.DisableCaller = true
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{logFile}
	cfg.ErrorOutputPaths = []string{logFile}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("procdlog: invalid log level %q: %w", level, err)
	}
	return lvl, nil
}
