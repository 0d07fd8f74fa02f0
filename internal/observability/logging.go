// Package observability owns logger construction for the CLI and server.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger for command output paths. It starts
// as a no-op and is replaced by Init before any command runs.
var CLILogger = zap.NewNop()

// Init builds the process logger.
//
// profile "console" gives human-oriented output for interactive CLI use;
// "structured" (the default) gives production JSON logs.
func Init(level string, profile string) error {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "", "structured":
		cfg = zap.NewProductionConfig()
	default:
		return fmt.Errorf("unknown logging profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	CLILogger = logger
	return nil
}

// Sync flushes buffered log entries; safe to defer from main.
func Sync() {
	_ = CLILogger.Sync()
}
