// Package logger builds the zap logger used by the simgym commands.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"simgym/config"
)

// New creates a configured *zap.Logger.
// The returned closer flushes the logger and closes any log file.
func New(cfg config.LoggerConfig) (*zap.Logger, func() error, error) {
	ws, closeOutput, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), ws, zap.NewAtomicLevelAt(parseLevel(cfg.Level)))
	log := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	closer := func() error {
		// Sync on a terminal returns EINVAL on some platforms.
		_ = log.Sync()
		return closeOutput()
	}
	return log, closer, nil
}

func newEncoder(format string) zapcore.Encoder {
	if strings.ToLower(format) == "json" {
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(ec)
	}
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// parseLevel converts a string level to a zapcore.Level.
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// openOutput returns a WriteSyncer for the specified output target.
func openOutput(output string) (zapcore.WriteSyncer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return zapcore.Lock(os.Stdout), noop, nil
	case "stderr", "":
		return zapcore.Lock(os.Stderr), noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, err
		}
		return zapcore.AddSync(f), f.Close, nil
	}
}
