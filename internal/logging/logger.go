// Package logging builds the process-wide structured logger used by the
// health checker, the proxy front-ends, the admin API and the supervisor.
// Components take a *zap.SugaredLogger by injection rather than
// reaching for a package-level global, so tests can pass an observer core.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a SugaredLogger at the given level ("debug", "info", "warn",
// "error"), writing JSON-encoded records to stdout and, if file is
// non-empty, additionally to that append-only file.
func New(level, file string) (*zap.SugaredLogger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	writeSyncer := zapcore.AddSync(os.Stdout)
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		writeSyncer = zapcore.NewMultiWriteSyncer(writeSyncer, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(encoder, writeSyncer, zapLevel)
	return zap.New(core, zap.AddCaller()).Sugar(), nil
}

// Noop returns a logger that discards everything, for tests that don't
// care about log output.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
