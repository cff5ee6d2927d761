// logging/logger.go

package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

// InitLogger builds the process-wide logger, writing to stdout and the
// service log files under logDirPath.
func InitLogger(logDirPath string) {
	if err := os.MkdirAll(logDirPath, 0o755); err != nil {
		panic(err)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(levelFromEnv())
	config.OutputPaths = []string{"stdout", touch(filepath.Join(logDirPath, "authz.log"))}
	config.ErrorOutputPaths = []string{"stderr", touch(filepath.Join(logDirPath, "authz_error.log"))}

	encoder := &config.EncoderConfig
	encoder.TimeKey = "timestamp"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.CallerKey = "caller"
	encoder.StacktraceKey = "stacktrace"

	logger, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	Log = logger
	zap.ReplaceGlobals(Log)
}

// levelFromEnv honours LOG_LEVEL, defaulting to info.
func levelFromEnv() zapcore.Level {
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if level, err := zapcore.ParseLevel(raw); err == nil {
			return level
		}
	}
	return zapcore.InfoLevel
}

// touch makes sure a log file exists before zap opens it.
func touch(path string) string {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		panic(err)
	}
	file.Close()
	return path
}

// InitTestLogger points the package logger at a no-op core for tests.
func InitTestLogger() {
	Log = zap.NewNop()
}

// Log methods for different levels
func Info(msg string, fields ...zap.Field) {
	Log.Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Log.Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	Log.Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Log.Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Log.Fatal(msg, fields...)
}

// WithContext adds context fields to the logger
func WithContext(fields ...zap.Field) *zap.Logger {
	return Log.With(fields...)
}

func Sync() error {
	return Log.Sync()
}
