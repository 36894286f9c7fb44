package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init configures the global zap logger. level is one of zap's textual
// levels ("debug", "info", "warn", "error"); console selects the
// human-readable encoder instead of JSON. Before Init runs the package is
// still safe to use: zap's default global logger is a no-op.
func Init(level string, console bool) error {
	var cfg zap.Config
	if console {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	cfg.Level.SetLevel(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	return nil
}

// Sync flushes buffered log entries; call on shutdown.
func Sync() {
	_ = zap.L().Sync()
}

func Debug(msg string, kv ...any) {
	zap.S().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	zap.S().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	zap.S().Warnw(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	zap.S().Errorw(msg, extended...)
}
