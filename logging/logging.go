// Package logging builds the zap loggers the binaries hand to every
// component. Lines go to stderr in console form; a rolling file sink can
// be added alongside for long-running hosts.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where log lines go and which levels survive.
type Config struct {
	// Level is the minimum level written to every sink.
	Level zapcore.Level
	// FilePath, when non-empty, adds a rolling file sink next to stderr.
	// Files roll at 10 MB with three backups kept for a week.
	FilePath string
}

// DefaultConfig logs at info level to stderr only.
func DefaultConfig() Config {
	return Config{Level: zapcore.InfoLevel}
}

// New builds a SugaredLogger from cfg. The returned flush drains any
// buffered lines; call it on shutdown.
func New(cfg Config) (*zap.SugaredLogger, func()) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), cfg.Level),
	}
	if cfg.FilePath != "" {
		rolling := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rolling), cfg.Level))
	}

	sugar := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar()
	return sugar, func() { _ = sugar.Sync() }
}
