package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	File      string
	Level     string // debug, info, warn, error
	Format    string // json or console
	ToConsole bool
	Service   string
}

// New builds a zap logger that always writes to a rotated log file and optionally tees to stdout.
func New(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	switch opts.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	filename := opts.File
	if filename == "" {
		filename = "./logs/sehatsaathi.log"
	}
	logFile := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	sink := zapcore.AddSync(logFile)
	if opts.ToConsole {
		sink = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), sink)
	}

	logger := zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller())
	if opts.Service != "" {
		logger = logger.With(zap.String("service_name", opts.Service))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		logger = logger.With(zap.String("hostname", hostname))
	}
	return logger
}
