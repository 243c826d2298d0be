// Package obslog builds the *zap.Logger the server core and pool log
// through, grounded in packetd's logger package: a console encoder
// writing either to stdout or to a rotated file via lumberjack.
package obslog

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New, mirroring packetd's logger.Options shape.
type Options struct {
	Stdout     bool
	Level      string
	Filename   string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

func toZapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a *zap.Logger from Options. A zero Options yields a
// stdout-only, info-level logger.
func New(opt Options) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	var w zapcore.WriteSyncer
	if opt.Stdout || opt.Filename == "" {
		w = zapcore.AddSync(os.Stdout)
	} else {
		w = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    opt.MaxSizeMB,
			MaxAge:     opt.MaxAgeDays,
			MaxBackups: opt.MaxBackups,
			LocalTime:  true,
		})
	}

	core := zapcore.NewCore(encoder, w, toZapLevel(opt.Level))
	return zap.New(core, zap.AddCaller())
}
