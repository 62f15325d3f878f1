// Package arenalog provides the server's structured logger. It keeps
// the teacher's logf(cfg, format, args...) call shape — gated on
// verbosity — but backs it with zap so log lines carry structured
// fields instead of being pure format strings.
package arenalog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with the teacher's verbosity gate.
type Logger struct {
	verbose bool
	sugar   *zap.SugaredLogger
}

// New builds a Logger. When verbose is false, Debugf/Infof are no-ops
// (matching the teacher's logf, which is silent unless cfg.verbose),
// but Warnf/Errorf always surface.
func New(verbose bool) *Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}

	return &Logger{verbose: verbose, sugar: logger.Sugar()}
}

// Nop returns a Logger that discards everything, for use in tests.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func (l *Logger) Debugf(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

// With returns a Logger with structured key/value pairs attached to
// every subsequent line (e.g. tick number, player id).
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{verbose: l.verbose, sugar: l.sugar.With(kv...)}
}

// Sync flushes buffered log entries; call on shutdown.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}
