// Package zaplogger adapts go.uber.org/zap to logger.Logger.
package zaplogger

import (
	"go.uber.org/zap"

	"github.com/kinesphere/resync/pkg/logger"
)

type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ logger.Logger = (*ZapLogger)(nil)

func New(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

// NewProduction builds a JSON zap logger at the given level name.
func NewProduction(level string) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return New(l), nil
}

func (z *ZapLogger) Error(msg string, args ...any) {
	z.sugar.Errorw(msg, args...)
}

func (z *ZapLogger) Warn(msg string, args ...any) {
	z.sugar.Warnw(msg, args...)
}

func (z *ZapLogger) Info(msg string, args ...any) {
	z.sugar.Infow(msg, args...)
}

func (z *ZapLogger) Debug(msg string, args ...any) {
	z.sugar.Debugw(msg, args...)
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.sugar.Sync()
}
