package notify

import (
	"context"

	"go.uber.org/zap"
)

type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notifier delivers a single human-readable notification. Implementations
// must tolerate delivery failures without affecting the sync pipeline.
type Notifier interface {
	Notify(ctx context.Context, kind Kind, title, message string) error
}

// Log writes notifications into the service log. Always available, used as
// the fallback sink when no webhook is configured.
type Log struct {
	Logger *zap.Logger
}

func (l *Log) Notify(_ context.Context, kind Kind, title, message string) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{zap.String("title", title), zap.String("message", message)}
	switch kind {
	case KindError:
		logger.Error("notification", fields...)
	case KindWarning:
		logger.Warn("notification", fields...)
	default:
		logger.Info("notification", fields...)
	}
	return nil
}

// Multi fans a notification out to every sink. Delivery errors are collected
// but a failing sink never blocks the others.
type Multi struct {
	Sinks []Notifier
}

func (m *Multi) Notify(ctx context.Context, kind Kind, title, message string) error {
	var firstErr error
	for _, sink := range m.Sinks {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, kind, title, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
