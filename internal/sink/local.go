package sink

import (
	"context"
	"log/slog"

	"github.com/devblac/chain-sentinel/internal/alert"
)

// AlertStore persists alerts. *storage.Store satisfies it.
type AlertStore interface {
	InsertAlert(ctx context.Context, a alert.Alert) error
}

// StoreSender writes alerts to the local database.
type StoreSender struct {
	store AlertStore
}

// NewStoreSender wraps store.
func NewStoreSender(store AlertStore) *StoreSender {
	return &StoreSender{store: store}
}

func (s *StoreSender) Send(ctx context.Context, a alert.Alert) error {
	return s.store.InsertAlert(ctx, a)
}

// LogSender writes alerts as structured log lines.
type LogSender struct {
	log *slog.Logger
}

// NewLogSender wraps log.
func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, a alert.Alert) error {
	level := slog.LevelWarn
	if a.Kind == alert.KindError {
		level = slog.LevelError
	}
	s.log.Log(ctx, level, a.Title,
		"id", a.ID,
		"severity", string(a.Severity),
		"source", a.Source,
		"message", a.Message,
		"tx", a.TxHash(),
	)
	return nil
}
