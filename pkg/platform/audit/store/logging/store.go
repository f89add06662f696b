// Package logging is the audit sink used when no Kafka brokers are configured.
package logging

import (
	"context"
	"log/slog"

	audit "portal/pkg/platform/audit"
)

type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	level := slog.LevelInfo
	if event.Category == audit.CategorySecurity {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "audit",
		"category", event.Category,
		"action", event.Action,
		"subject", event.Subject,
		"session_id", event.SessionID,
		"decision", event.Decision,
		"reason", event.Reason,
		"ip", event.IP,
		"request_id", event.RequestID,
		"timestamp", event.Timestamp,
	)
	return nil
}
