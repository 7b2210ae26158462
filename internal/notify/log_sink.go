package notify

import (
	"context"
	"log/slog"

	"gw-ledger/internal/models"
)

// LogSink writes notifications to the application log. Used when Kafka is
// disabled.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) SendNotification(ctx context.Context, n models.Notification) error {
	level := slog.LevelInfo
	switch n.Severity {
	case models.SeverityWarning:
		level = slog.LevelWarn
	case models.SeverityError:
		level = slog.LevelError
	}

	s.log.LogAttrs(ctx, level, n.Title,
		slog.String("notification_id", n.ID),
		slog.String("detail", n.Detail),
		slog.String("account_id", n.AccountID),
		slog.String("transaction_id", n.TransactionID))
	return nil
}
