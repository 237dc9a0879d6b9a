// Package notify delivers engine notifications to the outside world.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// Sender delivers a single notification. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
	Close() error
}

// LogSender writes notifications to the structured log. It is the default
// when no broker is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, n domain.Notification) error {
	fields := []zap.Field{
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.UserID),
		zap.String("type", string(n.Type)),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	}
	if n.TicketID != nil {
		fields = append(fields, zap.String("ticket_id", *n.TicketID))
	}
	s.logger.Info("notification", fields...)
	return nil
}

func (s *LogSender) Close() error { return nil }
