package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

var _ port.Notifier = (*LogNotifier)(nil)

// LogNotifier writes each event to the structured log. It is the default
// when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Publish(ctx context.Context, events ...domain.Event) error {
	for _, e := range events {
		l.logger.Info("event",
			zap.String("event_id", e.ID),
			zap.String("type", string(e.Type)),
			zap.Time("occurred_at", e.OccurredAt),
			zap.Any("payload", e.Payload),
		)
	}
	return nil
}

func (l *LogNotifier) Close() error { return nil }
