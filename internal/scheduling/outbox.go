package scheduling

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// WirePublisher pushes a serialized event to the message broker.
type WirePublisher interface {
	PublishEvent(ctx context.Context, eventType string, payload []byte) error
}

// OutboxRelay drains committed outbox rows to the broker. Delivery is
// at-least-once: a row is marked published only after the broker accepted it,
// and failures are retried on the next pass.
type OutboxRelay struct {
	repo      Repository
	pub       WirePublisher
	log       *zap.Logger
	batchSize int
}

func NewOutboxRelay(repo Repository, pub WirePublisher, log *zap.Logger, batchSize int) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		repo:      repo,
		pub:       pub,
		log:       log,
		batchSize: batchSize,
	}
}

// RunOnce publishes one batch of unpublished events. A failing row is logged
// and left unpublished; later rows in the batch still get a chance.
func (r *OutboxRelay) RunOnce(ctx context.Context) error {
	pending, err := r.repo.FindUnpublishedEvents(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("find unpublished events: %w", err)
	}

	for _, ev := range pending {
		if err := r.pub.PublishEvent(ctx, ev.EventType, ev.Payload); err != nil {
			r.log.Warn("outbox publish failed",
				zap.Int64("event_id", ev.ID),
				zap.String("event_type", ev.EventType),
				zap.Error(err),
			)
			continue
		}

		if err := r.repo.MarkEventPublished(ctx, ev.ID, time.Now().UTC()); err != nil {
			r.log.Error("mark event published failed",
				zap.Int64("event_id", ev.ID),
				zap.Error(err),
			)
			continue
		}

		r.log.Debug("outbox event published",
			zap.Int64("event_id", ev.ID),
			zap.String("event_type", ev.EventType),
		)
	}

	return nil
}
