package services

import (
	"context"

	"github.com/ads-marketplace/deal-engine/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notification kinds. Message text is rendered by the bot.
const (
	NotifyPostFailed      = "post_failed"
	NotifyPostDeleted     = "post_deleted"
	NotifyDealCompleted   = "deal_completed"
	NotifyDealExpired     = "deal_expired"
	NotifyDealRejected    = "deal_rejected"
	NotifyRightsRevoked   = "rights_revoked"
	NotifyBudgetExhausted = "budget_exhausted"
)

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind string, dealID uuid.UUID) error
}

// EventNotifier hands notifications to the bot through the events:bot stream.
type EventNotifier struct {
	publisher events.Publisher
	log       *zap.Logger
}

func NewEventNotifier(publisher events.Publisher, log *zap.Logger) *EventNotifier {
	return &EventNotifier{publisher: publisher, log: log}
}

func (n *EventNotifier) Notify(ctx context.Context, userID uuid.UUID, kind string, dealID uuid.UUID) error {
	err := n.publisher.Publish(ctx, events.StreamBot, events.Event{
		Type: events.EventBotNotification,
		Payload: map[string]any{
			"user_id": userID.String(),
			"kind":    kind,
			"deal_id": dealID.String(),
		},
	})
	if err != nil {
		n.log.Warn("failed to publish notification",
			zap.String("user_id", userID.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
	return err
}

// notifyAll is best effort: a failed notification never changes a deal outcome.
func notifyAll(ctx context.Context, n Notifier, kind string, dealID uuid.UUID, users ...uuid.UUID) {
	for _, u := range users {
		if u == uuid.Nil {
			continue
		}
		_ = n.Notify(ctx, u, kind, dealID)
	}
}
