package events

import "context"

// Streams
const (
	StreamDeal = "events:deal"
	StreamBot  = "events:bot"
)

// Event types
const (
	EventDealStatusChanged = "deal_status_changed"
	EventAutoPostRequested = "auto_post_requested"
	EventBotNotification   = "bot_notification"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// PayloadString reads a string field from the event payload.
func (e Event) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
