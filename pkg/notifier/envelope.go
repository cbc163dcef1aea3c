package notifier

import "time"

// Kind names the table a notification originates from
type Kind string

const (
	KindGameState Kind = "gameState"
	KindGameEvent Kind = "gameEvent"
)

// Notification is what a record interpreter hands to the notifier
type Notification struct {
	Kind      Kind
	SessionID string
	Payload   string
}

// Envelope is the JSON body posted to the callback endpoint
type Envelope struct {
	Type      Kind   `json:"type"`
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// NewEnvelope stamps a notification with the observation time in epoch millis
func NewEnvelope(n Notification, observedAt time.Time) Envelope {
	return Envelope{
		Type:      n.Kind,
		SessionID: n.SessionID,
		Data:      n.Payload,
		Timestamp: observedAt.UnixMilli(),
	}
}
