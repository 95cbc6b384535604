package notifier

import "time"

// Config controls outgoing subscriber notifications.
type Config struct {
	// RatePerSec is the global send budget. Telegram allows about 30 msg/s per bot.
	RatePerSec int
	// Burst defaults to RatePerSec.
	Burst int
	// SendTimeout bounds one delivery when the caller's ctx has no deadline.
	SendTimeout time.Duration
}

// DeliveryEvent is emitted on the event bus for each attempt.
// Keep it small; Data may be logged/serialized by subscribers.
type DeliveryEvent struct {
	ChatID int64         `json:"chat_id"`
	Took   time.Duration `json:"took"`
	At     time.Time     `json:"at"`
	Error  string        `json:"error,omitempty"`
}
