package notifier

import (
	"fmt"
	"time"

	kit "newsrelay/internal/transport"
)

// Config controls message formatting and delivery pacing.
type Config struct {
	Target         kit.ChatTarget
	Pacing         time.Duration // minimum gap between sends; <0 disables pacing
	FloodWaitMax   time.Duration // longest retry_after honoured with one retry
	SendTimeout    time.Duration // per-send bound
	DisablePreview bool
	AnnounceText   string
}

// Message is one feed item ready for delivery.
type Message struct {
	Title      string
	Link       string
	Translated bool // Title is a translation; Link is still the original
}

// DeliveryError is returned when a message could not be delivered.
type DeliveryError struct {
	Link string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Link, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// AnnouncementError is returned when the startup announcement fails.
type AnnouncementError struct {
	Err error
}

func (e *AnnouncementError) Error() string { return "startup announcement: " + e.Err.Error() }

func (e *AnnouncementError) Unwrap() error { return e.Err }

// Event is published on the bus for every send attempt outcome.
type Event struct {
	Kind     string    `json:"kind"` // item | announce
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Link     string    `json:"link,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
