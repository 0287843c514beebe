package notifier

import "time"

// Event kinds.
const (
	KindBumpsComplete     = "bumps-complete"
	KindSecurityActivated = "security-activated"
	KindSecuritySkip      = "security-skip"
	KindError             = "error"
)

// Bus event types.
const (
	TypeQueued  = "notifier.queued"
	TypeSent    = "notifier.sent"
	TypeFailed  = "notifier.failed"
	TypeDeduped = "notifier.deduped"
	TypeDropped = "notifier.dropped"
)

// Event is one notification request.
type Event struct {
	Kind     string
	Message  string
	Session  string
	Metadata map[string]string
	// Target overrides the webhook URL for this event (per-account webhook).
	Target string
}

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      float64
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// NotificationEvent is published on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Channel string    `json:"channel,omitempty"`
	Kind    string    `json:"kind"`
	Session string    `json:"session,omitempty"`
	Key     string    `json:"key,omitempty"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
