package transport

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrNoTarget is returned by a channel that has nowhere to deliver a message
// (for example a webhook channel without a default URL or per-message override).
var ErrNoTarget = errors.New("transport: no delivery target")

// Message is one operator notification, already rendered by the notifier.
type Message struct {
	Kind     string
	Text     string
	Session  string
	Metadata map[string]string
	// Target overrides the channel's default destination when the channel
	// supports it (webhook URL). Other channels ignore it.
	Target string
	At     time.Time
}

// Channel delivers messages to one external sink.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// SortedKeys returns metadata keys in stable order so rendered output is
// deterministic.
func SortedKeys(md map[string]string) []string {
	return slices.Sorted(maps.Keys(md))
}
