// Package transport implements pluggable alert dispatch for the Monitor,
// grounded on the teacher's datasync/chaindatafetcher/kafka.repository
// Publish pattern (Shopify/sarama producer over a topic prefix).
package transport

import (
	"context"
	"time"
)

// Message is a transport-agnostic alert payload.
type Message struct {
	Severity string
	Title    string
	Source   string
	Detail   map[string]interface{}
	At       time.Time
}

// Transport delivers Monitor alerts to an external sink.
type Transport interface {
	Send(ctx context.Context, m Message) error
	Close() error
}

// Noop discards every message; used in tests and when no alert sink is
// configured.
type Noop struct{}

func (Noop) Send(ctx context.Context, m Message) error { return nil }
func (Noop) Close() error                               { return nil }
