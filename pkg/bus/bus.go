// Package bus fans steplink events (step outcomes, agent connection state)
// out to interested listeners. The default implementation is in-memory; a
// NATS-backed bus is used when a server URL is configured so that dashboards
// and CI tooling outside the test process can follow a run live.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// SubjectPrefix is the root token of every subject steplink publishes on.
const SubjectPrefix = "steplink"

// Publisher is the narrow side of the bus that SDK components depend on.
type Publisher interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error
}

// MessageBus is a Publisher that also supports subscriptions.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	Publisher

	// Subscribe registers a handler for messages on the given subject.
	// Supports wildcards: "steplink.step.*" matches "steplink.step.submitted".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Empty selects the in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the connect timeout for NATS.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:    "steplink",
		Timeout: 5 * time.Second,
	}
}

// New returns a NATS bus when cfg.URL is set and an in-memory bus otherwise.
func New(cfg Config) (MessageBus, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return NewMemoryBus(), nil
	}
	return NewNATSBus(cfg)
}

// Subject joins tokens under the steplink prefix. Empty tokens are dropped.
func Subject(tokens ...string) string {
	parts := make([]string, 0, len(tokens)+1)
	parts = append(parts, SubjectPrefix)
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		parts = append(parts, strings.ToLower(tok))
	}
	return strings.Join(parts, ".")
}

// PublishJSON marshals v and publishes it. A nil publisher is a no-op.
func PublishJSON(ctx context.Context, pub Publisher, subject string, v any) error {
	if pub == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	return pub.Publish(ctx, subject, data)
}
