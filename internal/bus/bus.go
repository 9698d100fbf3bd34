// SPDX-License-Identifier: MPL-2.0

// Package bus is the in-process event bus a bind session listens on, plus
// the feeds that bridge external change notifications onto it.
package bus

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
)

// Topics published on the bus.
const (
	TopicMetadataUpdated = "stacks.metadata.updated"
	TopicMetadataDeleted = "stacks.metadata.deleted"
	TopicSecretUpdated   = "config.secret.updated"
)

// Topics lists every topic feeds bridge.
var Topics = []string{TopicMetadataUpdated, TopicMetadataDeleted, TopicSecretUpdated}

type (
	// Event is one message on the bus.
	Event struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}

	// SecretPayload is the payload of TopicSecretUpdated.
	SecretPayload struct {
		Name string `json:"name"`
	}

	// StackPayload is the payload of the metadata topics.
	StackPayload struct {
		Stack string `json:"stack"`
	}

	// Handler receives events. Handlers run on the publisher's goroutine and
	// must not block.
	Handler func(Event)

	// Bus fans events out to topic subscribers. The zero value is ready.
	Bus struct {
		mu     sync.RWMutex
		nextID int
		subs   map[string][]subscription
	}

	subscription struct {
		id int
		fn Handler
	}
)

// New creates an empty Bus.
func New() *Bus { return &Bus{} }

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[string][]subscription)
	}
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs[topic] = slices.DeleteFunc(b.subs[topic], func(s subscription) bool { return s.id == id })
		})
	}
}

// Publish delivers evt to every current subscriber of its topic, in
// subscription order.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handlers := slices.Clone(b.subs[evt.Topic])
	b.mu.RUnlock()

	slog.Debug("bus event", "topic", evt.Topic, "subscribers", len(handlers))
	for _, s := range handlers {
		s.fn(evt)
	}
}

// NewEvent builds an event with payload marshalled to JSON. A nil payload
// leaves Payload empty.
func NewEvent(topic string, payload any) (Event, error) {
	evt := Event{Topic: topic}
	if payload == nil {
		return evt, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	evt.Payload = raw
	return evt, nil
}

// SecretName decodes the payload of a TopicSecretUpdated event.
func (e Event) SecretName() (string, error) {
	var p SecretPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return "", err
	}
	return p.Name, nil
}
