// SPDX-License-Identifier: MPL-2.0

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix namespaces bus channels on a shared Redis server.
const DefaultChannelPrefix = "stackbind:"

type (
	// Subscriber is the part of a Redis client RedisFeed uses.
	Subscriber interface {
		Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	}

	// RedisFeed republishes messages from Redis channels named
	// <Prefix><topic> onto the local bus. A message body is the event payload.
	RedisFeed struct {
		Client Subscriber
		Prefix string
		Bus    *Bus
	}
)

// Connect creates a Redis client from a redis:// URL or a host:port address.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// Channel returns the Redis channel carrying topic.
func (f *RedisFeed) Channel(topic string) string {
	return f.prefix() + topic
}

// Run subscribes to every bus topic and republishes until ctx is done.
func (f *RedisFeed) Run(ctx context.Context) error {
	channels := make([]string, 0, len(Topics))
	for _, t := range Topics {
		channels = append(channels, f.Channel(t))
	}

	ps := f.Client.Subscribe(ctx, channels...)
	defer ps.Close() //nolint:errcheck // best-effort on shutdown

	// Receive blocks until the subscription is confirmed so connection
	// failures surface here rather than as a silent feed.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to %s: %w", strings.Join(channels, ", "), err)
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			f.deliver(msg.Channel, msg.Payload)
		}
	}
}

func (f *RedisFeed) deliver(channel, payload string) {
	topic, ok := strings.CutPrefix(channel, f.prefix())
	if !ok {
		slog.Debug("ignoring message on foreign channel", "channel", channel)
		return
	}
	evt := Event{Topic: topic}
	if payload != "" {
		evt.Payload = []byte(payload)
	}
	f.Bus.Publish(evt)
}

func (f *RedisFeed) prefix() string {
	if f.Prefix == "" {
		return DefaultChannelPrefix
	}
	return f.Prefix
}
