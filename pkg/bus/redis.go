package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

// RedisBus carries topics over Redis PUBLISH / PSUBSCRIBE. The caller owns
// the client lifecycle.
type RedisBus struct {
	client *redis.Client
	log    hclog.Logger
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus wraps an existing Redis client.
func NewRedisBus(client *redis.Client, logger hclog.Logger) *RedisBus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RedisBus{client: client, log: logger.Named("bus")}
}

// Ping verifies the Redis connection is alive.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Publish(ctx context.Context, topic string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, patterns []string, h Handler) (Subscription, error) {
	globs := GlobPatterns(patterns)
	ps := b.client.PSubscribe(ctx, globs...)
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("psubscribe %v: %w", globs, err)
	}

	sub := &redisSub{ps: ps, done: make(chan struct{})}
	go sub.run(b.log, patterns, h)
	return sub, nil
}

// Close is a no-op; the caller owns the Redis client.
func (b *RedisBus) Close() error { return nil }

type redisSub struct {
	ps   *redis.PubSub
	done chan struct{}
	once sync.Once
}

func (s *redisSub) run(log hclog.Logger, patterns []string, h Handler) {
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			// globs can over-match across dots; re-check with topic rules
			if !anyMatch(patterns, m.Channel) {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Warn("dropping undecodable message", "topic", m.Channel, "error", err)
				continue
			}
			h(m.Channel, msg)
		}
	}
}

func (s *redisSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func anyMatch(patterns []string, topic string) bool {
	for _, p := range patterns {
		if Match(p, topic) {
			return true
		}
	}
	return false
}

// GlobPatterns translates AMQP-style patterns into Redis glob patterns.
// A trailing "#" becomes two globs so the zero-word case is kept.
func GlobPatterns(patterns []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range patterns {
		switch {
		case p == "#":
			add("*")
		case strings.HasSuffix(p, ".#"):
			base := strings.TrimSuffix(p, ".#")
			add(strings.ReplaceAll(base, "#", "*"))
			add(strings.ReplaceAll(base, "#", "*") + ".*")
		default:
			add(strings.ReplaceAll(p, "#", "*"))
		}
	}
	return out
}
