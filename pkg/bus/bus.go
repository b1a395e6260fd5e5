// Package bus is the topic publish/subscribe channel the cluster managers use
// to talk to each other.
//
// Topics are dot separated words. Subscription patterns follow AMQP topic
// exchange rules: "*" matches exactly one word and "#" matches zero or more
// words, so "clusterManager.slave.#" receives both "clusterManager.slave" and
// "clusterManager.slave.node-1".
//
// Delivery is best effort: no acknowledgements, no retries, no durable log.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Message is the envelope carried on every topic.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes data into a Message of the given type.
func NewMessage(typ string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Data: raw}, nil
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return errors.New("bus: empty message data")
	}
	return json.Unmarshal(m.Data, v)
}

// Handler receives one message delivered on topic.
type Handler func(topic string, msg Message)

// Subscription is a live set of pattern subscriptions.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the publish/subscribe contract.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	// Subscribe registers h for every pattern. It returns once the
	// subscription is active.
	Subscribe(ctx context.Context, patterns []string, h Handler) (Subscription, error)
	Close() error
}

// Match reports whether topic matches the AMQP-style pattern.
func Match(pattern, topic string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchWords(pattern, topic []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			for i := 0; i <= len(topic); i++ {
				if matchWords(rest, topic[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(topic) == 0 {
				return false
			}
		default:
			if len(topic) == 0 || topic[0] != pattern[0] {
				return false
			}
		}
		pattern, topic = pattern[1:], topic[1:]
	}
	return len(topic) == 0
}
