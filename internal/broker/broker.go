// Package broker carries domain events between the outbox relay and
// background workers over RabbitMQ, either a topic exchange or a stream.
package broker

import (
	"context"
	"strings"
)

// Delivery is one event handed to a subscriber.
type Delivery struct {
	RoutingKey string
	Body       []byte
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Subscriber delivers events whose routing key matches bindingKey. The
// channel is closed when ctx is cancelled or the connection is lost.
type Subscriber interface {
	Subscribe(ctx context.Context, queue, bindingKey string) (<-chan Delivery, error)
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// MatchTopic reports whether key matches an AMQP topic binding pattern,
// where "*" matches exactly one dot-separated word and "#" matches zero or
// more.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
