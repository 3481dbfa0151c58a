package broker

import (
	"context"

	"hookrelay/pkg/models"
)

// Producer publishes delivery envelopes to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, d models.Delivery) error
	Close() error
}

// Consumer feeds delivery envelopes from a topic into a handler.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, d models.Delivery) error
