package delivery

import (
	"context"

	"hookrelay/pkg/models"
)

// Transport pushes one delivery to its target agent. Implementations return
// an error on any outcome that should count as a failed attempt; the caller
// decides whether to retry or dead-letter.
type Transport interface {
	Deliver(ctx context.Context, d models.Delivery, sub models.Subscription) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, d models.Delivery, sub models.Subscription) error

func (f TransportFunc) Deliver(ctx context.Context, d models.Delivery, sub models.Subscription) error {
	return f(ctx, d, sub)
}
