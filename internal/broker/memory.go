package broker

import (
	"context"
	"sync"

	"hookrelay/pkg/models"
)

// memoryBroker is an in-process broker for single-binary deployments and
// tests. Producer and Consumer share one instance so published deliveries
// reach subscribed handlers directly.
type memoryBroker struct {
	mu          sync.RWMutex
	handlers    map[string][]HandlerFunc
	serviceName string
	closed      bool
}

var (
	sharedMemoryBroker *memoryBroker
	memoryBrokerOnce   sync.Once
)

// MemoryBroker returns the process-wide in-memory broker instance.
func MemoryBroker() *memoryBroker {
	memoryBrokerOnce.Do(func() {
		sharedMemoryBroker = &memoryBroker{
			handlers: make(map[string][]HandlerFunc),
		}
	})
	return sharedMemoryBroker
}

// NewIsolatedMemoryBroker returns a broker not shared with the rest of the
// process. Used by tests that need independent topic spaces.
func NewIsolatedMemoryBroker() *memoryBroker {
	return &memoryBroker{
		handlers: make(map[string][]HandlerFunc),
	}
}

func (b *memoryBroker) Publish(ctx context.Context, topic string, d models.Delivery) error {
	b.mu.RLock()
	handlers := append([]HandlerFunc(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (b *memoryBroker) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	b.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

func (b *memoryBroker) SetServiceName(name string) {
	b.mu.Lock()
	b.serviceName = name
	b.mu.Unlock()
}

func (b *memoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = make(map[string][]HandlerFunc)
	b.mu.Unlock()
	return nil
}
