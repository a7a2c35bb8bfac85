package messaging

import (
	"context"
	"sync"
	"time"
)

const memoryBuffer = 256

// MemoryClient is an in-process bus for single-node deployments. Messages
// published while no consumer is running stay buffered until the buffer
// fills, after which Publish blocks until ctx is done.
type MemoryClient struct {
	topic  string
	queue  chan Message
	mu     sync.Mutex
	offset int64
}

// NewMemoryClient creates an in-process client with the given buffer size.
func NewMemoryClient(topic string, buffer int) *MemoryClient {
	if buffer <= 0 {
		buffer = 1
	}
	return &MemoryClient{topic: topic, queue: make(chan Message, buffer)}
}

func (m *MemoryClient) Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error {
	m.mu.Lock()
	m.offset++
	offset := m.offset
	m.mu.Unlock()

	msg := Message{
		Topic:  m.topic,
		Key:    append([]byte(nil), key...),
		Value:  append([]byte(nil), value...),
		Offset: offset,
		Time:   time.Now().UTC(),
	}
	if len(headers) > 0 {
		msg.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			msg.Headers[k] = v
		}
	}

	select {
	case m.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume delivers messages until ctx is done. Failed messages are dropped;
// there is no broker to redeliver them.
func (m *MemoryClient) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.queue:
			_ = handler(ctx, msg)
		}
	}
}

func (m *MemoryClient) Topic() string { return m.topic }

// Pending reports how many messages wait for a consumer.
func (m *MemoryClient) Pending() int { return len(m.queue) }
