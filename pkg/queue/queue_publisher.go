package queue

import "context"

// Msg is one queue message. Key selects the partition when the backend
// supports it.
type Msg struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher publishes messages to a durable queue.
type Publisher interface {
	// Publish blocks until the backend confirms delivery or ctx ends.
	Publish(ctx context.Context, msg Msg) error

	// Close flushes in-flight messages and releases resources. Canceling
	// ctx may lose messages.
	Close(ctx context.Context)
}
