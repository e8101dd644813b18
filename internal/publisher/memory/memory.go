// Package memory implements an in-process broker used when no Pub/Sub
// topic is configured, and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one published payload with its destination topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker buffers published messages in memory.
type Broker struct {
	mu       sync.Mutex
	messages []Message
	seq      int

	// FailWith, when set, makes every Publish return this error.
	FailWith error
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{}
}

// Publish appends the payload and returns a synthetic message id.
func (b *Broker) Publish(_ context.Context, topic string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return "", b.FailWith
	}
	b.seq++
	b.messages = append(b.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	return fmt.Sprintf("mem-%d", b.seq), nil
}

// Messages returns a copy of everything published so far.
func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}
