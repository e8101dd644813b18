// Package pubsub implements a Google Cloud Pub/Sub broker.
package pubsub

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Broker wraps a Pub/Sub topic publisher.
type Broker struct {
	publisher *pubsub.Publisher
}

// New creates a Broker for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Broker {
	return &Broker{publisher: publisher}
}

// Publish sends payload to the configured topic and returns the server
// message id. The topic argument is recorded as a message attribute so
// a shared topic can be fanned out downstream.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	if b.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	msg := &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"topic": topic},
	}
	result := b.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
