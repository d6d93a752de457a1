package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"billingsync/internal/config"
	"billingsync/internal/model"

	"cloud.google.com/go/pubsub"
)

// Publisher defines an interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, attrs map[string]string) (string, error)
}

// PubSubPublisher is an implementation of Publisher using Google Pub/Sub.
type PubSubPublisher struct {
	client *pubsub.Client
}

// NewPublisher creates a new PubSubPublisher using the GCP project from config.
func NewPublisher(ctx context.Context, cfg *config.Config) (*PubSubPublisher, error) {
	projectID := cfg.GetGCPProjectID()
	if projectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubPublisher{client: client}, nil
}

// Publish sends the payload to the given Pub/Sub topic and returns the message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte, attrs map[string]string) (string, error) {
	t := p.client.Topic(topic)
	result := t.Publish(ctx, &pubsub.Message{Data: payload, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	return id, nil
}

func (p *PubSubPublisher) Close() error {
	return p.client.Close()
}

// BillingEventPublisher publishes billing state changes as JSON messages.
// With no topic configured it drops events.
type BillingEventPublisher struct {
	pub   Publisher
	topic string
}

func NewBillingEventPublisher(pub Publisher, topic string) *BillingEventPublisher {
	return &BillingEventPublisher{pub: pub, topic: topic}
}

func (b *BillingEventPublisher) PublishBillingEvent(ctx context.Context, ev model.BillingEvent) error {
	if b == nil || b.pub == nil || b.topic == "" {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal billing event: %w", err)
	}
	attrs := map[string]string{
		"type":      ev.Type,
		"tenant_id": ev.TenantID,
		"source":    ev.Source,
	}
	_, err = b.pub.Publish(ctx, b.topic, payload, attrs)
	return err
}
