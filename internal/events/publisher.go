// Package events publishes cart lifecycle events to Kafka for downstream
// consumers (purchasing systems, analytics). The stream is optional; when no
// brokers are configured the API skips it entirely.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TypeCartCreated    = "cart.created"
	TypeCartOptimized  = "cart.optimized"
	TypePlanCreated    = "plan.created"
	TypeOffersImported = "offers.imported"
)

// Event is the envelope written to the topic. Key is the cart id so all
// events for one cart land on the same partition.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	TenantID  string          `json:"tenantId"`
	CartID    string          `json:"cartId,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, tenantID, cartID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	evt := Event{
		ID:        "evt_" + uuid.New().String(),
		Type:      eventType,
		TenantID:  tenantID,
		CartID:    cartID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	key := cartID
	if key == "" {
		key = tenantID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("kafka publish %s failed: %v", eventType, err)
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
