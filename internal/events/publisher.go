// Package events publishes till activity to kafka for downstream analytics.
// Publishing is best effort: a dead broker must never block a payment.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"tillpoint/internal/domain"
	"tillpoint/internal/money"
)

type OrderCompleted struct {
	Type          string               `json:"type"`
	OrderID       string               `json:"order_id"`
	RestaurantID  string               `json:"restaurant_id"`
	TableID       string               `json:"table_id,omitempty"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	TotalAmount   money.Cents          `json:"total_amount"`
	Timestamp     time.Time            `json:"timestamp"`
}

const TypeOrderCompleted = "order_completed"

type KafkaPublisher struct {
	Writer *kafka.Writer
}

func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{Writer: writer}
}

func (p *KafkaPublisher) PublishOrderCompleted(ctx context.Context, msg OrderCompleted) error {
	msg.Type = TypeOrderCompleted
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	payload, _ := json.Marshal(msg)
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.OrderID),
		Value: payload,
	})
}
