// Package events forwards appended activity entries to a Kafka topic so other
// systems can follow a practice's feed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic = "froom.activity"
	eventType    = "activity.appended"
)

type ActivityEvent struct {
	ID           string `json:"id"`
	PracticeCode string `json:"practiceCode"`
	ByUID        string `json:"byUid"`
	ByName       string `json:"byName"`
	Change       string `json:"change"`
	TS           int64  `json:"ts"`
}

type Publisher interface {
	PublishActivity(ctx context.Context, event ActivityEvent) error
}

// Nop discards events. It is used when no brokers are configured.
type Nop struct{}

func (Nop) PublishActivity(context.Context, ActivityEvent) error { return nil }

// MessageWriter is the part of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	})
}

func NewKafkaPublisherWithWriter(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// PublishActivity keys each message by practice code so one practice's
// entries stay on one partition, in order.
func (p *KafkaPublisher) PublishActivity(ctx context.Context, event ActivityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode activity event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.PracticeCode),
		Value: payload,
		Time:  time.UnixMilli(event.TS).UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish activity event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
