package notify

import (
	"context"
	"time"
)

// Publisher is the event stream producer.
type Publisher interface {
	Publish(key string, v any) error
}

// KafkaSink publishes notifications as JSON events on the event topic.
type KafkaSink struct {
	publisher Publisher
	sourceID  string
}

func NewKafkaSink(p Publisher, sourceID string) *KafkaSink {
	return &KafkaSink{publisher: p, sourceID: sourceID}
}

type notificationEvent struct {
	Type     string    `json:"type"`
	SourceID string    `json:"barn_id"`
	Message  Message   `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Send(_ context.Context, msg Message) error {
	return k.publisher.Publish(k.sourceID, notificationEvent{
		Type:     "notification",
		SourceID: k.sourceID,
		Message:  msg,
		SentAt:   time.Now().UTC(),
	})
}

func (k *KafkaSink) Test(ctx context.Context) (bool, string) {
	if err := k.Send(ctx, Message{Kind: KindTest, Subject: "[" + productName + "] Test Notification"}); err != nil {
		return false, "Kafka error: " + err.Error()
	}
	return true, "Test event published to Kafka"
}
