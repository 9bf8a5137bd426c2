package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/Capitan-Parrot/barn-monitor/internal/models"
)

type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer создаёт продюсер с настройками
func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{
		producer: producer,
		topic:    topic,
	}, nil
}

func newProducer(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: p, topic: topic}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// Publish отправляет одно JSON сообщение в Kafka
func (p *Producer) Publish(key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := p.producer.SendMessage(kafkaMsg); err != nil {
		return fmt.Errorf("send to %s: %w", p.topic, err)
	}
	return nil
}

type heartbeatEvent struct {
	Type string `json:"type"`
	models.Heartbeat
}

func (p *Producer) SendHeartbeat(hb models.Heartbeat) error {
	return p.Publish(hb.SourceID, heartbeatEvent{Type: "heartbeat", Heartbeat: hb})
}

type statusEvent struct {
	Type string `json:"type"`
	models.StatusEvent
}

func (p *Producer) SendStatus(ev models.StatusEvent) error {
	return p.Publish(ev.SourceID, statusEvent{Type: "status", StatusEvent: ev})
}
