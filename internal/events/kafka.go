package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// writeTimeout bounds one publish so a slow broker cannot stall a cycle.
const writeTimeout = 2 * time.Second

// MessageWriter is the subset of *kafka.Writer the emitter uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes events as JSON to a topic, keyed by server id so one
// server's events stay ordered within a partition.
type KafkaEmitter struct {
	writer MessageWriter
}

// NewKafkaWriter builds an async writer for a comma-separated broker list.
func NewKafkaWriter(brokers, topic string) (*kafka.Writer, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	slog.Info("Initializing Kafka event writer", "brokers", brokerList, "topic", topic)

	return &kafka.Writer{
		Addr:                   kafka.TCP(brokerList...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		BatchTimeout:           100 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Warn("Failed to publish events", "count", len(messages), "error", err)
			}
		},
	}, nil
}

// NewKafkaEmitter creates an emitter over writer.
func NewKafkaEmitter(writer MessageWriter) *KafkaEmitter {
	return &KafkaEmitter{writer: writer}
}

func (k *KafkaEmitter) Emit(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("Failed to marshal event", "type", e.Type, "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(e.ServerID),
		Value: payload,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := k.writer.WriteMessages(writeCtx, msg); err != nil {
		slog.Warn("Failed to publish event", "type", e.Type, "error", err)
	}
}

// Close flushes and closes the writer.
func (k *KafkaEmitter) Close() error {
	return k.writer.Close()
}
