package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards bus events to a Kafka topic as JSON, keyed by user.
type KafkaSink struct {
	writer MessageWriter
	source string
}

// NewKafkaSink creates a sink writing to topic on the comma-separated brokers.
func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	if brokers == "" {
		return nil, fmt.Errorf("kafka brokers empty")
	}
	if topic == "" {
		topic = "recording.events"
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: w, source: "tiktok-live-recorder"}, nil
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, source: "tiktok-live-recorder"}
}

type kafkaPayload struct {
	Event
	Error  string    `json:"error,omitempty"`
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
}

// Handle is an events.Handler.
func (s *KafkaSink) Handle(ctx context.Context, ev Event) error {
	body, err := json.Marshal(kafkaPayload{Event: ev, Error: ev.ErrText(), Source: s.source, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.User),
		Value: body,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Name)},
			{Key: "source", Value: []byte(s.source)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Attach subscribes the sink to every recording event.
func (s *KafkaSink) Attach(b *Bus) {
	for _, name := range []string{RecordingStarted, RecordingFinished, RecordingError} {
		b.Subscribe(name, s.Handle)
	}
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
