package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink_Handle(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSinkWithWriter(w)
	ev := Event{
		ID:         "id-1",
		Name:       RecordingError,
		User:       "alice",
		OutputPath: "/rec/TK_alice.mp4",
		StartedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Err:        errors.New("exit 1"),
	}
	if err := s.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "alice" {
		t.Errorf("key = %q, want alice", msg.Key)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if body["event"] != RecordingError || body["error"] != "exit 1" || body["output_path"] != "/rec/TK_alice.mp4" {
		t.Errorf("payload = %v", body)
	}
}

func TestKafkaSink_WriteError(t *testing.T) {
	s := NewKafkaSinkWithWriter(&fakeWriter{err: errors.New("broker down")})
	if err := s.Handle(context.Background(), Event{Name: RecordingStarted}); err == nil {
		t.Error("Handle() error = nil, want error")
	}
}

func TestNewKafkaSink_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaSink("", "t"); err == nil {
		t.Error("NewKafkaSink() error = nil, want error")
	}
	s, err := NewKafkaSink("localhost:9092,localhost:9093", "")
	if err != nil {
		t.Fatalf("NewKafkaSink() error = %v", err)
	}
	_ = s.Close()
}
