package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewKafkaPublisher_RequiresBroker(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestKafkaPublisher_TopicFor(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, map[string]string{
		"insights.job.completed": "sales-insights.jobs",
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer p.Close()

	if got := p.topicFor("insights.job.completed"); got != "sales-insights.jobs" {
		t.Fatalf("mapped topic = %q", got)
	}
	if got := p.topicFor("other.event"); got != "other.event" {
		t.Fatalf("fallback topic = %q", got)
	}
}

func TestLoggingPublisher_LogsEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewLoggingPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := p.Publish(context.Background(), "insights.job.completed", []byte(`{"job":"stats"}`), "stats"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["event_type"] != "insights.job.completed" || entry["partition_key"] != "stats" || entry["payload_bytes"] != float64(15) {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}
