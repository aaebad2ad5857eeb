package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func decodeSlogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterLogsSubscriptionEvent(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(Event{
		Timestamp:    time.Now(),
		Layer:        LayerChannel,
		Category:     CategorySubscription,
		DataSource:   "loc",
		Channel:      "x",
		Subscription: &SubscriptionEvent{Action: ActionAddReader, Usage: 1},
	})

	entry := decodeSlogLine(t, &buf)
	if entry["channel"] != "x" {
		t.Errorf("channel: got %v, want x", entry["channel"])
	}
	if entry["action"] != "ADD_READER" {
		t.Errorf("action: got %v, want ADD_READER", entry["action"])
	}
	if entry["usage"] != float64(1) {
		t.Errorf("usage: got %v, want 1", entry["usage"])
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level: got %v, want DEBUG", entry["level"])
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, nil))) // Info and above

	adapter.Log(Event{Timestamp: time.Now(), Layer: LayerPV})
	if buf.Len() != 0 {
		t.Fatalf("debug event should be filtered, got %q", buf.String())
	}

	adapter.WithLevel(slog.LevelWarn).Log(Event{
		Timestamp: time.Now(),
		Layer:     LayerPV,
		Category:  CategoryError,
		Error:     &ErrorEventData{Layer: LayerPV, Message: "leak"},
	})
	entry := decodeSlogLine(t, &buf)
	if entry["error_msg"] != "leak" {
		t.Errorf("error_msg: got %v, want leak", entry["error_msg"])
	}
}

type countingLogger struct{ n int }

func (c *countingLogger) Log(Event) { c.n++ }

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &countingLogger{}, &countingLogger{}
	m := NewMultiLogger(a, nil, b)
	m.Log(Event{})
	m.Log(Event{})
	if a.n != 2 || b.n != 2 {
		t.Errorf("counts: got %d/%d, want 2/2", a.n, b.n)
	}
	OrNoop(nil).Log(Event{})
}
