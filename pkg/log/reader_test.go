package log

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func writeEvents(t *testing.T, events ...Event) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf)
	for _, e := range events {
		logger.Log(e)
	}
	return &buf
}

func TestReaderFilter(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	buf := writeEvents(t,
		Event{Timestamp: base, Layer: LayerChannel, Category: CategoryState, DataSource: "sim", Channel: "ramp"},
		Event{Timestamp: base.Add(time.Second), Layer: LayerWire, Category: CategoryMessage, DataSource: "remote", Channel: "temp", Direction: DirectionIn},
		Event{Timestamp: base.Add(2 * time.Second), Layer: LayerWire, Category: CategoryMessage, DataSource: "remote", Channel: "temp", Direction: DirectionOut},
		Event{Timestamp: base.Add(3 * time.Second), Layer: LayerPV, Category: CategoryError, ConnectionID: "reader-1"},
	)
	data := buf.Bytes()

	wire := LayerWire
	out := DirectionOut
	errCat := CategoryError
	end := base.Add(2 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"All", Filter{}, 4},
		{"Layer", Filter{Layer: &wire}, 2},
		{"Direction", Filter{Layer: &wire, Direction: &out}, 1},
		{"Category", Filter{Category: &errCat}, 1},
		{"DataSource", Filter{DataSource: "sim"}, 1},
		{"Channel", Filter{Channel: "temp"}, 2},
		{"Connection", Filter{ConnectionID: "reader-1"}, 1},
		{"TimeEnd", Filter{TimeEnd: &end}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewStreamReader(bytes.NewReader(data), tt.filter)
			got := 0
			for {
				_, err := reader.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("Next: %v", err)
				}
				got++
			}
			if got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader("/nonexistent/chanmux.clog"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
