package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/chanmux/chanmux-go/pkg/log"
)

func TestStatsCounts(t *testing.T) {
	events := []log.Event{
		{Timestamp: testTime, ConnectionID: "conn-a", Layer: log.LayerWire, Category: log.CategoryMessage,
			Direction: log.DirectionOut, RemoteAddr: "127.0.0.1:5064"},
		{Timestamp: testTime.Add(time.Second), ConnectionID: "conn-a", Layer: log.LayerWire, Category: log.CategoryControl,
			Direction: log.DirectionIn},
		{Timestamp: testTime.Add(2 * time.Second), Layer: log.LayerChannel, Category: log.CategoryError,
			DataSource: "sim", Channel: "const(1)", Error: &log.ErrorEventData{Layer: log.LayerChannel, Message: "boom"}},
		{Timestamp: testTime.Add(3 * time.Second), Layer: log.LayerChannel, Category: log.CategorySubscription,
			DataSource: "sim", Channel: "const(1)", Subscription: &log.SubscriptionEvent{Action: log.ActionAddReader, Usage: 1}},
	}
	path := createTestLogFile(t, events)

	stats, err := collectStats(path)
	if err != nil {
		t.Fatalf("collectStats failed: %v", err)
	}
	if stats.TotalEvents != 4 {
		t.Errorf("expected 4 events, got %d", stats.TotalEvents)
	}
	if stats.EventsByLayer[log.LayerWire] != 2 || stats.EventsByLayer[log.LayerChannel] != 2 {
		t.Errorf("unexpected layer counts: %v", stats.EventsByLayer)
	}
	if len(stats.Connections) != 1 || stats.Connections["conn-a"].Events != 2 {
		t.Errorf("unexpected connections: %v", stats.Connections)
	}
	if stats.Connections["conn-a"].RemoteAddr != "127.0.0.1:5064" {
		t.Errorf("remote address not recorded")
	}
	if stats.Channels["sim://const(1)"] != 2 {
		t.Errorf("unexpected channel counts: %v", stats.Channels)
	}
	if stats.Errors != 1 {
		t.Errorf("expected 1 error, got %d", stats.Errors)
	}
	if got := stats.TimeRange.End.Sub(stats.TimeRange.Start); got != 3*time.Second {
		t.Errorf("unexpected time range %s", got)
	}
}

func TestRunStatsOutput(t *testing.T) {
	path := createTestLogFile(t, []log.Event{
		{Timestamp: testTime, ConnectionID: "abcdef123456", Layer: log.LayerTransport, Category: log.CategoryMessage},
	})

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()
	for _, want := range []string{"Total Events: 1", "TRANSPORT:", "Connections: 1", "[abcdef12]"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}
