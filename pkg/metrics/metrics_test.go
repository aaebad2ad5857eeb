package metrics_test

import (
	"testing"
	"time"

	"github.com/chanmux/chanmux-go/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	total := 0.0
	found := false
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		found = true
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Fatalf("%s metric not found", name)
	}
	return total
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if m.Channels == nil || m.Readers == nil || m.Writers == nil {
		t.Fatal("channel gauges not initialized")
	}
	if m.NotificationLatency == nil {
		t.Error("NotificationLatency is nil")
	}
}

func TestChannelCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ChannelCreated("sim")
	m.ChannelCreated("sim")
	m.ChannelCreated("loc")
	m.ChannelsReleased("sim", 1)
	m.ReaderAdded("sim")
	m.ReaderAdded("sim")
	m.ReaderRemoved("sim")
	m.WriterAdded("loc")
	m.Connected("sim")
	m.Disconnected("sim")

	if got := gatherValue(t, reg, "chanmux_channels"); got != 2 {
		t.Errorf("channels: got %v, want 2", got)
	}
	if got := gatherValue(t, reg, "chanmux_readers"); got != 1 {
		t.Errorf("readers: got %v, want 1", got)
	}
	if got := gatherValue(t, reg, "chanmux_writers"); got != 1 {
		t.Errorf("writers: got %v, want 1", got)
	}
	if got := gatherValue(t, reg, "chanmux_channel_connects_total"); got != 1 {
		t.Errorf("connects: got %v, want 1", got)
	}
}

func TestNotificationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Delivered(2 * time.Millisecond)
	m.Delivered(time.Millisecond)
	m.Rejected()
	m.Leaked()
	m.Error(metrics.KindRouting)

	if got := gatherValue(t, reg, "chanmux_notifications_delivered_total"); got != 2 {
		t.Errorf("delivered: got %v, want 2", got)
	}
	if got := gatherValue(t, reg, "chanmux_notification_duration_seconds"); got != 2 {
		t.Errorf("latency samples: got %v, want 2", got)
	}
	if got := gatherValue(t, reg, "chanmux_notifications_rejected_total"); got != 1 {
		t.Errorf("rejected: got %v, want 1", got)
	}
	if got := gatherValue(t, reg, "chanmux_leaked_handles_total"); got != 1 {
		t.Errorf("leaks: got %v, want 1", got)
	}
	if got := gatherValue(t, reg, "chanmux_errors_total"); got != 1 {
		t.Errorf("errors: got %v, want 1", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var m *metrics.Collector
	m.ChannelCreated("x")
	m.ChannelsReleased("x", 1)
	m.ReaderAdded("x")
	m.ReaderRemoved("x")
	m.WriterAdded("x")
	m.WriterRemoved("x")
	m.Connected("x")
	m.Disconnected("x")
	m.Error(metrics.KindType)
	m.Delivered(time.Second)
	m.Rejected()
	m.Leaked()
}
