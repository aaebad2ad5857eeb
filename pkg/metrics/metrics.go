// Package metrics provides Prometheus metrics for the channel pipeline.
//
// All recording methods are safe on a nil *Collector, so components take an
// optional collector and never check for nil themselves.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chanmux"

// Error kinds used as the "kind" label of ChannelErrors.
const (
	KindRouting    = "routing"
	KindCapability = "capability"
	KindType       = "type"
	KindEvaluation = "evaluation"
	KindTimeout    = "timeout"
	KindConnect    = "connect"
	KindInternal   = "internal"
)

// Collector holds all Prometheus metrics for the pipeline.
type Collector struct {
	// Channel metrics
	Channels    *prometheus.GaugeVec
	Readers     *prometheus.GaugeVec
	Writers     *prometheus.GaugeVec
	Connects    *prometheus.CounterVec
	Disconnects *prometheus.CounterVec

	// Error metrics
	ChannelErrors *prometheus.CounterVec

	// Notification metrics
	NotificationsDelivered prometheus.Counter
	NotificationsRejected  prometheus.Counter
	NotificationLatency    prometheus.Histogram

	// Handle metrics
	Leaks prometheus.Counter
}

// New creates a collector whose metrics are registered on reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		Channels: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channels",
				Help:      "Number of channel handlers cached per data source",
			},
			[]string{"datasource"},
		),
		Readers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "readers",
				Help:      "Number of attached readers per data source",
			},
			[]string{"datasource"},
		),
		Writers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "writers",
				Help:      "Number of attached writers per data source",
			},
			[]string{"datasource"},
		),
		Connects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_connects_total",
				Help:      "Total number of backend channel connects",
			},
			[]string{"datasource"},
		),
		Disconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_disconnects_total",
				Help:      "Total number of backend channel disconnects",
			},
			[]string{"datasource"},
		),
		ChannelErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors routed to collectors, by kind",
			},
			[]string{"kind"},
		),
		NotificationsDelivered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_delivered_total",
				Help:      "Total number of notifications delivered to handles",
			},
		),
		NotificationsRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_rejected_total",
				Help:      "Total number of notifications rejected while one was in flight",
			},
		),
		NotificationLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_duration_seconds",
				Help:      "Time from desired-rate event to completion of the user callback",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		Leaks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leaked_handles_total",
				Help:      "Total number of handles collected without being closed",
			},
		),
	}
}

// ChannelCreated records a new cached channel handler.
func (c *Collector) ChannelCreated(ds string) {
	if c == nil {
		return
	}
	c.Channels.WithLabelValues(ds).Inc()
}

// ChannelsReleased records that n cached handlers were dropped.
func (c *Collector) ChannelsReleased(ds string, n int) {
	if c == nil {
		return
	}
	c.Channels.WithLabelValues(ds).Sub(float64(n))
}

// ReaderAdded records an attached reader.
func (c *Collector) ReaderAdded(ds string) {
	if c == nil {
		return
	}
	c.Readers.WithLabelValues(ds).Inc()
}

// ReaderRemoved records a detached reader.
func (c *Collector) ReaderRemoved(ds string) {
	if c == nil {
		return
	}
	c.Readers.WithLabelValues(ds).Dec()
}

// WriterAdded records an attached writer.
func (c *Collector) WriterAdded(ds string) {
	if c == nil {
		return
	}
	c.Writers.WithLabelValues(ds).Inc()
}

// WriterRemoved records a detached writer.
func (c *Collector) WriterRemoved(ds string) {
	if c == nil {
		return
	}
	c.Writers.WithLabelValues(ds).Dec()
}

// Connected records a backend connect.
func (c *Collector) Connected(ds string) {
	if c == nil {
		return
	}
	c.Connects.WithLabelValues(ds).Inc()
}

// Disconnected records a backend disconnect.
func (c *Collector) Disconnected(ds string) {
	if c == nil {
		return
	}
	c.Disconnects.WithLabelValues(ds).Inc()
}

// Error records an error of the given kind.
func (c *Collector) Error(kind string) {
	if c == nil {
		return
	}
	c.ChannelErrors.WithLabelValues(kind).Inc()
}

// Delivered records a completed notification that took d.
func (c *Collector) Delivered(d time.Duration) {
	if c == nil {
		return
	}
	c.NotificationsDelivered.Inc()
	c.NotificationLatency.Observe(d.Seconds())
}

// Rejected records a notification rejected because one was in flight.
func (c *Collector) Rejected() {
	if c == nil {
		return
	}
	c.NotificationsRejected.Inc()
}

// Leaked records a handle that was collected without Close.
func (c *Collector) Leaked() {
	if c == nil {
		return
	}
	c.Leaks.Inc()
}
