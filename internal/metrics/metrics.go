// ABOUTME: Prometheus collectors for channel and stream health.
// ABOUTME: Registered via promauto on the default registry.

// Package metrics exposes prometheus collectors for the client's transport
// and streaming layers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChannelConnected tracks whether each channel is currently open (0/1).
	ChannelConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "loom_channel_connected",
		Help: "Whether the channel socket is currently open (1) or not (0)",
	}, []string{"channel"})

	// ReconnectsTotal counts reconnect attempts per channel.
	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_channel_reconnects_total",
		Help: "Reconnect attempts per channel",
	}, []string{"channel"})

	// CommandsQueued tracks the outbound queue depth.
	CommandsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loom_commands_queued",
		Help: "Commands waiting in the outbound queue",
	})

	// CommandsSentTotal counts commands submitted, by type.
	CommandsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_commands_sent_total",
		Help: "Commands submitted to the outbound channel, by type",
	}, []string{"type"})

	// EventsTotal counts inbound events dispatched, by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_events_total",
		Help: "Inbound events dispatched, by type",
	}, []string{"type"})

	// ProtocolErrorsTotal counts unparseable inbound frames.
	ProtocolErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_protocol_errors_total",
		Help: "Inbound frames rejected as contract violations",
	})

	// ActiveStreams tracks concurrently active content streams.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loom_streams_active",
		Help: "Content streams currently active",
	})

	// StreamBytesTotal counts content bytes delivered to callers.
	StreamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_stream_bytes_total",
		Help: "Content bytes delivered to stream callers",
	})

	// StreamTruncationsTotal counts streams truncated at the memory cap.
	StreamTruncationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_stream_truncations_total",
		Help: "Streams truncated at the per-stream memory cap",
	})

	// StreamPreemptionsTotal counts low-priority streams cancelled to admit
	// high-priority ones.
	StreamPreemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_stream_preemptions_total",
		Help: "Low-priority streams cancelled to admit high-priority ones",
	})

	// StreamTimeoutsTotal counts streams reaped by the idle sweep.
	StreamTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_stream_timeouts_total",
		Help: "Streams reaped after exceeding the idle timeout",
	})
)
