// SPDX-License-Identifier: MIT

// Package metrics exposes the engine's Prometheus collectors. All metrics
// share the campaignd_ prefix and register on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamConnectionState reports the event stream connection as a
	// one-hot gauge over the state label.
	StreamConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "campaignd_stream_connection_state",
		Help: "Event stream connection state (1 for the current state, 0 otherwise)",
	}, []string{"state"})

	// StreamEventsTotal counts received stream frames by event type.
	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaignd_stream_events_total",
		Help: "Total event stream frames received by event type",
	}, []string{"type"})

	// StreamDecodeFailuresTotal counts frames that could not be decoded.
	StreamDecodeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaignd_stream_decode_failures_total",
		Help: "Total event stream frames skipped by failure reason",
	}, []string{"reason"})

	// StreamReconnectsTotal counts reconnect attempts.
	StreamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaignd_stream_reconnects_total",
		Help: "Total event stream reconnect attempts",
	})

	// StreamDisconnectsTotal counts connection losses by cause.
	StreamDisconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaignd_stream_disconnects_total",
		Help: "Total event stream disconnects by cause",
	}, []string{"cause"})
)

var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting", "failed"}

// SetStreamConnectionState flips the one-hot connection state gauge.
func SetStreamConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		StreamConnectionState.WithLabelValues(s).Set(v)
	}
}

// IncStreamEvent records a received frame of the given type.
func IncStreamEvent(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	StreamEventsTotal.WithLabelValues(eventType).Inc()
}

// IncStreamDecodeFailure records a skipped frame.
func IncStreamDecodeFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	StreamDecodeFailuresTotal.WithLabelValues(reason).Inc()
}
