// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BusDropsTotal counts in-memory bus message drops (backpressure).
	BusDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaignd_bus_drops_total",
		Help: "Total in-memory bus message drops by topic",
	}, []string{"topic"})

	// BusPublishedTotal counts delivered bus messages by topic.
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaignd_bus_published_total",
		Help: "Total bus messages delivered by topic",
	}, []string{"topic"})

	// CacheOpsTotal counts snapshot cache operations by outcome.
	CacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaignd_cache_ops_total",
		Help: "Total snapshot cache operations by outcome (hit, miss, set, invalidate)",
	}, []string{"outcome"})
)

// IncBusDrop records a dropped bus message for the given topic.
func IncBusDrop(topic string) {
	if topic == "" {
		topic = "unknown"
	}
	BusDropsTotal.WithLabelValues(topic).Inc()
}

// IncBusPublished records a delivered bus message.
func IncBusPublished(topic string) {
	if topic == "" {
		topic = "unknown"
	}
	BusPublishedTotal.WithLabelValues(topic).Inc()
}

// IncCacheOp records a snapshot cache operation outcome.
func IncCacheOp(outcome string) {
	CacheOpsTotal.WithLabelValues(outcome).Inc()
}
