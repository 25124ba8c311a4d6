// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CampaignGateOpen reports whether components may currently render.
	CampaignGateOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campaignd_gate_open",
		Help: "Whether the component gate is open (1) or closed (0)",
	})

	// CampaignStateInfo reports the lifecycle state as a one-hot gauge.
	CampaignStateInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "campaignd_campaign_state",
		Help: "Campaign lifecycle state (1 for the current state, 0 otherwise)",
	}, []string{"state"})

	// ActiveComponents reports the size of the active component set.
	ActiveComponents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campaignd_active_components",
		Help: "Number of currently active components",
	})

	// ActivationsTotal counts component activation attempts by outcome.
	ActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaignd_component_activations_total",
		Help: "Total component activation attempts by outcome",
	}, []string{"outcome"})

	// FetchesTotal counts backend fetches by resource and outcome.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaignd_backend_fetches_total",
		Help: "Total backend fetches by resource and outcome",
	}, []string{"resource", "outcome"})
)

var campaignStates = []string{"upcoming", "active", "ended"}

// SetCampaignState flips the one-hot lifecycle state gauge.
func SetCampaignState(state string) {
	for _, s := range campaignStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		CampaignStateInfo.WithLabelValues(s).Set(v)
	}
}

// SetGateOpen records the gating outcome.
func SetGateOpen(open bool) {
	if open {
		CampaignGateOpen.Set(1)
	} else {
		CampaignGateOpen.Set(0)
	}
}

// IncActivation records an activation attempt outcome (applied, ignored).
func IncActivation(outcome string) {
	ActivationsTotal.WithLabelValues(outcome).Inc()
}

// IncFetch records a backend fetch outcome (ok, not_found, error).
func IncFetch(resource, outcome string) {
	FetchesTotal.WithLabelValues(resource, outcome).Inc()
}
