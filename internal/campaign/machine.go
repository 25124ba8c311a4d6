// SPDX-License-Identifier: MIT

package campaign

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopstream/campaign-engine/internal/log"
)

// Effect describes the side effects an applied snapshot or event calls for.
// The machine itself only mutates its own state; the coordinator executes
// effects outside the machine.
type Effect struct {
	// FetchComponents asks for a fresh components snapshot: the campaign just
	// became effectively active and unpaused.
	FetchComponents bool

	// ClearComponents asks for the active-component set to be wiped: the
	// campaign ended, paused, or left its validity window.
	ClearComponents bool

	// Changed reports whether the apply moved any gating-relevant state.
	Changed bool
}

func (e Effect) merge(other Effect) Effect {
	return Effect{
		FetchComponents: e.FetchComponents || other.FetchComponents,
		ClearComponents: e.ClearComponents || other.ClearComponents,
		Changed:         e.Changed || other.Changed,
	}
}

// Machine tracks campaign lifecycle state and answers the gating question:
// may components render right now. It is safe for concurrent use; writes are
// additionally serialized by the coordinator.
type Machine struct {
	mu sync.RWMutex

	campaign     *Campaign
	state        State
	paused       bool
	active       bool // effective activity, date state modulated by events
	unrestricted bool

	logger zerolog.Logger
	now    func() time.Time
}

// NewMachine returns a machine in its pre-snapshot default: effectively
// active with no restrictions, so nothing is hidden before the first
// authoritative fetch resolves.
func NewMachine(logger zerolog.Logger) *Machine {
	return &Machine{
		state:  StateActive,
		active: true,
		logger: logger.With().Str(log.FieldComponent, "machine").Logger(),
		now:    time.Now,
	}
}

// SetUnrestricted switches the machine into ungated mode: no campaign
// governs this session and every component type may show. Used for the
// no-campaign sentinel and as the fail-open posture when campaign data is
// unavailable.
func (m *Machine) SetUnrestricted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrestricted = true
	m.campaign = nil
	m.state = StateActive
	m.paused = false
	m.active = true
	m.logger.Info().Msg("campaign gating disabled, all components unrestricted")
}

// Reset returns the machine to its pre-snapshot default.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaign = nil
	m.state = StateActive
	m.paused = false
	m.active = true
	m.unrestricted = false
}

// GateOpen reports whether components may render: either no campaign governs
// the session, or the campaign is effectively active, not paused, and not
// ended.
func (m *Machine) GateOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gateOpenLocked()
}

func (m *Machine) gateOpenLocked() bool {
	if m.unrestricted {
		return true
	}
	return m.active && !m.paused && m.state != StateEnded
}

// Unrestricted reports whether gating is bypassed entirely.
func (m *Machine) Unrestricted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unrestricted
}

// State returns the date-derived lifecycle state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Paused reports the pause flag.
func (m *Machine) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Campaign returns a copy of the last known campaign, or nil before any
// snapshot or event has arrived.
func (m *Machine) Campaign() *Campaign {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.campaign == nil {
		return nil
	}
	c := *m.campaign
	return &c
}

// ApplySnapshot folds an authoritative campaign fetch into the machine.
// Non-nil snapshot fields win over prior knowledge; the lifecycle state is
// recomputed from the merged dates.
func (m *Machine) ApplySnapshot(c Campaign) Effect {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasOpen := m.gateOpenLocked()

	merged := c
	if m.campaign != nil {
		merged = m.campaign.Merge(c)
	}
	m.campaign = &merged
	m.unrestricted = false
	m.state = merged.StateAt(m.now())
	m.paused = merged.Paused()
	m.active = m.state == StateActive

	eff := Effect{Changed: wasOpen != m.gateOpenLocked()}
	switch {
	case m.paused, m.state != StateActive:
		eff.ClearComponents = true
	default:
		eff.FetchComponents = true
	}

	m.logger.Info().
		Int(log.FieldCampaignID, merged.ID).
		Str(log.FieldStatus, m.state.String()).
		Bool(log.FieldPaused, m.paused).
		Msg("campaign snapshot applied")
	return eff
}

// Apply folds a lifecycle event into the machine. Component events do not
// touch lifecycle state and return a zero Effect; the coordinator routes
// them to the registry.
func (m *Machine) Apply(ev Event) Effect {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasOpen := m.gateOpenLocked()
	oldState := m.state

	var eff Effect
	switch e := ev.(type) {
	case CampaignStarted:
		m.applyStarted(e)
		eff.FetchComponents = true

	case CampaignEnded:
		m.ensureCampaignLocked(e.CampaignID)
		if t, err := parseOptionalTime(e.EndDate); err == nil && t != nil {
			merged := m.campaign.Merge(Campaign{EndDate: t})
			m.campaign = &merged
		}
		m.state = StateEnded
		m.active = false
		eff.ClearComponents = true

	case CampaignPaused:
		m.ensureCampaignLocked(e.CampaignID)
		m.paused = true
		m.active = false
		eff.ClearComponents = true

	case CampaignResumed:
		m.ensureCampaignLocked(e.CampaignID)
		m.paused = false
		if m.campaign != nil {
			m.state = m.campaign.StateAt(m.now())
		}
		if m.state == StateActive {
			m.active = true
			eff.FetchComponents = true
		}

	default:
		return Effect{}
	}

	eff.Changed = wasOpen != m.gateOpenLocked() || oldState != m.state

	m.logger.Info().
		Str(log.FieldEvent, ev.EventType()).
		Str(log.FieldOldState, oldState.String()).
		Str(log.FieldNewState, m.state.String()).
		Bool(log.FieldPaused, m.paused).
		Msg("campaign event applied")
	return eff
}

func (m *Machine) applyStarted(e CampaignStarted) {
	update := Campaign{ID: e.CampaignID}
	if t, err := parseOptionalTime(e.StartDate); err == nil {
		update.StartDate = t
	}
	if t, err := parseOptionalTime(e.EndDate); err == nil {
		update.EndDate = t
	}
	unpaused := false
	update.IsPaused = &unpaused

	m.ensureCampaignLocked(e.CampaignID)
	merged := m.campaign.Merge(update)
	m.campaign = &merged
	m.state = StateActive
	m.paused = false
	m.active = true
}

// ensureCampaignLocked synthesizes a partial campaign when an event arrives
// before any snapshot, so later snapshots have something to merge into.
func (m *Machine) ensureCampaignLocked(id int) {
	if m.campaign == nil {
		m.campaign = &Campaign{ID: id}
		return
	}
	if id != 0 {
		m.campaign.ID = id
	}
}
