// SPDX-License-Identifier: MIT

// Package coordinator wires the engine together: it owns the state machine
// and the component registry, drives them from backend snapshots and stream
// events, persists snapshots for warm starts, and publishes changes on the
// bus. All state mutation funnels through the coordinator's mutex.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/shopstream/campaign-engine/internal/backend"
	"github.com/shopstream/campaign-engine/internal/bus"
	"github.com/shopstream/campaign-engine/internal/cache"
	"github.com/shopstream/campaign-engine/internal/campaign"
	"github.com/shopstream/campaign-engine/internal/log"
	"github.com/shopstream/campaign-engine/internal/metrics"
	"github.com/shopstream/campaign-engine/internal/stream"
)

// Store keys, scoped by the store's own prefix.
const (
	keyConfigHash = "meta:config_hash"
	keyCampaign   = "snapshot:campaign"
	keyComponents = "snapshot:components"
)

// snapCacheKey addresses the in-memory snapshot cache.
const snapCacheKey = "campaign"

// Backend fetches campaign data over REST.
type Backend interface {
	Campaign(ctx context.Context, id int) (campaign.Campaign, error)
	Components(ctx context.Context, id int) ([]campaign.Component, error)
}

// EventSource is a connected event stream. stream.Client implements it.
// Sources are single-use: after a terminal status a new one is built.
type EventSource interface {
	Connect(ctx context.Context) error
	Disconnect()
	Events() <-chan campaign.Event
	StatusChanges() <-chan stream.Status
}

// Publisher is the notification sink. *bus.Bus implements it.
type Publisher interface {
	Publish(topic string, payload any)
}

// StateChange is the payload on bus.TopicCampaignState.
type StateChange struct {
	CampaignID int    `json:"campaignId"`
	State      string `json:"state"`
	Paused     bool   `json:"paused"`
	GateOpen   bool   `json:"gateOpen"`
}

// ComponentChange is the payload on bus.TopicComponentChanged.
type ComponentChange struct {
	ComponentID string `json:"componentId"`
	Type        string `json:"type,omitempty"`
	Active      bool   `json:"active"`
}

// Config holds the coordinator settings.
type Config struct {
	CampaignID int
	CacheTTL   time.Duration

	// ConfigHash fingerprints the gating-relevant configuration. Persisted
	// snapshots written under a different hash are discarded.
	ConfigHash string

	// RefreshMinInterval throttles the post-reconnect snapshot refresh.
	// Zero defaults to 30 seconds.
	RefreshMinInterval time.Duration
}

// Coordinator drives the campaign engine.
type Coordinator struct {
	cfg       Config
	backend   Backend
	newSource func() EventSource
	store     cache.Store
	publisher Publisher
	logger    zerolog.Logger

	machine  *campaign.Machine
	registry *campaign.Registry

	// snapCache keeps the last applied campaign snapshot in memory so a
	// reinitialize within the TTL starts warm before the backend answers.
	snapCache *cache.Cache[string, campaign.Campaign]

	refresh *rate.Limiter

	mu           sync.Mutex
	source       EventSource
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	started      bool
	everSynced   bool
	streamStatus stream.Status
}

// New builds a Coordinator. newSource is called for every (re)connect; it
// must return a fresh EventSource each time.
func New(cfg Config, be Backend, newSource func() EventSource, store cache.Store, pub Publisher, logger zerolog.Logger) *Coordinator {
	if cfg.RefreshMinInterval <= 0 {
		cfg.RefreshMinInterval = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	l := logger.With().Str(log.FieldComponent, "coordinator").Logger()
	m := campaign.NewMachine(logger)
	return &Coordinator{
		cfg:          cfg,
		backend:      be,
		newSource:    newSource,
		store:        store,
		publisher:    pub,
		logger:       l,
		machine:      m,
		registry:     campaign.NewRegistry(m, logger),
		snapCache:    cache.New[string, campaign.Campaign](0),
		refresh:      rate.NewLimiter(rate.Every(cfg.RefreshMinInterval), 1),
		streamStatus: stream.StatusDisconnected,
	}
}

// Registry exposes the active-component set for read-side consumers.
func (c *Coordinator) Registry() *campaign.Registry {
	return c.registry
}

// Start brings the engine up: warm start from the persistent store, fresh
// snapshot fetch (failing open when the backend cannot answer), then the
// event stream. With the no-campaign sentinel it only disables gating.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("coordinator: already started")
	}
	c.started = true

	if c.cfg.CampaignID == campaign.NoCampaignID {
		c.machine.SetUnrestricted()
		c.publishState()
		c.logger.Info().Msg("no campaign configured, engine idle")
		return nil
	}

	c.checkConfigHash(ctx)
	if c.warmStart(ctx) {
		// Fresh enough to skip the backend round trip. Reconnect refreshes
		// and stream events keep the data current from here.
		c.everSynced = true
		c.publishState()
	} else {
		c.syncSnapshot(ctx)
	}
	// Drain the initial limiter token: the first Connected status follows
	// right behind this sync and must not trigger a second fetch.
	c.refresh.Allow()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.source = c.newSource()
	if err := c.source.Connect(runCtx); err != nil {
		cancel()
		return fmt.Errorf("coordinator: connect stream: %w", err)
	}

	c.wg.Add(1)
	go c.loop(runCtx, c.source)
	return nil
}

// Close stops the stream and waits for the event loop to drain.
func (c *Coordinator) Close() {
	c.mu.Lock()
	source := c.source
	cancel := c.cancel
	c.source = nil
	c.cancel = nil
	c.started = false
	c.mu.Unlock()

	if source != nil {
		source.Disconnect()
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.snapCache.Stop()
}

// Reinitialize tears the stream down and runs the start sequence again.
// Used after a config reload and to leave a terminal stream failure.
func (c *Coordinator) Reinitialize(ctx context.Context) error {
	c.logger.Info().Msg("reinitializing")
	c.Close()

	c.mu.Lock()
	c.machine.Reset()
	c.registry.Clear()
	c.everSynced = false
	c.mu.Unlock()

	return c.Start(ctx)
}

// Snapshot is the read-side view for status endpoints.
type Snapshot struct {
	CampaignID   int                  `json:"campaignId"`
	Unrestricted bool                 `json:"unrestricted"`
	State        campaign.State       `json:"state"`
	Paused       bool                 `json:"paused"`
	GateOpen     bool                 `json:"gateOpen"`
	StreamStatus stream.Status        `json:"streamStatus"`
	Components   []campaign.Component `json:"components"`
}

// Status returns the current engine view.
func (c *Coordinator) Status() Snapshot {
	c.mu.Lock()
	st := c.streamStatus
	c.mu.Unlock()
	return Snapshot{
		CampaignID:   c.cfg.CampaignID,
		Unrestricted: c.machine.Unrestricted(),
		State:        c.machine.State(),
		Paused:       c.machine.Paused(),
		GateOpen:     c.machine.GateOpen(),
		StreamStatus: st,
		Components:   c.registry.ActiveComponents(),
	}
}

// checkConfigHash wipes persisted snapshots that were written under a
// different configuration.
func (c *Coordinator) checkConfigHash(ctx context.Context) {
	stored, err := c.store.Get(ctx, keyConfigHash)
	if err == nil && string(stored) == c.cfg.ConfigHash {
		return
	}
	if err != nil && !errors.Is(err, cache.ErrStoreMiss) {
		c.logger.Warn().Err(err).Msg("config hash lookup failed")
	}

	c.logger.Info().Msg("configuration changed, discarding persisted snapshots")
	metrics.IncCacheOp("invalidate")
	_ = c.store.Delete(ctx, keyCampaign)
	_ = c.store.Delete(ctx, keyComponents)
	if err := c.store.Set(ctx, keyConfigHash, []byte(c.cfg.ConfigHash), c.cfg.CacheTTL); err != nil {
		c.logger.Warn().Err(err).Msg("config hash persist failed")
	}
}

// warmStart applies the last known snapshot, preferring the in-memory cache
// over the persistent store. Returns true when warm data was applied; both
// layers enforce the snapshot TTL.
func (c *Coordinator) warmStart(ctx context.Context) bool {
	camp, ok := c.snapCache.Get(snapCacheKey)
	if !ok {
		data, err := c.store.Get(ctx, keyCampaign)
		if err != nil {
			if !errors.Is(err, cache.ErrStoreMiss) {
				c.logger.Warn().Err(err).Msg("warm start lookup failed")
			}
			metrics.IncCacheOp("miss")
			return false
		}
		if err := json.Unmarshal(data, &camp); err != nil {
			c.logger.Warn().Err(err).Msg("persisted snapshot unreadable, discarding")
			_ = c.store.Delete(ctx, keyCampaign)
			_ = c.store.Delete(ctx, keyComponents)
			return false
		}
	}

	metrics.IncCacheOp("hit")
	eff := c.machine.ApplySnapshot(camp)
	c.updateGauges()

	if !eff.ClearComponents {
		if compData, err := c.store.Get(ctx, keyComponents); err == nil {
			var comps []campaign.Component
			if err := json.Unmarshal(compData, &comps); err == nil {
				c.registry.ReplaceAll(comps)
				metrics.ActiveComponents.Set(float64(len(c.registry.ActiveComponents())))
			}
		}
	}
	c.logger.Info().Int(log.FieldCampaignID, camp.ID).Msg("warm start from cached snapshot")
	return true
}

// syncSnapshot fetches the authoritative campaign state. Fetch failures and
// an unknown campaign fail open: gating is disabled rather than blocking
// every component on backend trouble.
func (c *Coordinator) syncSnapshot(ctx context.Context) {
	camp, err := c.backend.Campaign(ctx, c.cfg.CampaignID)
	if err != nil {
		outcome := "error"
		if errors.Is(err, backend.ErrNotFound) {
			outcome = "not_found"
			c.logger.Info().Int(log.FieldCampaignID, c.cfg.CampaignID).
				Msg("campaign unknown to backend, failing open")
		} else {
			c.logger.Warn().Err(err).Msg("campaign fetch failed, failing open")
		}
		metrics.IncFetch("campaign", outcome)
		c.machine.SetUnrestricted()
		c.registry.Clear()
		c.updateGauges()
		c.publishState()
		c.everSynced = true
		return
	}

	metrics.IncFetch("campaign", "ok")
	c.applySnapshot(ctx, camp)
	c.everSynced = true
}

// applySnapshot folds a fetched campaign in and executes the effects.
func (c *Coordinator) applySnapshot(ctx context.Context, camp campaign.Campaign) {
	eff := c.machine.ApplySnapshot(camp)
	c.persistCampaign(ctx)
	c.snapCache.Set(snapCacheKey, camp, c.cfg.CacheTTL)
	metrics.IncCacheOp("set")
	c.runEffects(ctx, eff)
	c.publishState()
}

func (c *Coordinator) runEffects(ctx context.Context, eff campaign.Effect) {
	if eff.ClearComponents {
		c.registry.Clear()
		_ = c.store.Delete(ctx, keyComponents)
	}
	if eff.FetchComponents {
		c.fetchComponents(ctx)
	}
	c.updateGauges()
}

// fetchComponents replaces the active set from the backend. Failures keep
// the current set; a follow-up event or reconnect refresh will heal it.
func (c *Coordinator) fetchComponents(ctx context.Context) {
	comps, err := c.backend.Components(ctx, c.cfg.CampaignID)
	if err != nil {
		metrics.IncFetch("components", "error")
		c.logger.Warn().Err(err).Msg("components fetch failed, keeping current set")
		return
	}
	metrics.IncFetch("components", "ok")
	c.registry.ReplaceAll(comps)
	c.persistComponents(ctx)
	c.updateGauges()
}

func (c *Coordinator) persistCampaign(ctx context.Context) {
	camp := c.machine.Campaign()
	if camp == nil {
		return
	}
	data, err := json.Marshal(camp)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, keyCampaign, data, c.cfg.CacheTTL); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, keyCampaign).Msg("snapshot persist failed")
	}
}

func (c *Coordinator) persistComponents(ctx context.Context) {
	data, err := json.Marshal(c.registry.ActiveComponents())
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, keyComponents, data, c.cfg.CacheTTL); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldCacheKey, keyComponents).Msg("components persist failed")
	}
}

// loop consumes events and status changes until the context ends.
func (c *Coordinator) loop(ctx context.Context, source EventSource) {
	defer c.wg.Done()

	events := source.Events()
	statuses := source.StatusChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Terminal: the status channel carries the final state.
				events = nil
				continue
			}
			c.handleEvent(ctx, ev)
		case st := <-statuses:
			c.handleStatus(ctx, st)
		}
	}
}

func (c *Coordinator) handleStatus(ctx context.Context, st stream.Status) {
	c.mu.Lock()
	prev := c.streamStatus
	c.streamStatus = st
	synced := c.everSynced
	c.mu.Unlock()

	if st == prev {
		return
	}
	c.publisher.Publish(bus.TopicStreamStatus, st)

	switch st {
	case stream.StatusConnected:
		// Events may have been missed while disconnected. Refresh, but not
		// on a flapping connection.
		if synced && c.refresh.Allow() {
			c.mu.Lock()
			c.syncSnapshot(ctx)
			c.mu.Unlock()
		}
	case stream.StatusFailed:
		c.logger.Error().Msg("event stream failed terminally, state frozen until reinitialize")
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, ev campaign.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case campaign.ComponentStatusChanged:
		c.handleComponentStatus(ctx, e)
	case campaign.ComponentConfigUpdated:
		c.handleComponentConfig(ctx, e)
	default:
		eff := c.machine.Apply(ev)
		c.persistCampaign(ctx)
		c.runEffects(ctx, eff)
		if eff.Changed {
			c.publishState()
		}
	}
}

func (c *Coordinator) handleComponentStatus(ctx context.Context, e campaign.ComponentStatusChanged) {
	active := e.Status == campaign.StatusActive
	applied := false
	switch {
	case !active:
		c.registry.Deactivate(e.ComponentID)
		applied = true
	case e.Component != nil:
		applied = c.registry.Activate(*e.Component)
		if applied {
			metrics.IncActivation("applied")
		} else {
			metrics.IncActivation("ignored")
		}
	default:
		// Bare toggle without a payload: refetch the list for the data.
		if c.machine.GateOpen() {
			c.fetchComponents(ctx)
		} else {
			metrics.IncActivation("ignored")
		}
	}
	if !applied {
		return
	}

	c.persistComponents(ctx)
	c.updateGauges()
	c.publisher.Publish(bus.TopicComponentChanged, ComponentChange{
		ComponentID: e.ComponentID,
		Type:        componentType(e.Component),
		Active:      active,
	})
}

func (c *Coordinator) handleComponentConfig(ctx context.Context, e campaign.ComponentConfigUpdated) {
	applied := false
	if e.Component != nil {
		applied = c.registry.Update(*e.Component)
	} else if c.machine.GateOpen() {
		c.fetchComponents(ctx)
		applied = true
	}
	if !applied {
		return
	}

	c.persistComponents(ctx)
	c.publisher.Publish(bus.TopicComponentChanged, ComponentChange{
		ComponentID: e.ComponentID,
		Type:        componentType(e.Component),
		Active:      true,
	})
}

func (c *Coordinator) publishState() {
	var id int
	if camp := c.machine.Campaign(); camp != nil {
		id = camp.ID
	}
	c.publisher.Publish(bus.TopicCampaignState, StateChange{
		CampaignID: id,
		State:      c.machine.State().String(),
		Paused:     c.machine.Paused(),
		GateOpen:   c.machine.GateOpen(),
	})
}

func (c *Coordinator) updateGauges() {
	metrics.SetGateOpen(c.machine.GateOpen())
	metrics.SetCampaignState(c.machine.State().String())
	metrics.ActiveComponents.Set(float64(len(c.registry.ActiveComponents())))
}

func componentType(comp *campaign.Component) string {
	if comp == nil {
		return ""
	}
	return comp.Type
}
