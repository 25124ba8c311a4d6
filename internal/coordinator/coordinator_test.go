// SPDX-License-Identifier: MIT

package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shopstream/campaign-engine/internal/backend"
	"github.com/shopstream/campaign-engine/internal/bus"
	"github.com/shopstream/campaign-engine/internal/cache"
	"github.com/shopstream/campaign-engine/internal/campaign"
	"github.com/shopstream/campaign-engine/internal/stream"
)

// fakeBackend serves canned campaign data and counts calls.
type fakeBackend struct {
	mu            sync.Mutex
	campaign      campaign.Campaign
	campaignErr   error
	components    []campaign.Component
	componentsErr error

	campaignCalls   atomic.Int32
	componentsCalls atomic.Int32
}

func (f *fakeBackend) Campaign(context.Context, int) (campaign.Campaign, error) {
	f.campaignCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.campaign, f.campaignErr
}

func (f *fakeBackend) Components(context.Context, int) ([]campaign.Component, error) {
	f.componentsCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]campaign.Component(nil), f.components...), f.componentsErr
}

// fakeSource is a hand-driven event stream.
type fakeSource struct {
	events   chan campaign.Event
	statuses chan stream.Status

	connectCalls    atomic.Int32
	disconnectCalls atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events:   make(chan campaign.Event, 16),
		statuses: make(chan stream.Status, 16),
	}
}

func (f *fakeSource) Connect(context.Context) error { f.connectCalls.Add(1); return nil }
func (f *fakeSource) Disconnect() {
	if f.disconnectCalls.Add(1) == 1 {
		close(f.events)
	}
}
func (f *fakeSource) Events() <-chan campaign.Event       { return f.events }
func (f *fakeSource) StatusChanges() <-chan stream.Status { return f.statuses }
func (f *fakeSource) emit(ev campaign.Event)              { f.events <- ev }
func (f *fakeSource) setStatus(s stream.Status)           { f.statuses <- s }

// recordingPublisher collects bus notifications.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []bus.Notification
}

func (p *recordingPublisher) Publish(topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, bus.Notification{Topic: topic, Payload: payload})
}

func (p *recordingPublisher) byTopic(topic string) []bus.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bus.Notification
	for _, m := range p.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	coord   *Coordinator
	backend *fakeBackend
	source  *fakeSource
	store   *cache.MemoryStore
	pub     *recordingPublisher
}

func newFixture(t *testing.T, cfg Config, be *fakeBackend) *fixture {
	t.Helper()
	f := &fixture{
		backend: be,
		source:  newFakeSource(),
		store:   cache.NewMemoryStore(),
		pub:     &recordingPublisher{},
	}
	if cfg.ConfigHash == "" {
		cfg.ConfigHash = "testhash"
	}
	f.coord = New(cfg, be, func() EventSource { return f.source }, f.store, f.pub, zerolog.Nop())
	t.Cleanup(f.coord.Close)
	return f
}

func activeWindow(now time.Time) campaign.Campaign {
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	return campaign.Campaign{ID: 14, StartDate: &start, EndDate: &end}
}

func bannerComponent(id string) campaign.Component {
	return campaign.Component{ID: id, Type: "product_banner", Status: campaign.StatusActive}
}

func TestCoordinator_SentinelDisablesEverything(t *testing.T) {
	be := &fakeBackend{}
	f := newFixture(t, Config{CampaignID: campaign.NoCampaignID}, be)

	require.NoError(t, f.coord.Start(context.Background()))

	assert.Zero(t, be.campaignCalls.Load(), "sentinel id must not fetch")
	assert.Zero(t, f.source.connectCalls.Load(), "sentinel id must not open a stream")
	assert.True(t, f.coord.Registry().IsTypeVisible("anything"), "every type visible by default")

	st := f.coord.Status()
	assert.True(t, st.Unrestricted)
	assert.True(t, st.GateOpen)
}

func TestCoordinator_StartFetchesAndActivates(t *testing.T) {
	be := &fakeBackend{
		campaign:   activeWindow(time.Now()),
		components: []campaign.Component{bannerComponent("15")},
	}
	f := newFixture(t, Config{CampaignID: 14}, be)

	require.NoError(t, f.coord.Start(context.Background()))

	assert.Equal(t, int32(1), be.campaignCalls.Load())
	assert.Equal(t, int32(1), be.componentsCalls.Load())
	assert.Equal(t, int32(1), f.source.connectCalls.Load())

	st := f.coord.Status()
	assert.True(t, st.GateOpen)
	assert.False(t, st.Unrestricted)
	assert.Equal(t, campaign.StateActive, st.State)
	require.Len(t, st.Components, 1)
	assert.Equal(t, "15", st.Components[0].ID)

	// Snapshot and components are persisted for the next cold start.
	_, err := f.store.Get(context.Background(), keyCampaign)
	assert.NoError(t, err)
	_, err = f.store.Get(context.Background(), keyComponents)
	assert.NoError(t, err)

	states := f.pub.byTopic(bus.TopicCampaignState)
	require.NotEmpty(t, states)
	change := states[len(states)-1].Payload.(StateChange)
	assert.True(t, change.GateOpen)
	assert.Equal(t, 14, change.CampaignID)
}

func TestCoordinator_FailsOpenOnFetchError(t *testing.T) {
	be := &fakeBackend{campaignErr: backend.ErrUnavailable}
	f := newFixture(t, Config{CampaignID: 14}, be)

	require.NoError(t, f.coord.Start(context.Background()))

	st := f.coord.Status()
	assert.True(t, st.Unrestricted, "fetch failure must fail open, not closed")
	assert.True(t, f.coord.Registry().IsTypeVisible("product_banner"))
	assert.Equal(t, int32(1), f.source.connectCalls.Load(),
		"the stream still connects so a later campaign_started can restore gating")
}

func TestCoordinator_FailsOpenOnUnknownCampaign(t *testing.T) {
	be := &fakeBackend{campaignErr: backend.ErrNotFound}
	f := newFixture(t, Config{CampaignID: 99}, be)

	require.NoError(t, f.coord.Start(context.Background()))
	assert.True(t, f.coord.Status().Unrestricted)
}

func TestCoordinator_PauseClearsResumeRefetchesOnce(t *testing.T) {
	be := &fakeBackend{
		campaign:   activeWindow(time.Now()),
		components: []campaign.Component{bannerComponent("15")},
	}
	f := newFixture(t, Config{CampaignID: 14}, be)
	require.NoError(t, f.coord.Start(context.Background()))
	require.Equal(t, int32(1), be.componentsCalls.Load())

	f.source.emit(campaign.CampaignPaused{CampaignID: 14})
	require.Eventually(t, func() bool {
		return !f.coord.Status().GateOpen
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.coord.Status().Components, "pause clears the active set")

	f.source.emit(campaign.CampaignResumed{CampaignID: 14})
	require.Eventually(t, func() bool {
		return f.coord.Status().GateOpen
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(2), be.componentsCalls.Load(), "resume refetches exactly once")
	require.Len(t, f.coord.Status().Components, 1)
}

func TestCoordinator_StaleActivationIgnored(t *testing.T) {
	paused := true
	be := &fakeBackend{campaign: campaign.Campaign{ID: 14, IsPaused: &paused}}
	f := newFixture(t, Config{CampaignID: 14}, be)
	require.NoError(t, f.coord.Start(context.Background()))
	require.False(t, f.coord.Status().GateOpen)

	comp := bannerComponent("15")
	f.source.emit(campaign.ComponentStatusChanged{ComponentID: "15", Status: campaign.StatusActive, Component: &comp})

	// Give the loop time to (wrongly) apply it.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.coord.Status().Components, "activation while gated must be dropped")
	assert.False(t, f.coord.Registry().IsTypeVisible("product_banner"))
}

func TestCoordinator_StaleActivationAfterEnded(t *testing.T) {
	be := &fakeBackend{campaign: activeWindow(time.Now())}
	f := newFixture(t, Config{CampaignID: 14}, be)
	require.NoError(t, f.coord.Start(context.Background()))
	require.True(t, f.coord.Status().GateOpen)

	comp := bannerComponent("15")
	f.source.emit(campaign.ComponentStatusChanged{ComponentID: "15", Status: campaign.StatusActive, Component: &comp})
	require.Eventually(t, func() bool {
		return f.coord.Registry().IsTypeVisible("product_banner")
	}, time.Second, 5*time.Millisecond)

	f.source.emit(campaign.CampaignEnded{CampaignID: 14})
	require.Eventually(t, func() bool {
		return !f.coord.Status().GateOpen
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.coord.Status().Components, "ending the campaign wipes the active set")

	// A stale duplicate of the earlier activation arrives after the end.
	f.source.emit(campaign.ComponentStatusChanged{ComponentID: "15", Status: campaign.StatusActive, Component: &comp})
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, f.coord.Status().Components, "activation after campaign end must be dropped")
	assert.False(t, f.coord.Registry().IsTypeVisible("product_banner"))
}

func TestCoordinator_ComponentToggle(t *testing.T) {
	be := &fakeBackend{campaign: activeWindow(time.Now())}
	f := newFixture(t, Config{CampaignID: 14}, be)
	require.NoError(t, f.coord.Start(context.Background()))

	comp := bannerComponent("15")
	f.source.emit(campaign.ComponentStatusChanged{ComponentID: "15", Status: campaign.StatusActive, Component: &comp})
	require.Eventually(t, func() bool {
		return f.coord.Registry().IsTypeVisible("product_banner")
	}, time.Second, 5*time.Millisecond)

	f.source.emit(campaign.ComponentStatusChanged{ComponentID: "15", Status: campaign.StatusInactive})
	require.Eventually(t, func() bool {
		return !f.coord.Registry().IsTypeVisible("product_banner")
	}, time.Second, 5*time.Millisecond)

	changes := f.pub.byTopic(bus.TopicComponentChanged)
	require.Len(t, changes, 2)
	assert.True(t, changes[0].Payload.(ComponentChange).Active)
	assert.False(t, changes[1].Payload.(ComponentChange).Active)
}

func TestCoordinator_BareToggleTriggersRefetch(t *testing.T) {
	be := &fakeBackend{
		campaign:   activeWindow(time.Now()),
		components: []campaign.Component{bannerComponent("15")},
	}
	f := newFixture(t, Config{CampaignID: 14}, be)
	require.NoError(t, f.coord.Start(context.Background()))
	calls := be.componentsCalls.Load()

	// No payload on the frame, so the list is refetched for the data.
	f.source.emit(campaign.ComponentStatusChanged{ComponentID: "16", Status: campaign.StatusActive})

	require.Eventually(t, func() bool {
		return be.componentsCalls.Load() == calls+1
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_ConfigUpdateInPlace(t *testing.T) {
	be := &fakeBackend{
		campaign:   activeWindow(time.Now()),
		components: []campaign.Component{bannerComponent("15")},
	}
	f := newFixture(t, Config{CampaignID: 14}, be)
	require.NoError(t, f.coord.Start(context.Background()))

	updated := bannerComponent("15")
	updated.Config = json.RawMessage(`{"color":"blue"}`)
	f.source.emit(campaign.ComponentConfigUpdated{ComponentID: "15", Component: &updated})

	require.Eventually(t, func() bool {
		c, ok := f.coord.Registry().ActiveByID("15")
		return ok && string(c.Config) == `{"color":"blue"}`
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_WarmStartSkipsBackend(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	camp := activeWindow(time.Now())
	campData, _ := json.Marshal(camp)
	compData, _ := json.Marshal([]campaign.Component{bannerComponent("15")})
	require.NoError(t, store.Set(ctx, keyConfigHash, []byte("testhash"), time.Hour))
	require.NoError(t, store.Set(ctx, keyCampaign, campData, time.Hour))
	require.NoError(t, store.Set(ctx, keyComponents, compData, time.Hour))

	be := &fakeBackend{campaignErr: backend.ErrUnavailable}
	f := &fixture{backend: be, source: newFakeSource(), store: store, pub: &recordingPublisher{}}
	f.coord = New(Config{CampaignID: 14, ConfigHash: "testhash"}, be,
		func() EventSource { return f.source }, store, f.pub, zerolog.Nop())
	t.Cleanup(f.coord.Close)

	require.NoError(t, f.coord.Start(ctx))

	assert.Zero(t, be.campaignCalls.Load(), "fresh persisted snapshot skips the fetch")
	st := f.coord.Status()
	assert.True(t, st.GateOpen)
	assert.False(t, st.Unrestricted)
	require.Len(t, st.Components, 1)
}

func TestCoordinator_ConfigHashChangeDiscardsSnapshots(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	campData, _ := json.Marshal(activeWindow(time.Now()))
	require.NoError(t, store.Set(ctx, keyConfigHash, []byte("oldhash"), time.Hour))
	require.NoError(t, store.Set(ctx, keyCampaign, campData, time.Hour))

	be := &fakeBackend{campaign: activeWindow(time.Now())}
	f := &fixture{backend: be, source: newFakeSource(), store: store, pub: &recordingPublisher{}}
	f.coord = New(Config{CampaignID: 14, ConfigHash: "newhash"}, be,
		func() EventSource { return f.source }, store, f.pub, zerolog.Nop())
	t.Cleanup(f.coord.Close)

	require.NoError(t, f.coord.Start(ctx))

	assert.Equal(t, int32(1), be.campaignCalls.Load(),
		"snapshots from another configuration must not warm-start")
	hash, err := store.Get(ctx, keyConfigHash)
	require.NoError(t, err)
	assert.Equal(t, "newhash", string(hash))
}

func TestCoordinator_ReconnectRefreshesSnapshot(t *testing.T) {
	be := &fakeBackend{campaign: activeWindow(time.Now())}
	f := newFixture(t, Config{CampaignID: 14, RefreshMinInterval: time.Millisecond}, be)
	require.NoError(t, f.coord.Start(context.Background()))
	require.Equal(t, int32(1), be.campaignCalls.Load())

	time.Sleep(10 * time.Millisecond) // let the limiter recover
	f.source.setStatus(stream.StatusReconnecting)
	f.source.setStatus(stream.StatusConnected)

	require.Eventually(t, func() bool {
		return be.campaignCalls.Load() == 2
	}, time.Second, 5*time.Millisecond, "reconnect must refresh the snapshot")
}

func TestCoordinator_TerminalStreamFailureKeepsState(t *testing.T) {
	be := &fakeBackend{
		campaign:   activeWindow(time.Now()),
		components: []campaign.Component{bannerComponent("15")},
	}
	f := newFixture(t, Config{CampaignID: 14}, be)
	require.NoError(t, f.coord.Start(context.Background()))

	f.source.setStatus(stream.StatusFailed)
	require.Eventually(t, func() bool {
		return f.coord.Status().StreamStatus == stream.StatusFailed
	}, time.Second, 5*time.Millisecond)

	assert.True(t, f.coord.Status().GateOpen, "last known state survives a dead stream")
	require.Len(t, f.coord.Status().Components, 1)

	statuses := f.pub.byTopic(bus.TopicStreamStatus)
	require.NotEmpty(t, statuses)
	assert.Equal(t, stream.StatusFailed, statuses[len(statuses)-1].Payload)
}

func TestCoordinator_Reinitialize(t *testing.T) {
	be := &fakeBackend{campaign: activeWindow(time.Now())}
	f := newFixture(t, Config{CampaignID: 14}, be)
	require.NoError(t, f.coord.Start(context.Background()))
	require.Equal(t, int32(1), f.source.connectCalls.Load())

	require.NoError(t, f.coord.Reinitialize(context.Background()))

	assert.Equal(t, int32(1), f.source.disconnectCalls.Load())
	assert.Equal(t, int32(2), f.source.connectCalls.Load())
	assert.Equal(t, int32(1), be.campaignCalls.Load(),
		"the in-memory snapshot cache warm-starts the reinitialize")
	assert.True(t, f.coord.Status().GateOpen)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCoordinator_StartTwiceFails(t *testing.T) {
	be := &fakeBackend{campaign: activeWindow(time.Now())}
	f := newFixture(t, Config{CampaignID: 14}, be)
	require.NoError(t, f.coord.Start(context.Background()))
	assert.Error(t, f.coord.Start(context.Background()))
}
