// SPDX-License-Identifier: MIT

// Package bus is the in-process notification fan-out. The coordinator
// publishes gating and component changes; API handlers and embedders
// subscribe. Delivery is best effort: a slow subscriber loses messages
// rather than blocking the publisher.
package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopstream/campaign-engine/internal/log"
	"github.com/shopstream/campaign-engine/internal/metrics"
)

// Topics published by the coordinator.
const (
	TopicCampaignState    = "campaign.state"
	TopicComponentChanged = "component.changed"
	TopicStreamStatus     = "stream.status"
)

// Notification is one bus message.
type Notification struct {
	Topic   string
	At      time.Time
	Payload any
}

// Subscription is a live subscription. Close it when done; an unclosed
// subscription that stops draining only loses its own messages.
type Subscription struct {
	bus   *Bus
	topic string
	ch    chan Notification
	once  sync.Once
}

// C returns the read-only message channel. It is closed by Close.
func (s *Subscription) C() <-chan Notification {
	return s.ch
}

// Close unsubscribes and closes the channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// Bus is an in-memory topic fan-out, safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	closed bool

	bufSize int
	logger  zerolog.Logger
	now     func() time.Time
}

// New returns a Bus whose subscription channels buffer bufSize messages.
// A bufSize below 1 defaults to 16.
func New(bufSize int, logger zerolog.Logger) *Bus {
	if bufSize < 1 {
		bufSize = 16
	}
	return &Bus{
		subs:    make(map[string][]*Subscription),
		bufSize: bufSize,
		logger:  logger.With().Str(log.FieldComponent, "bus").Logger(),
		now:     time.Now,
	}
}

// Subscribe registers for a topic. Returns nil after Close.
func (b *Bus) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	sub := &Subscription{bus: b, topic: topic, ch: make(chan Notification, b.bufSize)}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub
}

// Publish delivers a payload to every subscriber of the topic. Subscribers
// with a full buffer are skipped; the drop is counted, not retried.
func (b *Bus) Publish(topic string, payload any) {
	// Sends stay under the read lock so an unsubscribe cannot close a
	// channel mid-send. Sends never block, so the lock is held briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	msg := Notification{Topic: topic, At: b.now(), Payload: payload}
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- msg:
			metrics.IncBusPublished(topic)
		default:
			metrics.IncBusDrop(topic)
			b.logger.Warn().Str(log.FieldTopic, topic).Msg("subscriber buffer full, message dropped")
		}
	}
}

// Close shuts the bus down and closes all subscription channels.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.subs = make(map[string][]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.topic]
	out := list[:0]
	for _, sub := range list {
		if sub != s {
			out = append(out, sub)
		}
	}
	if len(out) == 0 {
		delete(b.subs, s.topic)
	} else {
		b.subs[s.topic] = out
	}
}
