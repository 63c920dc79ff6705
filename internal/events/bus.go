// Package events fans out run lifecycle and debug events to live
// subscribers: one stream per run plus a global stream carrying everything.
// Publication never blocks the agent loop; slow subscribers drop events and
// idle per-run subscribers are reaped after a timeout.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rowanlabs/rowan/internal/model"
)

const subscriberBuffer = 64

// Bus is the process-wide event broadcaster. Only the agent loop and the
// dispatcher publish; any number of stream consumers subscribe.
type Bus struct {
	idleTimeout time.Duration

	mu     sync.RWMutex
	global map[*Subscription]struct{}
	runs   map[string]map[*Subscription]struct{}
}

// Subscription is one subscriber's view of a stream. Events arrive on C;
// C is closed by Close or by the idle timeout.
type Subscription struct {
	C chan model.DebugEvent

	bus   *Bus
	runID string
	timer *time.Timer

	closeOnce sync.Once
}

// NewBus creates a bus. idleTimeout bounds how long a subscriber with no
// event traffic is kept open; zero disables reaping (used by the global
// debug stream and tests).
func NewBus(idleTimeout time.Duration) *Bus {
	return &Bus{
		idleTimeout: idleTimeout,
		global:      make(map[*Subscription]struct{}),
		runs:        make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscriber for one run's stream. Only events
// published after subscription are delivered: there is no backfill.
func (b *Bus) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		C:     make(chan model.DebugEvent, subscriberBuffer),
		bus:   b,
		runID: runID,
	}
	b.mu.Lock()
	set, ok := b.runs[runID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.runs[runID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	if b.idleTimeout > 0 {
		sub.timer = time.AfterFunc(b.idleTimeout, func() {
			log.Debug().Str("run_id", runID).Msg("event subscriber idle, closing")
			sub.Close()
		})
	}
	return sub
}

// SubscribeGlobal registers a subscriber for the cross-run debug stream.
func (b *Bus) SubscribeGlobal() *Subscription {
	sub := &Subscription{
		C:   make(chan model.DebugEvent, subscriberBuffer),
		bus: b,
	}
	b.mu.Lock()
	b.global[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Close removes the subscription and closes its channel. Safe to call more
// than once and concurrently with Publish.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		// The channel is closed under the bus write lock so Publish, which
		// sends under the read lock, can never hit a closed channel.
		b := s.bus
		b.mu.Lock()
		delete(b.global, s)
		if set, ok := b.runs[s.runID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.runs, s.runID)
			}
		}
		close(s.C)
		b.mu.Unlock()
	})
}

// Publish delivers the event to the global stream and, when run-scoped, to
// that run's subscribers. Full buffers drop the event for that subscriber
// rather than stalling the publisher.
func (b *Bus) Publish(ev model.DebugEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	deliver := func(sub *Subscription) {
		select {
		case sub.C <- ev:
			if sub.timer != nil {
				sub.timer.Reset(b.idleTimeout)
			}
		default:
			// Subscriber buffer full; drop this event for them.
		}
	}
	for sub := range b.global {
		deliver(sub)
	}
	if ev.RunID != "" {
		for sub := range b.runs[ev.RunID] {
			deliver(sub)
		}
	}
}
