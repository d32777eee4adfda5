// Package consensus implements the fork-choice rule, the state machine
// executor boundary, the block processor and the top-level coordinator for
// a single-writer block application pipeline.
package consensus

import (
	"sync"

	"github.com/bludnic/lisk-sdk/internal/chain"
)

// EventType names one of the four events the core emits.
type EventType int

const (
	// EventBlockNew fires once a block has been successfully persisted.
	EventBlockNew EventType = iota
	// EventBlockDelete fires when a block is removed from the tip.
	EventBlockDelete
	// EventBlockBroadcast fires when a newly-executed block is handed to the network.
	EventBlockBroadcast
	// EventForkDetected fires on DOUBLE_FORGING classification.
	EventForkDetected
)

// Event is a single notification the coordinator publishes while holding
// the consensus mutex. Subscribers observe events in order on the emitting
// goroutine; cross-goroutine subscribers must serialize themselves.
type Event struct {
	Type  EventType
	Block *chain.Block
}

// Subscriber receives events synchronously, in the emitting goroutine, while
// the consensus mutex is held. Subscribers must not block or re-enter the
// coordinator.
type Subscriber func(Event)

// EventEmitter is an in-process pub/sub bus for the four typed consensus
// events, replacing ad-hoc per-event channel fan-out with a single explicit
// emitter subscribers register against.
type EventEmitter struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewEventEmitter returns an empty emitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{}
}

// Subscribe registers fn to receive every future event.
func (e *EventEmitter) Subscribe(fn Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

// Emit synchronously calls every subscriber. Errors in a subscriber must
// not propagate to the chain; a subscriber that itself panics is the
// subscriber's bug, not caught here.
func (e *EventEmitter) Emit(ev Event) {
	e.mu.RLock()
	subs := make([]Subscriber, len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()
	for _, s := range subs {
		s(ev)
	}
}
