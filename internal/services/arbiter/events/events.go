// Package events carries arbitration notifications to in-process
// subscribers such as activity feeds and push transports.
package events

import (
	"sync"
	"time"

	"github.com/louisbranch/wordwager/internal/services/arbiter/domain"
)

// Kind names the event payload type.
type Kind string

const (
	// KindClaimStateChanged fires on every claim state transition,
	// including the initial install.
	KindClaimStateChanged Kind = "claim.state_changed"
	// KindSettlementApplied fires after a wager settles against a balance.
	KindSettlementApplied Kind = "settlement.applied"
	// KindDictionaryUsage fires when a word's usage counter advances.
	KindDictionaryUsage Kind = "dictionary.usage"
)

// ClaimStateChanged describes one claim transition.
type ClaimStateChanged struct {
	ClaimID          string
	Word             string
	OwnerID          string
	State            domain.ClaimState
	RemainingSeconds int64
}

// SettlementApplied describes one settled wager.
type SettlementApplied struct {
	ClaimID  string
	UserID   string
	Outcome  domain.Outcome
	Delta    int64
	NewScore int64
}

// DictionaryUsage describes one dictionary counter advance.
type DictionaryUsage struct {
	Word       string
	UsageCount int64
}

// Event is one published notification.
type Event struct {
	Kind       Kind
	OccurredAt time.Time

	Claim      *ClaimStateChanged
	Settlement *SettlementApplied
	Dictionary *DictionaryUsage
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling
// arbitration.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns its channel plus a cancel
// function. The channel is closed on cancel or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber that has buffer space.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// Close drops all subscribers and closes their channels.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub)
	}
}
