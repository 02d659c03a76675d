package events

import (
	"sync"
	"time"
)

// Kind tells subscribers which view changed.
type Kind string

const (
	KindOverview Kind = "overview"
	KindBalances Kind = "balances"
	KindSurface  Kind = "surface"
)

// Update is a view change pushed to the dashboard. Amounts are display strings
// so the web layer never handles raw ledger units.
type Update struct {
	Timestamp time.Time         `json:"ts"`
	Kind      Kind              `json:"kind"`
	Account   string            `json:"account,omitempty"`
	Vault     string            `json:"vault,omitempty"`
	Fields    map[string]string `json:"fields"`
}

// Broadcaster fans out updates to all subscribers via buffered channels.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan Update]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan Update]struct{}),
		buffer: buffer,
	}
}

// Publish sends the update to all subscribers, dropping if a reader is slow.
func (b *Broadcaster) Publish(u Update) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives updates until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan Update {
	ch := make(chan Update, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan Update) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
