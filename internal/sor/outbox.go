package sor

import (
	"sort"
	"sync"
	"time"
)

// OutboxState is the at-most-once send registry's persisted state for a
// single idempotency key.
type OutboxState string

const (
	OutboxPending  OutboxState = "pending"
	OutboxAcked    OutboxState = "acked"
	OutboxTerminal OutboxState = "terminal"
)

type outboxEntry struct {
	state OutboxState
	at    time.Time
}

// OutboxStats are cumulative send/ack/terminal/eviction counters.
type OutboxStats struct {
	Seen          uint64
	SkipDuplicate uint64
	Ack           uint64
	Terminal      uint64
	RemovedTTL    uint64
	RemovedSize   uint64
}

// Outbox is the durable at-most-once send registry: ShouldSend returns
// false for a key that is currently pending or acked, preventing a retried
// submission from hitting the broker twice while its first send is still
// in flight or unconfirmed.
//
// Deviates from the original by persisting terminal entries rather than
// deleting them on MarkTerminal (DESIGN.md Open Question #1): the spec's
// literal three-state model (pending/acked/terminal) requires a terminal
// record to remain queryable, so eviction of terminal entries happens only
// via the normal TTL/size Cleanup pass, same as any other state.
type Outbox struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxItems int
	entries  map[string]outboxEntry
	stats    OutboxStats
}

// NewOutbox constructs an outbox with the given TTL and capacity.
func NewOutbox(ttl time.Duration, maxItems int) *Outbox {
	return &Outbox{ttl: ttl, maxItems: maxItems, entries: make(map[string]outboxEntry)}
}

// ShouldSend registers a send attempt for key. Returns false (skip) if key
// is already pending or acked; true (send) if key is unseen or terminal
// (a terminal record does not block resubmission under the same key — a
// brand-new order reusing an old fingerprint after its prior order
// finished is legitimate).
func (o *Outbox) ShouldSend(key string, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Seen++

	entry, ok := o.entries[key]
	if ok && (entry.state == OutboxPending || entry.state == OutboxAcked) {
		o.stats.SkipDuplicate++
		entry.at = now
		o.entries[key] = entry
		return false
	}
	o.entries[key] = outboxEntry{state: OutboxPending, at: now}
	return true
}

// MarkAcked transitions key to acked.
func (o *Outbox) MarkAcked(key string, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[key] = outboxEntry{state: OutboxAcked, at: now}
	o.stats.Ack++
}

// MarkTerminal transitions key to terminal. The record is retained (not
// deleted) until a normal Cleanup pass evicts it by TTL or capacity.
func (o *Outbox) MarkTerminal(key string, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[key] = outboxEntry{state: OutboxTerminal, at: now}
	o.stats.Terminal++
}

// State returns the current state of key, if present.
func (o *Outbox) State(key string) (OutboxState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.entries[key]
	if !ok {
		return "", false
	}
	return entry.state, true
}

// Cleanup sweeps TTL-expired entries of any state, then, if still over
// capacity, evicts terminal entries first (oldest first) and only then the
// oldest pending/acked ones.
func (o *Outbox) Cleanup(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ttl > 0 {
		removed := 0
		for key, entry := range o.entries {
			if now.Sub(entry.at) > o.ttl {
				delete(o.entries, key)
				removed++
			}
		}
		if removed > 0 {
			o.stats.RemovedTTL += uint64(removed)
		}
	}

	if o.maxItems > 0 && len(o.entries) > o.maxItems {
		type kv struct {
			key      string
			at       time.Time
			terminal bool
		}
		all := make([]kv, 0, len(o.entries))
		for key, entry := range o.entries {
			all = append(all, kv{key, entry.at, entry.state == OutboxTerminal})
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].terminal != all[j].terminal {
				return all[i].terminal
			}
			return all[i].at.Before(all[j].at)
		})
		excess := len(o.entries) - o.maxItems
		for i := 0; i < excess; i++ {
			delete(o.entries, all[i].key)
			o.stats.RemovedSize++
		}
	}
}

// Stats returns a copy of the cumulative counters.
func (o *Outbox) Stats() OutboxStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}
