package sor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/derivatex/sor-kernel/pkg/observability"
)

const nanosPerSecond = int64(1_000_000_000)

// TrackedOrder is the Tracker's internal, mutable record. Callers never see
// a *TrackedOrder directly; Snapshot returns immutable copies.
type TrackedOrder struct {
	COID      string
	IntentKey string
	Venue     string
	Symbol    string
	Side      Side
	Qty       decimal.Decimal
	Filled    decimal.Decimal
	State     OrderState
	CreatedNS int64
	UpdatedNS int64
}

// TrackedOrderSnapshot is an immutable view of a TrackedOrder.
type TrackedOrderSnapshot struct {
	COID      string
	IntentKey string
	Venue     string
	Symbol    string
	Side      Side
	Qty       decimal.Decimal
	Filled    decimal.Decimal
	State     OrderState
	CreatedNS int64
	UpdatedNS int64
}

// TrackerStatsCounters records cumulative bookkeeping counters, mirroring
// the original's stats dict.
type TrackerStatsCounters struct {
	Added           uint64
	Updates         uint64
	RemovedTerminal uint64
	RemovedTTL      uint64
	RemovedSize     uint64
}

// Tracker owns the live order map. One instance per process (or per test).
// All mutation happens under mu; capacity ≤ maxActive, evicting
// oldest terminal orders first on overrun, warning (never panicking) if
// still over.
type Tracker struct {
	mu        sync.RWMutex
	orders    map[string]*TrackedOrder
	maxActive int
	metrics   *TrackerMetrics
	logger    *observability.Logger
	stats     TrackerStatsCounters
	audit     auditCounters
}

type auditCounters struct {
	mu                    sync.Mutex
	duplicateRegistration uint64
	duplicateEvent        uint64
	outOfOrder            uint64
	fillWithoutAck        uint64
	ackMissingRegister    uint64
	invalidEvent          uint64
}

// NewTracker constructs a Tracker with the given capacity and its own
// metrics instance (deliberately not a package-level singleton, to avoid
// cross-test bleed — see DESIGN.md Open Question #4).
func NewTracker(maxActive int, logger *observability.Logger) *Tracker {
	if maxActive <= 0 {
		maxActive = 5000
	}
	return &Tracker{
		orders:    make(map[string]*TrackedOrder),
		maxActive: maxActive,
		metrics:   NewTrackerMetrics(),
		logger:    logger,
	}
}

// Len returns the number of currently tracked orders.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}

// Get returns a copy of the tracked order, if present.
func (t *Tracker) Get(coid string) (TrackedOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	order, ok := t.orders[coid]
	if !ok {
		return TrackedOrder{}, false
	}
	return *order, true
}

// Register adds a new order for lifecycle tracking. Idempotent: a second
// registration of an already-known COID is a no-op that increments
// duplicate_registration and returns false.
func (t *Tracker) Register(ctx context.Context, order TrackedOrder) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.orders[order.COID]; exists {
		t.audit.mu.Lock()
		t.audit.duplicateRegistration++
		t.audit.mu.Unlock()
		if t.logger != nil {
			t.logger.Warn(ctx, "order_tracker.duplicate_registration", map[string]interface{}{
				"component": "orders_tracker",
				"coid":      order.COID,
				"venue":     order.Venue,
				"symbol":    order.Symbol,
			})
		}
		return false
	}
	if order.Qty.IsNegative() {
		order.Qty = decimal.Zero
	}
	stored := order
	t.orders[order.COID] = &stored
	t.enforceCapacity(ctx)
	t.stats.Added++
	t.metrics.ObserveTracked(len(t.orders))
	return true
}

// ApplyEvent consults the permissive state machine, accumulates fills
// monotonically (clamped to Qty), and updates UpdatedNS. Applying "filled"
// always sets Filled := Qty.
func (t *Tracker) ApplyEvent(ctx context.Context, coid, event string, qty *decimal.Decimal, nowNanos int64) (OrderState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	order, ok := t.orders[coid]
	if !ok {
		t.audit.mu.Lock()
		t.audit.ackMissingRegister++
		t.audit.mu.Unlock()
		if t.logger != nil {
			t.logger.Error(ctx, "order_tracker.unknown_order", nil, map[string]interface{}{
				"component": "orders_tracker",
				"coid":      coid,
				"event":     event,
			})
		}
		return "", fmt.Errorf("sor: unknown order %q", coid)
	}

	eventKey := trimAndLower(event)
	if eventKey == "expired" {
		eventKey = "expire"
	}

	previousState := order.State
	newState, err := NextState(order.State, eventKey)
	if err != nil {
		t.audit.mu.Lock()
		switch {
		case err == ErrInvalidEvent:
			t.audit.invalidEvent++
		case eventKey == "filled" && previousState == StatePending:
			t.audit.fillWithoutAck++
		default:
			t.audit.outOfOrder++
		}
		t.audit.mu.Unlock()
		return order.State, err
	}

	if IsTerminal(previousState) && newState == previousState {
		t.audit.mu.Lock()
		t.audit.outOfOrder++
		t.audit.mu.Unlock()
		return order.State, nil
	}

	normalizedEvent := eventKey
	if normalizedEvent == "partial_fill" || normalizedEvent == "filled" {
		increment := decimal.Zero
		if qty != nil {
			increment = *qty
		}
		if increment.LessThanOrEqual(decimal.Zero) && normalizedEvent == "filled" {
			increment = order.Qty.Sub(order.Filled)
		}
		if increment.IsNegative() {
			increment = decimal.Zero
		}
		candidate := order.Filled.Add(increment)
		if candidate.GreaterThan(order.Qty) {
			candidate = order.Qty
		}
		order.Filled = candidate
	}
	if newState == StateFilled {
		order.Filled = order.Qty
	}

	order.State = newState
	order.UpdatedNS = nowNanos
	return order.State, nil
}

// Finalize removes a finalized order and records its terminal-state metric.
// Returns false when the order was not tracked.
func (t *Tracker) Finalize(coid string, state OrderState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalizeLocked(coid, state)
}

func (t *Tracker) finalizeLocked(coid string, state OrderState) bool {
	order, ok := t.orders[coid]
	if !ok {
		return false
	}
	finalState := state
	if IsTerminal(order.State) {
		finalState = order.State
	}
	delete(t.orders, coid)
	t.metrics.ObserveFinalized(finalState)
	t.metrics.ObserveTracked(len(t.orders))
	return true
}

// PruneTerminal removes every currently terminal order and returns the
// count removed.
func (t *Tracker) PruneTerminal() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for coid, order := range t.orders {
		if IsTerminal(order.State) {
			if t.finalizeLocked(coid, order.State) {
				removed++
			}
		}
	}
	return removed
}

// PruneAged removes entries (of any state) last updated more than ttl ago,
// matching prune_aged's indiscriminate sweep.
func (t *Tracker) PruneAged(nowNanos int64, ttlSeconds int64) int {
	if ttlSeconds <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ttlNanos := ttlSeconds * nanosPerSecond
	removed := 0
	for coid, order := range t.orders {
		if nowNanos-order.UpdatedNS > ttlNanos {
			delete(t.orders, coid)
			removed++
		}
	}
	if removed > 0 {
		t.metrics.ObserveTracked(len(t.orders))
	}
	return removed
}

// PurgeTerminatedOlderThan removes only terminal orders older than ttl,
// kept as a distinct supplementary operation alongside Cleanup (see
// DESIGN.md Open Question #3).
func (t *Tracker) PurgeTerminatedOlderThan(nowNanos int64, ttlSeconds int64) int {
	if ttlSeconds <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ttlNanos := ttlSeconds * nanosPerSecond
	removed := 0
	for coid, order := range t.orders {
		if !IsTerminal(order.State) {
			continue
		}
		if nowNanos-order.UpdatedNS <= ttlNanos {
			continue
		}
		delete(t.orders, coid)
		removed++
	}
	if removed > 0 {
		t.metrics.ObserveTracked(len(t.orders))
	}
	return removed
}

// Cleanup performs a TTL sweep followed by size-cap eviction (by oldest
// UpdatedNS), matching the original's two-phase cleanup ordering.
func (t *Tracker) Cleanup(nowNanos int64, ttlSeconds int64, maxItems int) (removedTTL, removedSize int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ttlSeconds > 0 && len(t.orders) > 0 {
		ttlNanos := ttlSeconds * nanosPerSecond
		for coid, order := range t.orders {
			if nowNanos-order.UpdatedNS > ttlNanos {
				delete(t.orders, coid)
				removedTTL++
			}
		}
	}

	if maxItems >= 0 && len(t.orders) > maxItems {
		type entry struct {
			coid      string
			updatedNS int64
			createdNS int64
		}
		entries := make([]entry, 0, len(t.orders))
		for coid, order := range t.orders {
			entries = append(entries, entry{coid, order.UpdatedNS, order.CreatedNS})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].updatedNS != entries[j].updatedNS {
				return entries[i].updatedNS < entries[j].updatedNS
			}
			return entries[i].createdNS < entries[j].createdNS
		})
		toRemove := len(t.orders) - maxItems
		for i := 0; i < toRemove && i < len(entries); i++ {
			delete(t.orders, entries[i].coid)
			removedSize++
		}
	}

	if removedTTL > 0 || removedSize > 0 {
		t.metrics.ObserveTracked(len(t.orders))
		t.stats.RemovedTTL += uint64(removedTTL)
		t.stats.RemovedSize += uint64(removedSize)
	}
	return removedTTL, removedSize
}

// Snapshot returns an immutable copy of every currently tracked order.
func (t *Tracker) Snapshot() []TrackedOrderSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackedOrderSnapshot, 0, len(t.orders))
	for _, order := range t.orders {
		out = append(out, TrackedOrderSnapshot{
			COID:      order.COID,
			IntentKey: order.IntentKey,
			Venue:     order.Venue,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Qty:       order.Qty,
			Filled:    order.Filled,
			State:     order.State,
			CreatedNS: order.CreatedNS,
			UpdatedNS: order.UpdatedNS,
		})
	}
	return out
}

// Stats returns a copy of the cumulative bookkeeping counters.
func (t *Tracker) Stats() TrackerStatsCounters {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// AuditSnapshot returns a copy of the audit counters this Tracker owns.
func (t *Tracker) AuditSnapshot() (duplicateRegistration, duplicateEvent, outOfOrder, fillWithoutAck, ackMissingRegister, invalidEvent uint64) {
	t.audit.mu.Lock()
	defer t.audit.mu.Unlock()
	return t.audit.duplicateRegistration, t.audit.duplicateEvent, t.audit.outOfOrder,
		t.audit.fillWithoutAck, t.audit.ackMissingRegister, t.audit.invalidEvent
}

// enforceCapacity evicts oldest terminal orders first on overrun; if still
// over after exhausting terminal candidates, it warns but never panics.
func (t *Tracker) enforceCapacity(ctx context.Context) {
	if len(t.orders) <= t.maxActive {
		return
	}
	type candidate struct {
		coid      string
		updatedNS int64
	}
	terminals := make([]candidate, 0)
	for coid, order := range t.orders {
		if IsTerminal(order.State) {
			terminals = append(terminals, candidate{coid, order.UpdatedNS})
		}
	}
	sort.Slice(terminals, func(i, j int) bool { return terminals[i].updatedNS < terminals[j].updatedNS })
	for _, c := range terminals {
		if len(t.orders) <= t.maxActive {
			break
		}
		if order, ok := t.orders[c.coid]; ok {
			t.finalizeLocked(c.coid, order.State)
		}
	}
	if len(t.orders) > t.maxActive && t.logger != nil {
		t.logger.Warn(ctx, "order_tracker.capacity_exceeded", map[string]interface{}{
			"component":      "orders_tracker",
			"max_active":     t.maxActive,
			"current_active": len(t.orders),
		})
	}
	t.metrics.ObserveTracked(len(t.orders))
}
