package sor

import (
	"context"
	"fmt"
	"sync"
)

// MemoryMarketDataSource is an in-process MarketDataSource backed by the
// latest quote reported per (venue, symbol). Exchange adapters push ticks
// in via UpdateQuote; the Venue Scorer and SubmitInterVenueArb read them
// back through TopOfBook.
type MemoryMarketDataSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewMemoryMarketDataSource constructs an empty quote store.
func NewMemoryMarketDataSource() *MemoryMarketDataSource {
	return &MemoryMarketDataSource{quotes: make(map[string]Quote)}
}

func marketDataKey(venue, symbol string) string {
	return trimAndLower(venue) + "|" + normalizeUpper(symbol)
}

// UpdateQuote records the latest top-of-book snapshot for (venue, symbol).
func (m *MemoryMarketDataSource) UpdateQuote(venue, symbol string, quote Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[marketDataKey(venue, symbol)] = quote
}

// TopOfBook implements MarketDataSource. An unknown (venue, symbol) is a
// domain error, never a zero Quote, so callers can't silently score a
// venue that has no live book.
func (m *MemoryMarketDataSource) TopOfBook(ctx context.Context, venue, symbol string) (Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[marketDataKey(venue, symbol)]
	if !ok {
		return Quote{}, fmt.Errorf("sor: no quote for venue=%q symbol=%q", venue, symbol)
	}
	return q, nil
}

// StaticReadinessAggregator reports a readiness state set at startup from
// configuration (READINESS_OK / READINESS_REQUIRED) and adjustable later
// via SetReady by a health-check loop.
type StaticReadinessAggregator struct {
	mu      sync.RWMutex
	ok      bool
	missing []string
}

// NewStaticReadinessAggregator constructs an aggregator with the given
// initial state.
func NewStaticReadinessAggregator(ok bool, missing []string) *StaticReadinessAggregator {
	return &StaticReadinessAggregator{ok: ok, missing: missing}
}

// SetReady updates the aggregator's reported state.
func (s *StaticReadinessAggregator) SetReady(ok bool, missing []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ok, s.missing = ok, missing
}

// Ready implements ReadinessAggregator.
func (s *StaticReadinessAggregator) Ready(ctx context.Context) (bool, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ok, s.missing
}
