package sor

import (
	"sync"
	"time"
)

const runawayWindowSeconds = 60

// RunawayBlockDetails explains why allow_cancel refused a cancel burst.
type RunawayBlockDetails struct {
	Reason            string
	Venue             string
	Symbol            string
	Count             int
	Limit             int
	CooldownRemaining float64
}

// RunawayGuard tracks per-(venue,symbol) cancel timestamps in a sliding
// 60-second window and enforces both a burst limit and a post-trigger
// cooldown, mirroring the original's deque-per-key bookkeeping.
type RunawayGuard struct {
	mu               sync.Mutex
	maxCancelsPerMin int
	cooldownSec      int
	enabled          bool
	perVenue         map[string]map[string][]time.Time
	lastTriggerAt    time.Time
	hasLastTrigger   bool
	lastBlock        *RunawayBlockDetails
}

// NewRunawayGuard returns a disabled guard; call Configure to arm it.
func NewRunawayGuard() *RunawayGuard {
	return &RunawayGuard{perVenue: make(map[string]map[string][]time.Time)}
}

// Configure sets the burst limit and cooldown window, clearing all
// in-memory counters (matches the original's configure()).
func (g *RunawayGuard) Configure(maxCancelsPerMin, cooldownSec int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if maxCancelsPerMin < 0 {
		maxCancelsPerMin = 0
	}
	if cooldownSec < 0 {
		cooldownSec = 0
	}
	g.maxCancelsPerMin = maxCancelsPerMin
	g.cooldownSec = cooldownSec
	g.enabled = maxCancelsPerMin > 0
	g.perVenue = make(map[string]map[string][]time.Time)
	g.hasLastTrigger = false
	g.lastBlock = nil
}

// AllowCancel reports whether `planned` additional cancels may proceed for
// (venue, symbol) right now. A zero or negative planned count always
// passes; an inactive or unconfigured guard always passes.
func (g *RunawayGuard) AllowCancel(venue, symbol string, planned int, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled || planned <= 0 {
		return true
	}
	venueKey := trimAndLower(venue)
	symbolKey := normalizeUpper(symbol)
	queue := g.queueFor(venueKey, symbolKey)
	queue = prune(queue, now)
	g.setQueue(venueKey, symbolKey, queue)

	limit := g.maxCancelsPerMin
	if limit <= 0 {
		return true
	}

	if g.cooldownSec > 0 && g.hasLastTrigger {
		remaining := g.lastTriggerAt.Add(time.Duration(g.cooldownSec) * time.Second).Sub(now).Seconds()
		if remaining > 0 {
			g.lastBlock = &RunawayBlockDetails{
				Reason:            "cooldown_active",
				Venue:             venueKey,
				Symbol:            symbolKey,
				Count:             len(queue),
				Limit:             limit,
				CooldownRemaining: remaining,
			}
			return false
		}
	}

	projected := len(queue) + planned
	if projected > limit {
		g.lastTriggerAt = now
		g.hasLastTrigger = true
		g.lastBlock = &RunawayBlockDetails{
			Reason: "limit_exceeded",
			Venue:  venueKey,
			Symbol: symbolKey,
			Count:  projected,
			Limit:  limit,
		}
		return false
	}
	return true
}

// RegisterCancel records `count` cancels having actually happened now.
func (g *RunawayGuard) RegisterCancel(venue, symbol string, count int, now time.Time) {
	if count <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return
	}
	venueKey := trimAndLower(venue)
	symbolKey := normalizeUpper(symbol)
	queue := prune(g.queueFor(venueKey, symbolKey), now)
	for i := 0; i < count; i++ {
		queue = append(queue, now)
	}
	g.setQueue(venueKey, symbolKey, queue)
}

// LastBlock returns the most recent block's details, if any.
func (g *RunawayGuard) LastBlock() (RunawayBlockDetails, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastBlock == nil {
		return RunawayBlockDetails{}, false
	}
	return *g.lastBlock, true
}

// Snapshot returns the enabled state, configured limits, and a per-venue,
// per-symbol live count after pruning.
func (g *RunawayGuard) Snapshot(now time.Time) (enabled bool, maxCancelsPerMin, cooldownSec int, counts map[string]map[string]int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	counts = make(map[string]map[string]int)
	for venue, perSymbol := range g.perVenue {
		symbolCounts := make(map[string]int)
		for symbol, queue := range perSymbol {
			pruned := prune(queue, now)
			g.perVenue[venue][symbol] = pruned
			if len(pruned) > 0 {
				symbolCounts[symbol] = len(pruned)
			}
		}
		if len(symbolCounts) > 0 {
			counts[venue] = symbolCounts
		}
	}
	return g.enabled, g.maxCancelsPerMin, g.cooldownSec, counts
}

func (g *RunawayGuard) queueFor(venue, symbol string) []time.Time {
	perSymbol, ok := g.perVenue[venue]
	if !ok {
		return nil
	}
	return perSymbol[symbol]
}

func (g *RunawayGuard) setQueue(venue, symbol string, queue []time.Time) {
	perSymbol, ok := g.perVenue[venue]
	if !ok {
		perSymbol = make(map[string][]time.Time)
		g.perVenue[venue] = perSymbol
	}
	perSymbol[symbol] = queue
}

func prune(queue []time.Time, now time.Time) []time.Time {
	boundary := now.Add(-runawayWindowSeconds * time.Second)
	idx := 0
	for idx < len(queue) && queue[idx].Before(boundary) {
		idx++
	}
	if idx == 0 {
		return queue
	}
	return append([]time.Time(nil), queue[idx:]...)
}

func normalizeUpper(s string) string {
	return stringsToUpperTrim(s)
}
