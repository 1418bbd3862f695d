package sor

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyBudget caps a single strategy's notional exposure, both in
// aggregate and per symbol, plus the number of distinct symbols it may
// hold a position in at once.
type StrategyBudget struct {
	MaxNotionalUSD          decimal.Decimal
	HasMaxNotional          bool
	MaxPositions            int
	HasMaxPositions         bool
	PerSymbolMaxNotionalUSD map[string]decimal.Decimal
}

// budgetReservation is a single outstanding notional hold.
type budgetReservation struct {
	orderID     string
	strategy    string
	symbol      string
	notionalUSD decimal.Decimal
	at          time.Time
}

// BudgetRegistry tracks outstanding per-order notional reservations and
// answers whether a new one can be accepted without breaching any
// configured StrategyBudget. TTL-based and size-based eviction both
// prefer removing the oldest reservation first, matching the original's
// cleanup() ordering.
type BudgetRegistry struct {
	mu              sync.Mutex
	policies        map[string]StrategyBudget
	reservations    map[string]budgetReservation
	ttl             time.Duration
	maxReservations int
}

// NewBudgetRegistry constructs a registry with the given policies, TTL and
// capacity. A zero ttl disables TTL eviction; a zero maxReservations
// disables size eviction.
func NewBudgetRegistry(policies map[string]StrategyBudget, ttl time.Duration, maxReservations int) *BudgetRegistry {
	if policies == nil {
		policies = make(map[string]StrategyBudget)
	}
	return &BudgetRegistry{
		policies:        policies,
		reservations:    make(map[string]budgetReservation),
		ttl:             ttl,
		maxReservations: maxReservations,
	}
}

// Cleanup sweeps TTL-expired reservations, then evicts the oldest
// remaining reservations if still over capacity. Returns the count
// removed.
func (b *BudgetRegistry) Cleanup(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleanupLocked(now)
}

func (b *BudgetRegistry) cleanupLocked(now time.Time) int {
	removed := 0
	if b.ttl > 0 {
		for id, r := range b.reservations {
			if now.Sub(r.at) > b.ttl {
				delete(b.reservations, id)
				removed++
			}
		}
	}
	if b.maxReservations > 0 && len(b.reservations) > b.maxReservations {
		type entry struct {
			id string
			at time.Time
		}
		entries := make([]entry, 0, len(b.reservations))
		for id, r := range b.reservations {
			entries = append(entries, entry{id, r.at})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
		excess := len(b.reservations) - b.maxReservations
		for i := 0; i < excess; i++ {
			delete(b.reservations, entries[i].id)
			removed++
		}
	}
	return removed
}

// CanAccept reports whether adding notionalUSD to `strategy`'s exposure in
// `symbol` would breach any configured cap, returning a reason code on
// rejection: "max_notional_exceeded", "per_symbol_max_notional_exceeded",
// or "max_positions_exceeded".
func (b *BudgetRegistry) CanAccept(strategy, symbol string, addNotionalUSD decimal.Decimal, now time.Time) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanupLocked(now)

	policy, ok := b.policies[strategy]
	if !ok {
		return true, ""
	}

	totalByStrategy := decimal.Zero
	symbolTotal := decimal.Zero
	symbolsHeld := make(map[string]bool)
	for _, r := range b.reservations {
		if r.strategy != strategy {
			continue
		}
		totalByStrategy = totalByStrategy.Add(r.notionalUSD)
		symbolsHeld[r.symbol] = true
		if r.symbol == symbol {
			symbolTotal = symbolTotal.Add(r.notionalUSD)
		}
	}

	if policy.HasMaxNotional && totalByStrategy.Add(addNotionalUSD).GreaterThan(policy.MaxNotionalUSD) {
		return false, "max_notional_exceeded"
	}
	if cap, ok := policy.PerSymbolMaxNotionalUSD[symbol]; ok {
		if symbolTotal.Add(addNotionalUSD).GreaterThan(cap) {
			return false, "per_symbol_max_notional_exceeded"
		}
	}
	if policy.HasMaxPositions && symbolTotal.IsZero() {
		if len(symbolsHeld) >= policy.MaxPositions {
			return false, "max_positions_exceeded"
		}
	}
	return true, ""
}

// Reserve records a new outstanding notional hold.
func (b *BudgetRegistry) Reserve(orderID, strategy, symbol string, notionalUSD decimal.Decimal, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reservations[orderID] = budgetReservation{orderID, strategy, symbol, notionalUSD, now}
}

// Release drops a reservation, e.g. once the order reaches a terminal
// state.
func (b *BudgetRegistry) Release(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.reservations, orderID)
}

// BudgetSnapshot summarizes outstanding exposure for observability.
type BudgetSnapshot struct {
	TotalByStrategy      map[string]decimal.Decimal
	SymbolsByStrategy    map[string]int
	PerSymbolByStrategy  map[string]map[string]decimal.Decimal
}

// Snapshot returns the current aggregate exposure.
func (b *BudgetRegistry) Snapshot() BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := BudgetSnapshot{
		TotalByStrategy:     make(map[string]decimal.Decimal),
		SymbolsByStrategy:   make(map[string]int),
		PerSymbolByStrategy: make(map[string]map[string]decimal.Decimal),
	}
	symbolSets := make(map[string]map[string]bool)
	for _, r := range b.reservations {
		out.TotalByStrategy[r.strategy] = out.TotalByStrategy[r.strategy].Add(r.notionalUSD)
		if symbolSets[r.strategy] == nil {
			symbolSets[r.strategy] = make(map[string]bool)
		}
		symbolSets[r.strategy][r.symbol] = true
		if out.PerSymbolByStrategy[r.strategy] == nil {
			out.PerSymbolByStrategy[r.strategy] = make(map[string]decimal.Decimal)
		}
		out.PerSymbolByStrategy[r.strategy][r.symbol] = out.PerSymbolByStrategy[r.strategy][r.symbol].Add(r.notionalUSD)
	}
	for strategy, set := range symbolSets {
		out.SymbolsByStrategy[strategy] = len(set)
	}
	return out
}

// Fill is a single executed trade leg feeding the PnL aggregator.
type Fill struct {
	Symbol string
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Side   Side
	Fee    decimal.Decimal
	AtNS   int64
}

// Position is the running weighted-average-cost state for one symbol.
type Position struct {
	Symbol    string
	Qty       decimal.Decimal
	AvgEntry  decimal.Decimal
}

// ComputeRealizedPnL replays fills in timestamp order, maintaining a
// weighted-average entry price per symbol and booking realized P&L on
// direction-flips and closing trades. Fee is always subtracted from
// realized P&L. Mirrors the original's compute_realized_pnl exactly.
func ComputeRealizedPnL(fills []Fill) decimal.Decimal {
	sorted := make([]Fill, len(fills))
	copy(sorted, fills)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].AtNS < sorted[j].AtNS })

	type state struct {
		qty decimal.Decimal
		avg decimal.Decimal
	}
	bySymbol := make(map[string]*state)
	realized := decimal.Zero

	for _, f := range sorted {
		st, ok := bySymbol[f.Symbol]
		if !ok {
			st = &state{qty: decimal.Zero, avg: decimal.Zero}
			bySymbol[f.Symbol] = st
		}
		direction := decimal.NewFromInt(1)
		if f.Side == SideSell {
			direction = decimal.NewFromInt(-1)
		}
		signedQty := f.Qty.Mul(direction)

		switch {
		case st.qty.IsZero() || sameSign(st.qty, signedQty):
			newQty := st.qty.Add(signedQty)
			if !newQty.IsZero() {
				st.avg = st.avg.Mul(st.qty.Abs()).Add(f.Price.Mul(signedQty.Abs())).Div(newQty.Abs())
			}
			st.qty = newQty
		default:
			closingQty := decimal.Min(st.qty.Abs(), signedQty.Abs())
			positionDirection := decimal.NewFromInt(1)
			if st.qty.IsNegative() {
				positionDirection = decimal.NewFromInt(-1)
			}
			realized = realized.Add(f.Price.Sub(st.avg).Mul(closingQty).Mul(positionDirection))
			remaining := signedQty.Abs().Sub(closingQty)
			newQty := st.qty.Add(signedQty)
			st.qty = newQty
			if remaining.GreaterThan(decimal.Zero) {
				st.avg = f.Price
			} else if newQty.IsZero() {
				st.avg = decimal.Zero
			}
		}
		realized = realized.Sub(f.Fee)
	}
	return realized
}

func sameSign(a, b decimal.Decimal) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	return a.IsPositive() == b.IsPositive()
}

// ComputeUnrealizedPnL sums (mark - avgEntry) * qty across positions with
// a known mark price; positions without one are skipped.
func ComputeUnrealizedPnL(positions []Position, marks map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		mark, ok := marks[p.Symbol]
		if !ok {
			continue
		}
		total = total.Add(mark.Sub(p.AvgEntry).Mul(p.Qty))
	}
	return total
}

// RiskCapsStatus is the outcome of a GovernorLimits check.
type RiskCapsStatus struct {
	Breached bool
	Reason   string
}

// GovernorLimits are the account-wide hard stops layered above
// per-strategy budgets.
type GovernorLimits struct {
	MaxDailyLossUSD       decimal.Decimal
	HasMaxDailyLoss       bool
	MaxTotalNotionalUSD   decimal.Decimal
	HasMaxTotalNotional   bool
	MaxUnrealizedLossUSD  decimal.Decimal
	HasMaxUnrealizedLoss  bool
	ClockSkewHoldMS       float64
}

// CheckGovernorLimits reports a breach reason if realized or unrealized
// P&L, or aggregate notional, exceeds the configured account-wide caps.
func CheckGovernorLimits(limits GovernorLimits, realizedPnLUSD, unrealizedPnLUSD, totalNotionalUSD decimal.Decimal) RiskCapsStatus {
	if limits.HasMaxDailyLoss && realizedPnLUSD.Neg().GreaterThan(limits.MaxDailyLossUSD) {
		return RiskCapsStatus{true, "max_daily_loss"}
	}
	if limits.HasMaxUnrealizedLoss && unrealizedPnLUSD.Neg().GreaterThan(limits.MaxUnrealizedLossUSD) {
		return RiskCapsStatus{true, "max_unrealized_loss"}
	}
	if limits.HasMaxTotalNotional && totalNotionalUSD.GreaterThan(limits.MaxTotalNotionalUSD) {
		return RiskCapsStatus{true, "max_total_notional"}
	}
	return RiskCapsStatus{false, ""}
}
