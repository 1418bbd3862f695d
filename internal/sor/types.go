// Package sor implements the Smart Order Router and Order Lifecycle
// Kernel: the deterministic pipeline that accepts trade intents, runs
// them through an ordered guard chain, derives a stable client order id,
// tracks the resulting order through its lifecycle, and enforces
// idempotency, cooldown and risk/PnL caps across venues.
package sor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an intent or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes limit from market intents.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Intent is the immutable input to RegisterOrder.
type Intent struct {
	Strategy    string
	Venue       string
	Symbol      string
	Side        Side
	Qty         decimal.Decimal
	Price       decimal.Decimal
	HasPrice    bool
	Type        OrderType
	PostOnly    bool
	ReduceOnly  bool
	TimestampNS int64
	Nonce       uint64
	ClientTag   string
	ParentID    string
	// LiveConfirmCode is an operator-supplied TOTP code, checked by the
	// live-confirm guard (wired only under the live profile) against the
	// Router's LiveConfirm gate; with no gate configured no code passes.
	LiveConfirmCode string
}

// Normalized returns a copy of the intent with string fields trimmed and
// lower-cased, matching the normalization the Identifier Service and
// Fingerprint function both require before hashing.
func (i Intent) Normalized() Intent {
	n := i
	n.Strategy = normalizeField(i.Strategy)
	n.Venue = normalizeField(i.Venue)
	n.Symbol = normalizeField(i.Symbol)
	n.Side = Side(normalizeField(string(i.Side)))
	return n
}

// SymbolMeta describes exchange-enforced quantization rules for a
// (venue, symbol) pair.
type SymbolMeta struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
	MinQty      decimal.Decimal
	HasMinQty   bool
	HasNotional bool
}

// Quote is a top-of-book snapshot for a (venue, symbol) pair.
type Quote struct {
	Bid      float64
	Ask      float64
	TsWallNS int64
}

// SubmitResult is the outcome of RegisterOrder. It is never an error for a
// business-rule rejection; Reason/Detail carry the guard that fired.
type SubmitResult struct {
	OK               bool
	ClientOrderID    string
	State            OrderState
	Reason           string
	Detail           string
	Cost             float64
	HasCost          bool
	CooldownRemaining float64
}

// ArbResult is the outcome of SubmitInterVenueArb.
type ArbResult struct {
	Status   string // "ok" | "blocked"
	Reason   string
	Plan     *ArbPlan
}

// ArbPlan describes a two-legged inter-venue arbitrage submission.
type ArbPlan struct {
	ParentID   string
	LongVenue  string
	ShortVenue string
	EdgeBps    float64
	LongCOID   string
	ShortCOID  string
}

// AuditCounters mirrors the counters required by the spec's invariant and
// testable-property sections.
type AuditCounters struct {
	DuplicateRegistration uint64
	DuplicateEvent        uint64
	OutOfOrder            uint64
	FillWithoutAck        uint64
	AckMissingRegister    uint64
	InvalidEvent          uint64
	OrdersSubmitted       uint64
	OrdersTimeoutAck      uint64
	OrdersTimeoutFill     uint64
}

// TrackerStats is a point-in-time summary of the Order Tracker.
type TrackerStats struct {
	Tracked         int
	FinalizedByState map[OrderState]uint64
}

func normalizeField(s string) string {
	return trimAndLower(s)
}

// Clock is a small indirection so tests can freeze a fake clock; the
// production Clock implementation wraps time.Now directly.
type Clock interface {
	NowNanos() int64
	Now() time.Time
}

// systemClock is the production Clock backed by the wall clock.
type systemClock struct{}

// NewSystemClock returns the production Clock, the single monotonic
// source every TTL in the kernel is measured against (SPEC_FULL §5).
func NewSystemClock() Clock { return systemClock{} }

func (systemClock) NowNanos() int64   { return time.Now().UnixNano() }
func (systemClock) Now() time.Time    { return time.Now() }
