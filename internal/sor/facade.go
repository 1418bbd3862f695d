package sor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/derivatex/sor-kernel/pkg/observability"
)

// FacadeDeps bundles every collaborator and registry the Router Facade
// orchestrates. Individual registries are constructed by the caller
// (typically cmd/sor-gateway's wiring code) from internal/sorconfig.
type FacadeDeps struct {
	Clock          Clock
	Logger         *observability.Logger
	Tracker        *Tracker
	IntentWindow   *IntentWindow
	Outbox         *Outbox
	Cooldowns      *CooldownRegistry
	Budgets        *BudgetRegistry
	SafeMode       *SafeModeController
	Pipeline       *Pipeline
	MarketData     MarketDataSource
	SymbolMeta     SymbolMetaSource
	Ledger         LedgerSink
	ScorerConfig   VenueScorerConfig
	MinEdgeBps     float64
	Events         *EventStream
	// Venues is the candidate set SubmitInterVenueArb scores. When empty,
	// the venues named in ScorerConfig.Fees are used instead.
	Venues         []string
	LiveConfirm    *LiveConfirmGate
	Readiness      ReadinessAggregator
	GovernorLimits GovernorLimits
}

// Router is the public entrypoint tying the Identifier Service, Guard
// Pipeline, Order Tracker, Idempotency Outbox and Cooldown/Budget
// registries together into the single RegisterOrder/ProcessOrderEvent
// surface the host (gateway, backtester, or CLI) drives.
type Router struct {
	mu   sync.Mutex
	deps FacadeDeps

	audit          AuditCounters
	realizedPnLUSD decimal.Decimal
}

// NewRouter constructs a Router from fully-assembled dependencies.
func NewRouter(deps FacadeDeps) *Router {
	return &Router{deps: deps}
}

// RegisterOrder runs the guard pipeline, derives a deterministic COID, and
// (on allow) registers the order with the Tracker and marks it pending in
// the Outbox. It returns no Go error: business-rule rejections carry the
// guard's Reason, and an internal failure to apply the submit event is
// reported as OK=false with Reason "internal-error" and the error text in
// Detail.
func (r *Router) RegisterOrder(ctx context.Context, intent Intent) SubmitResult {
	now := r.deps.Clock.Now()
	nowNS := r.deps.Clock.NowNanos()
	intentKey := IntentKey(intent)
	coid := MakeCOID(intent.Strategy, intent.Venue, intent.Symbol, string(intent.Side), intent.TimestampNS, intent.Nonce)

	notional := decimal.Zero
	if intent.HasPrice {
		notional = intent.Price.Mul(intent.Qty)
	}

	meta, hasMeta := SymbolMeta{}, false
	if r.deps.SymbolMeta != nil {
		meta, hasMeta = r.deps.SymbolMeta.Get(intent.Venue, intent.Symbol)
	}

	readinessOK := true
	if r.deps.Readiness != nil {
		readinessOK, _ = r.deps.Readiness.Ready(ctx)
	}

	liveTOTPValid := false
	if r.deps.LiveConfirm != nil {
		liveTOTPValid = r.deps.LiveConfirm.Validate(intent.LiveConfirmCode)
	}

	gctx := &GuardContext{
		Intent:           intent,
		IntentKey:        intentKey,
		PairID:           intent.Symbol,
		Notional:         notional,
		SymbolMeta:       meta,
		HasMeta:          hasMeta,
		Now:              now,
		ReadinessOK:      readinessOK,
		LiveConfirmToken: intent.LiveConfirmCode,
		LiveTOTPValid:    liveTOTPValid,
	}
	r.applyRiskCaps(gctx, notional)

	if r.deps.Pipeline != nil {
		verdict := r.deps.Pipeline.Evaluate(ctx, gctx)
		if !verdict.Allow {
			return SubmitResult{OK: false, ClientOrderID: coid, Reason: verdict.Reason, Detail: verdict.Detail}
		}
	}

	if r.deps.Outbox != nil && !r.deps.Outbox.ShouldSend(intentKey, now) {
		return SubmitResult{OK: false, ClientOrderID: coid, Reason: "outbox-inflight"}
	}
	if r.deps.IntentWindow != nil {
		r.deps.IntentWindow.Touch(intentKey, now)
	}

	order := TrackedOrder{
		COID:      coid,
		IntentKey: intentKey,
		Venue:     intent.Venue,
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Qty:       intent.Qty,
		Filled:    decimal.Zero,
		State:     StateNew,
		CreatedNS: nowNS,
		UpdatedNS: nowNS,
	}
	r.deps.Tracker.Register(ctx, order)

	if _, err := r.deps.Tracker.ApplyEvent(ctx, coid, "submit", nil, nowNS); err != nil {
		return SubmitResult{OK: false, ClientOrderID: coid, Reason: "internal-error", Detail: err.Error()}
	}

	if r.deps.Budgets != nil {
		r.deps.Budgets.Reserve(coid, intent.Strategy, intent.Symbol, notional, now)
	}

	r.mu.Lock()
	r.audit.OrdersSubmitted++
	r.mu.Unlock()

	if r.deps.Ledger != nil {
		if snap, ok := r.deps.Tracker.Get(coid); ok {
			_ = r.deps.Ledger.RecordOrder(ctx, TrackedOrderSnapshot{
				COID: snap.COID, IntentKey: snap.IntentKey, Venue: snap.Venue, Symbol: snap.Symbol,
				Side: snap.Side, Qty: snap.Qty, Filled: snap.Filled, State: snap.State,
				CreatedNS: snap.CreatedNS, UpdatedNS: snap.UpdatedNS,
			})
		}
	}

	if r.deps.Events != nil {
		r.deps.Events.Publish(OrderTransitionEvent{
			COID: coid, IntentKey: intentKey, Venue: intent.Venue, Symbol: intent.Symbol,
			State: StatePending, Event: "submit", AtNS: nowNS,
		})
	}

	return SubmitResult{OK: true, ClientOrderID: coid, State: StatePending}
}

// applyRiskCaps computes the account-wide governor check against the
// Budget Registry's current aggregate exposure and the Router's running
// realized P&L, setting RiskCapReason (notional breach) or PnLCapReason
// (loss/drawdown breach) on gctx before the pipeline runs.
func (r *Router) applyRiskCaps(gctx *GuardContext, addNotional decimal.Decimal) {
	limits := r.deps.GovernorLimits
	if !limits.HasMaxDailyLoss && !limits.HasMaxUnrealizedLoss && !limits.HasMaxTotalNotional {
		return
	}

	totalNotional := decimal.Zero
	if r.deps.Budgets != nil {
		snap := r.deps.Budgets.Snapshot()
		for _, v := range snap.TotalByStrategy {
			totalNotional = totalNotional.Add(v)
		}
	}
	totalNotional = totalNotional.Add(addNotional)

	r.mu.Lock()
	realized := r.realizedPnLUSD
	r.mu.Unlock()

	status := CheckGovernorLimits(limits, realized, decimal.Zero, totalNotional)
	if !status.Breached {
		return
	}
	if status.Reason == "max_total_notional" {
		gctx.RiskCapReason = status.Reason
	} else {
		gctx.PnLCapReason = status.Reason
	}
}

// ProcessOrderEvent applies a lifecycle transition, updates accounting,
// releases the budget reservation and settles the outbox on reaching a
// terminal state.
func (r *Router) ProcessOrderEvent(ctx context.Context, coid, event string, quantity *decimal.Decimal, realizedPnLUSD *decimal.Decimal) (OrderState, error) {
	now := r.deps.Clock.Now()
	nowNS := r.deps.Clock.NowNanos()

	state, err := r.deps.Tracker.ApplyEvent(ctx, coid, event, quantity, nowNS)
	if err != nil {
		if errors.Is(err, ErrIllegalTransition) || errors.Is(err, ErrInvalidEvent) {
			if r.deps.Logger != nil {
				r.deps.Logger.Warn(ctx, "router_facade.event_swallowed", map[string]interface{}{
					"component": "router_facade",
					"coid":      coid,
					"event":     event,
					"state":     string(state),
					"error":     err.Error(),
				})
			}
			return state, nil
		}
		return state, err
	}

	if realizedPnLUSD != nil {
		r.mu.Lock()
		r.realizedPnLUSD = r.realizedPnLUSD.Add(*realizedPnLUSD)
		r.mu.Unlock()
	}

	if IsTerminal(state) {
		snap, ok := r.deps.Tracker.Get(coid)
		if ok {
			if r.deps.Budgets != nil {
				r.deps.Budgets.Release(coid)
			}
			if r.deps.Outbox != nil {
				r.deps.Outbox.MarkTerminal(snap.IntentKey, now)
			}
			if r.deps.IntentWindow != nil {
				r.deps.IntentWindow.Forget(snap.IntentKey)
			}
			if r.deps.Ledger != nil {
				_ = r.deps.Ledger.UpdateOrderStatus(ctx, coid, state)
			}
		}
	} else if r.deps.Outbox != nil {
		if snap, ok := r.deps.Tracker.Get(coid); ok {
			r.deps.Outbox.MarkAcked(snap.IntentKey, now)
		}
	}

	if r.deps.Events != nil {
		intentKey := ""
		venue, symbol := "", ""
		if snap, ok := r.deps.Tracker.Get(coid); ok {
			intentKey, venue, symbol = snap.IntentKey, snap.Venue, snap.Symbol
		}
		r.deps.Events.Publish(OrderTransitionEvent{
			COID: coid, IntentKey: intentKey, Venue: venue, Symbol: symbol,
			State: state, Event: event, AtNS: nowNS,
		})
	}

	return state, nil
}

// SubmitInterVenueArb fetches live top-of-book quotes for every candidate
// venue internally (via MarketData), scores the long (buy) and short
// (sell) leg independently across that set, and blocks when the edge (in
// bps of the long price, minus both legs' estimated fees in bps; funding
// is not deducted) is below MinEdgeBps; on success it submits two linked
// legs (long on the
// cheapest-to-buy venue, short on the dearest-to-sell venue) via
// RegisterOrder.
func (r *Router) SubmitInterVenueArb(ctx context.Context, strategy, symbol string, notional decimal.Decimal, tsNanos int64, nonce uint64) ArbResult {
	if r.deps.MarketData == nil {
		return ArbResult{Status: "blocked", Reason: "sor-block:insufficient-venues"}
	}

	candidates := r.arbVenueCandidates()
	contexts := make([]VenueQuoteContext, 0, len(candidates))
	for _, venue := range candidates {
		quote, err := r.deps.MarketData.TopOfBook(ctx, venue, symbol)
		if err != nil {
			continue
		}
		contexts = append(contexts, VenueQuoteContext{
			Venue: venue, Bid: quote.Bid, Ask: quote.Ask, BookTsWallNS: quote.TsWallNS,
		})
	}
	if len(contexts) < 2 {
		return ArbResult{Status: "blocked", Reason: "sor-block:insufficient-venues"}
	}

	qtyFloat, _ := notional.Float64()
	longScore, _ := ChooseVenue(r.deps.ScorerConfig, contexts, SideBuy, qtyFloat)
	shortScore, _ := ChooseVenue(r.deps.ScorerConfig, contexts, SideSell, qtyFloat)

	edgeUSD := shortScore.Cost.Price - longScore.Cost.Price
	edgeBps := 0.0
	if longScore.Cost.Price > 0 {
		edgeBps = (edgeUSD / longScore.Cost.Price) * 10000.0
	}
	for _, leg := range []CostBreakdown{longScore.Cost, shortScore.Cost} {
		if leg.Notional > 0 {
			edgeBps -= leg.FeeUSD / leg.Notional * 10000.0
		}
	}

	if edgeBps < r.deps.MinEdgeBps {
		return ArbResult{Status: "blocked", Reason: "sor-block:edge-too-small"}
	}

	parentID := fmt.Sprintf("arb-%s-%s-%d-%d", strategy, symbol, tsNanos, nonce)

	longIntent := Intent{Strategy: strategy, Venue: longScore.Venue, Symbol: symbol, Side: SideBuy, Qty: notional, TimestampNS: tsNanos, Nonce: nonce, ParentID: parentID, Type: OrderTypeMarket}
	shortIntent := Intent{Strategy: strategy, Venue: shortScore.Venue, Symbol: symbol, Side: SideSell, Qty: notional, TimestampNS: tsNanos, Nonce: nonce + 1, ParentID: parentID, Type: OrderTypeMarket}

	longResult := r.RegisterOrder(ctx, longIntent)
	shortResult := r.RegisterOrder(ctx, shortIntent)

	if !longResult.OK || !shortResult.OK {
		return ArbResult{Status: "blocked", Reason: "leg-rejected"}
	}

	return ArbResult{
		Status: "ok",
		Plan: &ArbPlan{
			ParentID: parentID, LongVenue: longScore.Venue, ShortVenue: shortScore.Venue,
			EdgeBps: edgeBps, LongCOID: longResult.ClientOrderID, ShortCOID: shortResult.ClientOrderID,
		},
	}
}

// arbVenueCandidates returns the configured Venues list, falling back to
// the venue set named in ScorerConfig.Fees.
func (r *Router) arbVenueCandidates() []string {
	if len(r.deps.Venues) > 0 {
		return r.deps.Venues
	}
	venues := make([]string, 0, len(r.deps.ScorerConfig.Fees))
	for venue := range r.deps.ScorerConfig.Fees {
		venues = append(venues, venue)
	}
	sort.Strings(venues)
	return venues
}

// GetOrderSnapshot returns the tracker's current view of coid.
func (r *Router) GetOrderSnapshot(coid string) (TrackedOrderSnapshot, bool) {
	order, ok := r.deps.Tracker.Get(coid)
	if !ok {
		return TrackedOrderSnapshot{}, false
	}
	return TrackedOrderSnapshot{
		COID: order.COID, IntentKey: order.IntentKey, Venue: order.Venue, Symbol: order.Symbol,
		Side: order.Side, Qty: order.Qty, Filled: order.Filled, State: order.State,
		CreatedNS: order.CreatedNS, UpdatedNS: order.UpdatedNS,
	}, true
}

// AuditCountersSnapshot returns a copy of the Facade-level audit counters,
// merged with the Tracker's own event-validation counters.
func (r *Router) AuditCountersSnapshot() AuditCounters {
	r.mu.Lock()
	out := r.audit
	r.mu.Unlock()

	dupReg, dupEvt, outOfOrder, fillNoAck, ackNoReg, invalidEvt := r.deps.Tracker.AuditSnapshot()
	out.DuplicateRegistration += dupReg
	out.DuplicateEvent += dupEvt
	out.OutOfOrder += outOfOrder
	out.FillWithoutAck += fillNoAck
	out.AckMissingRegister += ackNoReg
	out.InvalidEvent += invalidEvt
	return out
}

// GetTrackerStats returns a point-in-time summary of the Order Tracker.
func (r *Router) GetTrackerStats() TrackerStats {
	tracked, finalized := r.deps.Tracker.metrics.Snapshot()
	byState := make(map[OrderState]uint64, len(finalized))
	for state, count := range finalized {
		byState[state] = uint64(count)
	}
	return TrackerStats{Tracked: int(tracked), FinalizedByState: byState}
}

// CleanupTrackerByTTL evicts Tracker entries older than ttl.
func (r *Router) CleanupTrackerByTTL(now time.Time, ttl time.Duration) int {
	return r.deps.Tracker.PruneAged(now.UnixNano(), int64(ttl/time.Second))
}

// CleanupTrackerBySize evicts the oldest Tracker entries down to maxItems.
func (r *Router) CleanupTrackerBySize(now time.Time, maxItems int) int {
	_, removedSize := r.deps.Tracker.Cleanup(now.UnixNano(), 0, maxItems)
	return removedSize
}
