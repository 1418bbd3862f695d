package sor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GuardVerdict is a single guard's decision. Allow=false blocks the
// submit; Reason/Detail are surfaced verbatim on SubmitResult.
type GuardVerdict struct {
	Allow  bool
	Reason string
	Detail string
}

func allow() GuardVerdict { return GuardVerdict{Allow: true} }

func block(reason, detail string) GuardVerdict {
	return GuardVerdict{Allow: false, Reason: reason, Detail: detail}
}

// GuardContext carries everything a guard might need to evaluate a single
// intent. Fields are populated by the Facade before invoking the
// pipeline; guards never reach back into the Facade themselves.
type GuardContext struct {
	Intent       Intent
	IntentKey    string
	PairID       string
	Notional     decimal.Decimal
	SymbolMeta   SymbolMeta
	HasMeta      bool
	Now          time.Time

	LiveConfirmToken string
	LiveTOTPValid    bool
	ReadinessOK      bool

	RiskCapReason  string // set by caller if a pre-computed risk-cap breach applies
	PnLCapReason   string
}

// Guard is a single named pre-trade predicate.
type Guard interface {
	Name() string
	Evaluate(ctx context.Context, gctx *GuardContext) GuardVerdict
}

// Pipeline runs an ordered chain of guards; the first to block wins.
type Pipeline struct {
	guards []Guard
}

// NewPipeline builds a pipeline from an explicit, already-ordered guard
// list, so callers control exactly which optional guards are wired in for
// a given profile/flag combination.
func NewPipeline(guards ...Guard) *Pipeline {
	return &Pipeline{guards: guards}
}

// Evaluate runs every guard in order and returns the first block, or an
// allow verdict if every guard passes.
func (p *Pipeline) Evaluate(ctx context.Context, gctx *GuardContext) GuardVerdict {
	for _, g := range p.guards {
		v := g.Evaluate(ctx, gctx)
		if !v.Allow {
			return v
		}
	}
	return allow()
}

type funcGuard struct {
	name string
	fn   func(ctx context.Context, gctx *GuardContext) GuardVerdict
}

func (g funcGuard) Name() string { return g.name }
func (g funcGuard) Evaluate(ctx context.Context, gctx *GuardContext) GuardVerdict {
	return g.fn(ctx, gctx)
}

// NewSafeModeGuard blocks when the controller is in HOLD or KILL.
func NewSafeModeGuard(controller *SafeModeController) Guard {
	return funcGuard{"safe-mode", func(_ context.Context, _ *GuardContext) GuardVerdict {
		if controller.Status().State != SafeModeNormal {
			return block("safe-mode", string(controller.Status().State))
		}
		return allow()
	}}
}

// NewLiveConfirmGuard requires an operator confirmation token (validated
// by the caller against a live TOTP code) and a readiness-OK flag before
// allowing submits in the live profile.
func NewLiveConfirmGuard() Guard {
	return funcGuard{"live-confirm", func(_ context.Context, gctx *GuardContext) GuardVerdict {
		if gctx.LiveConfirmToken == "" || !gctx.LiveTOTPValid {
			return block("live-confirm-missing", "")
		}
		if !gctx.ReadinessOK {
			return block("live-readiness-not-ok", "")
		}
		return allow()
	}}
}

// NewUniverseGuard enforces the tradeable pair universe.
func NewUniverseGuard(provider UniverseProvider) Guard {
	return funcGuard{"universe", func(ctx context.Context, gctx *GuardContext) GuardVerdict {
		ok, reason := CheckPairAllowed(ctx, provider, gctx.PairID)
		if !ok {
			return block(reason, "")
		}
		return allow()
	}}
}

// NewReadinessAggregatorGuard requires every required upstream signal to
// be healthy and fresh.
func NewReadinessAggregatorGuard(agg ReadinessAggregator) Guard {
	return funcGuard{"readiness-agg", func(ctx context.Context, _ *GuardContext) GuardVerdict {
		ok, missing := agg.Ready(ctx)
		if !ok {
			return block("readiness-agg", fmt.Sprintf("%v", missing))
		}
		return allow()
	}}
}

// NewMarketDataFreshnessGuard blocks on a stale last tick or excessive p95
// staleness, engaging the watchdog's recovery cooldown on a p95 trip.
func NewMarketDataFreshnessGuard(wd *Watchdog, p95LimitMS float64) Guard {
	return funcGuard{"marketdata-fresh", func(_ context.Context, gctx *GuardContext) GuardVerdict {
		venue, symbol := gctx.Intent.Venue, gctx.Intent.Symbol
		if wd.CooldownActive(venue) {
			return block("marketdata_stale", "cooldown")
		}
		if wd.IsStale(venue, symbol, gctx.Now) {
			return block("marketdata_stale", "")
		}
		if p95LimitMS > 0 {
			if p95 := wd.GetP95(venue); p95 > p95LimitMS {
				wd.TripCooldown(venue, gctx.Now)
				return block("marketdata_stale", "md_stale_p95")
			}
		}
		return allow()
	}}
}

// NewPretradeStrictGuard enforces SymbolMeta-derived quantization and
// minimum-size rules.
func NewPretradeStrictGuard() Guard {
	return funcGuard{"pretrade-strict", func(_ context.Context, gctx *GuardContext) GuardVerdict {
		intent := gctx.Intent
		if intent.Qty.LessThanOrEqual(decimal.Zero) {
			return block("pretrade_rejected", "qty_invalid")
		}
		if intent.Type == OrderTypeLimit && (!intent.HasPrice || intent.Price.LessThanOrEqual(decimal.Zero)) {
			return block("pretrade_rejected", "price_invalid")
		}
		if !gctx.HasMeta {
			return block("pretrade_rejected", "no_meta")
		}
		meta := gctx.SymbolMeta
		if !meta.StepSize.IsZero() && !modZero(intent.Qty, meta.StepSize) {
			return block("pretrade_rejected", "qty_step")
		}
		if intent.HasPrice && !meta.TickSize.IsZero() && !modZero(intent.Price, meta.TickSize) {
			return block("pretrade_rejected", "price_tick")
		}
		if meta.HasMinQty && intent.Qty.LessThan(meta.MinQty) {
			return block("pretrade_rejected", "min_qty")
		}
		if meta.HasNotional && gctx.Notional.LessThan(meta.MinNotional) {
			return block("pretrade_rejected", "min_notional")
		}
		return allow()
	}}
}

func modZero(value, step decimal.Decimal) bool {
	if step.IsZero() {
		return true
	}
	remainder := value.Mod(step)
	return remainder.Abs().LessThan(decimal.New(1, -8))
}

// NewRiskCapsGuard blocks when the caller has already flagged a notional
// cap breach on the GuardContext (RiskCapReason) before invoking the
// pipeline. The Router sets it only for the account-wide total-notional
// governor limit; per-venue, per-symbol and per-strategy caps are not
// computed.
func NewRiskCapsGuard() Guard {
	return funcGuard{"risk-caps", func(_ context.Context, gctx *GuardContext) GuardVerdict {
		if gctx.RiskCapReason != "" {
			return block("risk-blocked:"+gctx.RiskCapReason, gctx.RiskCapReason)
		}
		return allow()
	}}
}

// NewPnLCapsGuard blocks when a realized-loss or drawdown cap has already
// been flagged as breached on the GuardContext.
func NewPnLCapsGuard() Guard {
	return funcGuard{"pnl-caps", func(_ context.Context, gctx *GuardContext) GuardVerdict {
		if gctx.PnLCapReason != "" {
			return block("pnl-cap", gctx.PnLCapReason)
		}
		return allow()
	}}
}

// NewRiskBudgetGuard consults a BudgetRegistry for the intent's strategy
// and symbol.
func NewRiskBudgetGuard(registry *BudgetRegistry) Guard {
	return funcGuard{"risk-budget", func(_ context.Context, gctx *GuardContext) GuardVerdict {
		ok, reason := registry.CanAccept(gctx.Intent.Strategy, gctx.Intent.Symbol, gctx.Notional, gctx.Now)
		if !ok {
			return block("risk-budget", reason)
		}
		return allow()
	}}
}

// NewCooldownGuard consults the CooldownRegistry for the intent's
// (venue, symbol).
func NewCooldownGuard(registry *CooldownRegistry) Guard {
	return funcGuard{"cooldown", func(_ context.Context, gctx *GuardContext) GuardVerdict {
		hit, active := registry.Check(gctx.Intent.Venue, gctx.Intent.Symbol, gctx.Now)
		if active {
			remaining := hit.Remaining(gctx.Now).Seconds()
			return block("cooldown", fmt.Sprintf("%.2f", remaining))
		}
		return allow()
	}}
}

// NewIntentDedupGuard consults the IntentWindow for the fingerprint key.
func NewIntentDedupGuard(window *IntentWindow) Guard {
	return funcGuard{"intent-dedup", func(_ context.Context, gctx *GuardContext) GuardVerdict {
		if window.IsDuplicate(gctx.IntentKey, gctx.Now) {
			return block("dupe-intent", "")
		}
		return allow()
	}}
}

// NewOutboxInflightGuard consults the Outbox for a pending/acked entry for
// the same intent key.
func NewOutboxInflightGuard(outbox *Outbox) Guard {
	return funcGuard{"outbox-inflight", func(_ context.Context, gctx *GuardContext) GuardVerdict {
		state, ok := outbox.State(gctx.IntentKey)
		if ok && (state == OutboxPending || state == OutboxAcked) {
			return block("outbox-inflight", string(state))
		}
		return allow()
	}}
}
