package sor

import "math"

// FeeInfo holds the effective maker/taker fee rate (in basis points) for a
// venue, falling back to a configured default when no manual override is
// present for that venue.
type FeeInfo struct {
	TakerBps float64
	MakerBps float64
}

// ImpactModel estimates market-impact cost as a function of notional
// relative to available liquidity. Coefficient and exponent follow a
// simple power-law impact curve; a zero Coefficient disables impact cost.
type ImpactModel struct {
	Coefficient float64
	Exponent    float64
}

// Estimate returns the impact cost, in USD, of trading `notional` against
// `liquidity`. Liquidity of zero or less is treated as fully illiquid and
// returns +Inf so the venue is never chosen over one with any liquidity
// data at all.
func (m ImpactModel) Estimate(notional, liquidity float64) float64 {
	if liquidity <= 0 {
		return math.Inf(1)
	}
	if m.Coefficient <= 0 {
		return 0
	}
	ratio := notional / liquidity
	exponent := m.Exponent
	if exponent <= 0 {
		exponent = 1
	}
	return m.Coefficient * math.Pow(ratio, exponent) * notional
}

// CostBreakdown is the full decomposition of a single venue's estimated
// execution cost, mirroring the original's effective_cost() return shape.
type CostBreakdown struct {
	Venue             string
	Price             float64
	Notional          float64
	FeeUSD            float64
	ImpactUSD         float64
	ImpactPenaltyUSD  float64
	LatencyPenaltyUSD float64
	LatencyBps        float64
	TotalCostUSD      float64
	Error             string
}

// EffectiveCost computes fee + impact + latency-penalty cost for executing
// qty at `price` on a venue with the given fee schedule, impact model,
// liquidity estimate and measured latencies, matching smart_router.py's
// score() breakdown.
func EffectiveCost(venue string, price, qty float64, fee FeeInfo, preferMaker bool, impact ImpactModel, liquidity float64, impactTargetUSD float64, restLatencyMS, wsLatencyMS, latencyTargetMS, latencyWeightBpsPerMS float64) CostBreakdown {
	if price <= 0 || qty <= 0 {
		return CostBreakdown{Venue: venue, Error: "price_or_qty_invalid", TotalCostUSD: math.Inf(1)}
	}

	notional := price * qty
	feeBps := fee.TakerBps
	if preferMaker {
		feeBps = fee.MakerBps
	}
	feeUSD := notional * feeBps / 10000.0

	impactUSD := impact.Estimate(notional, liquidity)
	impactIncluded := math.Min(impactUSD, impactTargetUSD)
	impactPenalty := math.Max(impactUSD-impactTargetUSD, 0)

	latencyPenalty, latencyBps := latencyPenalty(notional, restLatencyMS, wsLatencyMS, latencyTargetMS, latencyWeightBpsPerMS)

	total := feeUSD + impactIncluded + impactPenalty + latencyPenalty
	return CostBreakdown{
		Venue:             venue,
		Price:             price,
		Notional:          notional,
		FeeUSD:            feeUSD,
		ImpactUSD:         impactUSD,
		ImpactPenaltyUSD:  impactPenalty,
		LatencyPenaltyUSD: latencyPenalty,
		LatencyBps:        latencyBps,
		TotalCostUSD:      total,
	}
}

func latencyPenalty(notional, restLatencyMS, wsLatencyMS, targetMS, weightBpsPerMS float64) (penaltyUSD, bps float64) {
	restExcess := math.Max(restLatencyMS-targetMS, 0)
	wsExcess := math.Max(wsLatencyMS-targetMS, 0)
	bps = weightBpsPerMS * (restExcess + wsExcess)
	penaltyUSD = math.Max(notional*bps/10000.0, 0)
	return penaltyUSD, bps
}

// resolveLiquidity falls back to 2x notional when no live liquidity
// snapshot is available, matching smart_router.py's _resolve_liquidity.
func resolveLiquidity(provided float64, hasProvided bool, snapshot float64, hasSnapshot bool, notional float64) float64 {
	if hasProvided && provided > 0 {
		return provided
	}
	if hasSnapshot && snapshot > 0 {
		return snapshot
	}
	return 2 * notional
}
