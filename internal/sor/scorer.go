package sor

import "math"

// VenueQuoteContext is what the caller supplies per candidate venue when
// asking the scorer to rank them: price is resolved from ask/bid, book
// liquidity and latencies are best-effort live measurements that fall
// back to model defaults when absent.
type VenueQuoteContext struct {
	Venue              string
	Bid                float64
	Ask                float64
	HasBookLiquidity   bool
	BookLiquidityUSD   float64
	HasRestLatencyMS   bool
	RestLatencyMS      float64
	HasWsLatencyMS     bool
	WsLatencyMS        float64
	BookTsWallNS       int64
}

// VenueScorerConfig holds the model parameters ScoreVenue and ChooseVenue need,
// assembled once from SORConfig and (optionally) per-venue fee overrides.
type VenueScorerConfig struct {
	Fees                  map[string]FeeInfo
	DefaultFee            FeeInfo
	Impact                ImpactModel
	ImpactTargetUSD       float64
	PreferMaker           bool
	LatencyTargetMS       float64
	LatencyWeightBpsPerMS float64
	NowWallNS             int64
	StaleBookThresholdNS  int64
}

// VenueScore is one venue's scored result, used both to pick a winner and
// to surface the full cost breakdown for audit logging.
type VenueScore struct {
	Venue string
	Cost  CostBreakdown
}

// ScoreVenue scores a single venue for the given side/qty, resolving price
// from ask (buy) or bid (sell), falling back to the other side if one side
// of the book is missing; with both sides missing the price is 0 and the
// cost breakdown carries an error.
func ScoreVenue(cfg VenueScorerConfig, ctx VenueQuoteContext, side Side, qty float64) VenueScore {
	price := resolvePrice(ctx, side)

	fee := cfg.DefaultFee
	if override, ok := cfg.Fees[ctx.Venue]; ok {
		fee = override
	}

	restLatencyMS := ctx.RestLatencyMS
	if !ctx.HasRestLatencyMS {
		restLatencyMS = 0
	}
	wsLatencyMS := resolveWsLatency(cfg, ctx)

	notional := price * qty
	liquidity := resolveLiquidity(ctx.BookLiquidityUSD, ctx.HasBookLiquidity, 0, false, notional)

	cost := EffectiveCost(ctx.Venue, price, qty, fee, cfg.PreferMaker, cfg.Impact, liquidity,
		cfg.ImpactTargetUSD, restLatencyMS, wsLatencyMS, cfg.LatencyTargetMS, cfg.LatencyWeightBpsPerMS)
	return VenueScore{Venue: ctx.Venue, Cost: cost}
}

func resolvePrice(ctx VenueQuoteContext, side Side) float64 {
	if side == SideSell {
		if ctx.Bid > 0 {
			return ctx.Bid
		}
		if ctx.Ask > 0 {
			return ctx.Ask
		}
	} else {
		if ctx.Ask > 0 {
			return ctx.Ask
		}
		if ctx.Bid > 0 {
			return ctx.Bid
		}
	}
	if ctx.Bid > 0 && ctx.Ask > 0 {
		return (ctx.Bid + ctx.Ask) / 2
	}
	return 0
}

func resolveWsLatency(cfg VenueScorerConfig, ctx VenueQuoteContext) float64 {
	if ctx.HasWsLatencyMS {
		return ctx.WsLatencyMS
	}
	if ctx.BookTsWallNS <= 0 || cfg.NowWallNS <= 0 {
		return 0
	}
	ageNS := cfg.NowWallNS - ctx.BookTsWallNS
	if ageNS <= 0 {
		return 0
	}
	return float64(ageNS) / 1e6
}

// ChooseVenue scores every candidate and returns the lowest-cost one,
// breaking ties lexicographically by venue name (matching smart_router.py's
// math.isclose near-equal tie-break).
func ChooseVenue(cfg VenueScorerConfig, candidates []VenueQuoteContext, side Side, qty float64) (VenueScore, []VenueScore) {
	scores := make([]VenueScore, 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, ScoreVenue(cfg, c, side, qty))
	}

	var best VenueScore
	found := false
	for _, s := range scores {
		if !found {
			best = s
			found = true
			continue
		}
		if isCloseCost(s.Cost.TotalCostUSD, best.Cost.TotalCostUSD) {
			if s.Venue < best.Venue {
				best = s
			}
			continue
		}
		if s.Cost.TotalCostUSD < best.Cost.TotalCostUSD {
			best = s
		}
	}
	return best, scores
}

const costRelTolerance = 1e-9

func isCloseCost(a, b float64) bool {
	if math.IsInf(a, 1) || math.IsInf(b, 1) {
		return a == b
	}
	diff := math.Abs(a - b)
	return diff <= costRelTolerance*math.Max(math.Abs(a), math.Abs(b))
}
