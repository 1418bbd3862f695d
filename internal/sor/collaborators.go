package sor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MarketDataSource supplies top-of-book quotes to the Venue Scorer and the
// pretrade guards. Implementations must return a domain error for an
// unknown (venue, symbol) pair rather than a zero Quote.
type MarketDataSource interface {
	TopOfBook(ctx context.Context, venue, symbol string) (Quote, error)
}

// WatchdogSource reports market-data freshness per (venue, symbol), gating
// the Market-Data Freshness guard.
type WatchdogSource interface {
	Beat(venue, symbol string, ts time.Time)
	IsStale(venue, symbol string, now time.Time) bool
	StalenessMS(venue, symbol string, now time.Time) float64
	GetP95(venue string) float64
	CooldownActive(venue string) bool
}

// SymbolMetaSource supplies exchange quantization rules for the Pretrade
// Strict guard.
type SymbolMetaSource interface {
	Get(venue, symbol string) (SymbolMeta, bool)
}

// LedgerSink is the durable record of orders, fills and structured events.
// The kernel never blocks broker I/O on it; writes happen out of band.
type LedgerSink interface {
	RecordOrder(ctx context.Context, order TrackedOrderSnapshot) error
	RecordFill(ctx context.Context, fill Fill) error
	UpdateOrderStatus(ctx context.Context, coid string, state OrderState) error
	GetOrder(ctx context.Context, coid string) (TrackedOrderSnapshot, bool, error)
	FetchOpenOrders(ctx context.Context) ([]TrackedOrderSnapshot, error)
	RecordEvent(ctx context.Context, level, code string, payload map[string]interface{}) error
}

// ExchangeCredentials are the secrets a BrokerAdapter needs to sign
// requests against a given venue alias.
type ExchangeCredentials struct {
	APIKey    string
	APISecret string
	Passphrase string
}

// SecretsSource resolves exchange credentials for the broker layer only;
// the kernel core never reads secrets directly.
type SecretsSource interface {
	GetExchangeCredentials(alias string) (ExchangeCredentials, error)
}

// BrokerAdapter is the venue-facing execution surface. The kernel core
// never calls these directly — it returns orders to a host adapter via a
// channel, mirroring the execution engine's venue-dispatch idiom.
type BrokerAdapter interface {
	CreateOrder(ctx context.Context, intent Intent, coid string) error
	Cancel(ctx context.Context, venue, coid string) error
	GetPositions(ctx context.Context, venue string) ([]Position, error)
	GetFills(ctx context.Context, venue, symbol string) ([]Fill, error)
	Balances(ctx context.Context, venue string) (map[string]decimal.Decimal, error)
}

// UniverseProvider supplies the currently tradeable pair set for the
// Universe Enforcement guard.
type UniverseProvider interface {
	AllowedPairs(ctx context.Context) (map[string]bool, error)
}

// ReadinessAggregator reports whether all required upstream signals
// (market data, reconciliation, etc.) are healthy and fresh, gating the
// optional Readiness Aggregator guard.
type ReadinessAggregator interface {
	Ready(ctx context.Context) (ok bool, missing []string)
}
