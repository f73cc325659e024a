// Package pricefeed produces current quotes and OHLC histories for the
// configured assets without requiring a live market connection.
//
// Quotes are deterministic within a fixed time window: every call in the
// same window for the same asset sees the identical price. When a primary
// (live) source is configured it is tried first with a bounded timeout;
// any failure degrades to the synthetic bounded-random-walk source and is
// never surfaced to callers.
//
// Prices cross the package boundary as shopspring/decimal. The walk itself
// runs on float64 and results are converted to decimal immediately, the
// same split the rest of the engine uses for transcendental math.
package pricefeed

import (
	"github.com/shopspring/decimal"

	"github.com/claerdex/trading-engine/internal/config"
)

// Asset is one tradable symbol with its synthetic-walk parameters.
// Precision is declared per asset: low-unit-value assets carry more decimal
// places than high-unit-value ones.
type Asset struct {
	Symbol     string
	BasePrice  float64
	Volatility float64
	Precision  int32
}

// Round rounds a raw price to this asset's declared precision.
func (a Asset) Round(price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Round(a.Precision)
}

// Registry is the set of assets the feed knows about. Symbols outside the
// registry get the zero-price sentinel quote, never an error.
type Registry struct {
	assets map[string]Asset
	order  []string
}

// NewRegistry builds a registry from declared asset configuration,
// preserving declaration order.
func NewRegistry(configs []config.AssetConfig) *Registry {
	r := &Registry{assets: make(map[string]Asset, len(configs))}
	for _, c := range configs {
		r.assets[c.Symbol] = Asset{
			Symbol:     c.Symbol,
			BasePrice:  c.BasePrice,
			Volatility: c.Volatility,
			Precision:  c.Precision,
		}
		r.order = append(r.order, c.Symbol)
	}
	return r
}

// Get returns the asset for symbol, if registered.
func (r *Registry) Get(symbol string) (Asset, bool) {
	a, ok := r.assets[symbol]
	return a, ok
}

// Has reports whether symbol is registered.
func (r *Registry) Has(symbol string) bool {
	_, ok := r.assets[symbol]
	return ok
}

// Symbols returns all registered symbols in declaration order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// intervalSeconds maps the supported chart intervals to their width.
var intervalSeconds = map[string]int64{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
}

// ValidInterval reports whether interval is a supported chart interval.
func ValidInterval(interval string) bool {
	_, ok := intervalSeconds[interval]
	return ok
}

// IntervalSeconds returns the width of a supported interval in seconds,
// defaulting to one minute for unrecognized values.
func IntervalSeconds(interval string) int64 {
	if s, ok := intervalSeconds[interval]; ok {
		return s
	}
	return 60
}

// Intervals returns the supported interval names.
func Intervals() []string {
	return []string{"1m", "5m", "15m", "1h", "4h", "1d"}
}
