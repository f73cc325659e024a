package pricefeed

import (
	"context"
	"math/rand"
	"time"

	"github.com/claerdex/trading-engine/internal/model"
)

// Synthetic generates quotes and histories from a seeded bounded random
// walk anchored at each asset's base price. It needs no network and never
// fails for registered assets.
type Synthetic struct {
	registry      *Registry
	seed          SeedFunc
	windowSeconds int64
	now           func() time.Time
}

// NewSynthetic creates a synthetic source. seed and now are injectable for
// deterministic tests; nil selects DefaultSeed and time.Now.
func NewSynthetic(registry *Registry, windowSeconds int, seed SeedFunc, now func() time.Time) *Synthetic {
	if seed == nil {
		seed = DefaultSeed
	}
	if now == nil {
		now = time.Now
	}
	return &Synthetic{
		registry:      registry,
		seed:          seed,
		windowSeconds: int64(windowSeconds),
		now:           now,
	}
}

// uniform draws from [lo, hi) using the given PRNG.
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// Quote returns the deterministic synthetic price for the current window.
// Unknown assets get the zero-price sentinel.
//
// The instantaneous price is base × (1 + cumulative perturbation), where the
// cumulative perturbation sums bounded uniform steps drawn one per recent
// window, each from a PRNG seeded by that window. The result is clamped to
// ±10% of the base price and rounded to the asset's precision.
func (s *Synthetic) Quote(_ context.Context, symbol string) (model.Quote, error) {
	now := s.now()
	asset, ok := s.registry.Get(symbol)
	if !ok {
		return model.Quote{Asset: symbol, Timestamp: now}, nil
	}

	window := now.Unix() / s.windowSeconds

	// Walk backward over recent windows so consecutive windows share most
	// of their steps and the price moves as a path, not as noise.
	steps := window % 100
	if steps > 20 {
		steps = 20
	}
	var cumulative float64
	for i := int64(0); i < steps; i++ {
		rng := rand.New(rand.NewSource(s.seed(symbol, window-i)))
		cumulative += uniform(rng, -asset.Volatility, asset.Volatility)
	}

	price := asset.BasePrice * (1 + cumulative)

	// Clamp to ±10% of base.
	if min := asset.BasePrice * 0.9; price < min {
		price = min
	}
	if max := asset.BasePrice * 1.1; price > max {
		price = max
	}

	return model.Quote{
		Asset:     symbol,
		Price:     asset.Round(price),
		Timestamp: now,
	}, nil
}

// History synthesizes limit OHLC points at the given interval spacing by
// walking backward from the current synthetic quote. Points come back in
// chronological order with strictly increasing millisecond timestamps.
// Unknown assets yield an empty series.
func (s *Synthetic) History(ctx context.Context, symbol, interval string, limit int) ([]model.OHLCPoint, error) {
	asset, ok := s.registry.Get(symbol)
	if !ok || limit <= 0 {
		return nil, nil
	}

	quote, _ := s.Quote(ctx, symbol)
	return s.walkBack(asset, quote.Price.InexactFloat64(), interval, limit), nil
}

// walkBack produces the backward walk from an anchor price. Split out so
// the resolver can synthesize history anchored at a primary-source quote.
func (s *Synthetic) walkBack(asset Asset, anchor float64, interval string, limit int) []model.OHLCPoint {
	seconds := IntervalSeconds(interval)
	now := s.now().Unix()

	points := make([]model.OHLCPoint, limit)
	price := anchor

	for i := 0; i < limit; i++ {
		ts := now - int64(i)*seconds

		rng := rand.New(rand.NewSource(s.seed(asset.Symbol, ts)))
		change := uniform(rng, -asset.Volatility, asset.Volatility)

		// The most recent point keeps the anchor price as-is; older points
		// walk the price backward.
		if i > 0 {
			price = price * (1 - change)
		}
		rounded := asset.Round(price).InexactFloat64()

		// Small intra-bucket jitter for the open/high/low figures.
		jitter := rand.New(rand.NewSource(s.seed(asset.Symbol, ts) + 1))
		variation := rounded * 0.001

		points[limit-1-i] = model.OHLCPoint{
			Timestamp: ts * 1000,
			Open:      asset.Round(rounded - uniform(jitter, -variation, variation)),
			High:      asset.Round(rounded + uniform(jitter, 0, variation)),
			Low:       asset.Round(rounded - uniform(jitter, 0, variation)),
			Close:     asset.Round(rounded),
		}
	}

	return points
}
