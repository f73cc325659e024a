package pricefeed

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/claerdex/trading-engine/internal/metrics"
	"github.com/claerdex/trading-engine/internal/model"
)

// Origin identifies which source produced a feed result. Exposed so tests
// and metrics can observe the primary/fallback choice instead of it hiding
// inside error handling.
type Origin string

const (
	// OriginRecorded means the result came from price points previously
	// recorded in the store.
	OriginRecorded Origin = "recorded"
	// OriginPrimary means the live source answered in time.
	OriginPrimary Origin = "primary"
	// OriginSynthetic means the bounded-random-walk fallback produced it.
	OriginSynthetic Origin = "synthetic"
)

// Source produces quotes and histories. PrimarySource and Synthetic both
// implement it; the Feed composes them.
type Source interface {
	Quote(ctx context.Context, asset string) (model.Quote, error)
	History(ctx context.Context, asset, interval string, limit int) ([]model.OHLCPoint, error)
}

// HistoryStore reads price points previously recorded by the engine.
// Implemented by the persistence layer; nil disables recorded history.
type HistoryStore interface {
	PriceHistory(ctx context.Context, asset, interval string, limit int) ([]model.OHLCPoint, error)
}

// Feed resolves quotes and histories through a two-stage strategy: the
// primary source with a bounded timeout, then deterministic synthesis.
// Feed methods never return errors; unavailability always degrades to a
// synthetic or sentinel value.
type Feed struct {
	registry  *Registry
	primary   Source // nil → synthesis only
	recorded  HistoryStore
	synthetic *Synthetic
	timeout   time.Duration
	maxPoints int
}

// NewFeed composes the resolver. primary and recorded may be nil.
func NewFeed(registry *Registry, primary Source, recorded HistoryStore, synthetic *Synthetic, timeout time.Duration, maxPoints int) *Feed {
	if maxPoints <= 0 {
		maxPoints = 1000
	}
	return &Feed{
		registry:  registry,
		primary:   primary,
		recorded:  recorded,
		synthetic: synthetic,
		timeout:   timeout,
		maxPoints: maxPoints,
	}
}

// Registry returns the asset registry backing this feed.
func (f *Feed) Registry() *Registry {
	return f.registry
}

// Quote returns the current price for an asset. Unknown assets get the
// zero-price sentinel quote.
func (f *Feed) Quote(ctx context.Context, asset string) model.Quote {
	q, _ := f.QuoteOrigin(ctx, asset)
	return q
}

// QuoteOrigin is Quote plus the source that produced it.
func (f *Feed) QuoteOrigin(ctx context.Context, asset string) (model.Quote, Origin) {
	if f.primary != nil {
		qctx, cancel := context.WithTimeout(ctx, f.timeout)
		q, err := f.primary.Quote(qctx, asset)
		cancel()
		if err == nil && q.HasPrice() {
			metrics.FeedResolutions.WithLabelValues("quote", string(OriginPrimary)).Inc()
			return q, OriginPrimary
		}
		if err != nil {
			slog.Debug("primary quote unavailable", "asset", asset, "err", err)
		}
	}

	q, _ := f.synthetic.Quote(ctx, asset)
	metrics.FeedResolutions.WithLabelValues("quote", string(OriginSynthetic)).Inc()
	return q, OriginSynthetic
}

// History returns up to limit OHLC points at the given interval, oldest
// first. Recorded points win over the live source, which wins over
// synthesis. Unknown assets yield an empty series.
func (f *Feed) History(ctx context.Context, asset, interval string, limit int) []model.OHLCPoint {
	points, _ := f.HistoryOrigin(ctx, asset, interval, limit)
	return points
}

// HistoryOrigin is History plus the source that produced it.
func (f *Feed) HistoryOrigin(ctx context.Context, asset, interval string, limit int) ([]model.OHLCPoint, Origin) {
	if !f.registry.Has(asset) {
		return nil, OriginSynthetic
	}
	if limit > f.maxPoints {
		limit = f.maxPoints
	}

	// Recorded points win only when they can satisfy the whole request;
	// a partially warmed series falls through rather than truncating the
	// chart.
	if f.recorded != nil {
		points, err := f.recorded.PriceHistory(ctx, asset, interval, limit)
		if err == nil && len(points) >= limit {
			metrics.FeedResolutions.WithLabelValues("history", string(OriginRecorded)).Inc()
			return points, OriginRecorded
		}
		if err != nil {
			slog.Debug("recorded history unavailable", "asset", asset, "err", err)
		}
	}

	if f.primary != nil {
		hctx, cancel := context.WithTimeout(ctx, f.timeout)
		points, err := f.primary.History(hctx, asset, interval, limit)
		cancel()
		if err == nil && len(points) > 0 {
			metrics.FeedResolutions.WithLabelValues("history", string(OriginPrimary)).Inc()
			return points, OriginPrimary
		}
		if err != nil {
			slog.Debug("primary history unavailable", "asset", asset, "err", err)
		}
	}

	// Synthesize anchored at the resolved current quote so the most recent
	// point matches what quote() reports right now.
	quote, _ := f.QuoteOrigin(ctx, asset)
	a, _ := f.registry.Get(asset)
	points := f.synthetic.walkBack(a, quote.Price.InexactFloat64(), interval, limit)
	metrics.FeedResolutions.WithLabelValues("history", string(OriginSynthetic)).Inc()
	return points, OriginSynthetic
}

// Stats24h derives 24-hour statistics from the 24 most recent hourly points.
func (f *Feed) Stats24h(ctx context.Context, asset string) model.Stats24h {
	current := f.Quote(ctx, asset)
	if !current.HasPrice() {
		return model.Stats24h{
			High:          decimal.Zero,
			Low:           decimal.Zero,
			Open:          decimal.Zero,
			Change:        decimal.Zero,
			ChangePercent: decimal.Zero,
		}
	}

	points := f.History(ctx, asset, "1h", 24)
	if len(points) == 0 {
		return model.Stats24h{
			High:          current.Price,
			Low:           current.Price,
			Open:          current.Price,
			Change:        decimal.Zero,
			ChangePercent: decimal.Zero,
		}
	}

	high := current.Price
	low := current.Price
	for _, p := range points {
		if p.High.GreaterThan(high) {
			high = p.High
		}
		if p.Low.LessThan(low) {
			low = p.Low
		}
	}

	open := points[0].Open
	change := current.Price.Sub(open)

	// Guard division by zero: a zero open yields a zero percent change.
	changePercent := decimal.Zero
	if !open.IsZero() {
		changePercent = change.Div(open).Mul(decimal.NewFromInt(100)).Round(2)
	}

	a, _ := f.registry.Get(asset)
	return model.Stats24h{
		High:          high,
		Low:           low,
		Open:          open,
		Change:        change.Round(a.Precision),
		ChangePercent: changePercent,
	}
}
