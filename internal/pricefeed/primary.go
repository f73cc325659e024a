package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/claerdex/trading-engine/internal/model"
)

// marketDataIDs maps asset symbols to the market-data API's coin IDs.
var marketDataIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"AE":  "aeternity",
}

// PrimarySource fetches quotes from an external oracle endpoint and OHLC
// history from a CoinGecko-compatible market-data API. Every call is bounded
// by the client timeout; errors are returned to the resolver, which degrades
// to synthesis.
type PrimarySource struct {
	oracleURL     string
	marketDataURL string
	registry      *Registry
	httpClient    *http.Client
}

// NewPrimarySource creates the live source. oracleURL may be empty, in which
// case Quote always errors and the resolver synthesizes. marketDataURL
// defaults to the public CoinGecko API when empty.
func NewPrimarySource(oracleURL, marketDataURL string, registry *Registry, timeout time.Duration) *PrimarySource {
	if marketDataURL == "" {
		marketDataURL = "https://api.coingecko.com/api/v3"
	}
	return &PrimarySource{
		oracleURL:     oracleURL,
		marketDataURL: marketDataURL,
		registry:      registry,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// oraclePrices is the oracle /prices payload. Each entry is either a bare
// number or an object carrying a "price" field.
type oraclePrices struct {
	Data map[string]json.RawMessage `json:"data"`
}

// Quote fetches the asset's current price from the oracle endpoint.
func (p *PrimarySource) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	if p.oracleURL == "" {
		return model.Quote{}, fmt.Errorf("pricefeed: no oracle configured")
	}

	body, err := p.get(ctx, p.oracleURL+"/prices")
	if err != nil {
		return model.Quote{}, err
	}

	var payload oraclePrices
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Quote{}, fmt.Errorf("pricefeed: malformed oracle response: %w", err)
	}

	raw, ok := payload.Data[symbol]
	if !ok {
		return model.Quote{}, fmt.Errorf("pricefeed: oracle has no price for %s", symbol)
	}

	price, err := parseOraclePrice(raw)
	if err != nil {
		return model.Quote{}, err
	}
	if price <= 0 {
		return model.Quote{}, fmt.Errorf("pricefeed: oracle returned non-positive price for %s", symbol)
	}

	asset, ok := p.registry.Get(symbol)
	if !ok {
		return model.Quote{}, fmt.Errorf("pricefeed: %s not registered", symbol)
	}

	return model.Quote{
		Asset:     symbol,
		Price:     asset.Round(price),
		Timestamp: time.Now().UTC(),
	}, nil
}

func parseOraclePrice(raw json.RawMessage) (float64, error) {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, nil
	}
	var obj struct {
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Price, nil
	}
	return 0, fmt.Errorf("pricefeed: unparseable oracle price entry")
}

// marketChart is the market-data history payload: [timestamp_ms, price] pairs.
type marketChart struct {
	Prices [][2]float64 `json:"prices"`
}

// History fetches tick-level prices from the market-data API and normalizes
// them into degenerate OHLC points (open=high=low=close). Returns the most
// recent limit points, oldest first.
func (p *PrimarySource) History(ctx context.Context, symbol, interval string, limit int) ([]model.OHLCPoint, error) {
	coinID, ok := marketDataIDs[symbol]
	if !ok {
		return nil, fmt.Errorf("pricefeed: no market-data mapping for %s", symbol)
	}
	asset, ok := p.registry.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("pricefeed: %s not registered", symbol)
	}

	days := (IntervalSeconds(interval)*int64(limit))/86400 + 1

	u := fmt.Sprintf("%s/coins/%s/market_chart?%s", p.marketDataURL, coinID,
		url.Values{
			"vs_currency": {"usd"},
			"days":        {fmt.Sprintf("%d", days)},
		}.Encode())

	body, err := p.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var chart marketChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("pricefeed: malformed market chart: %w", err)
	}
	if len(chart.Prices) == 0 {
		return nil, fmt.Errorf("pricefeed: empty market chart for %s", symbol)
	}

	ticks := chart.Prices
	if len(ticks) > limit {
		ticks = ticks[len(ticks)-limit:]
	}

	points := make([]model.OHLCPoint, 0, len(ticks))
	var lastTS int64
	for _, tick := range ticks {
		ts := int64(tick[0])
		if ts <= lastTS {
			continue // keep timestamps strictly increasing
		}
		lastTS = ts
		price := asset.Round(tick[1])
		points = append(points, model.OHLCPoint{
			Timestamp: ts,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
		})
	}
	return points, nil
}

func (p *PrimarySource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricefeed: upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pricefeed: read response: %w", err)
	}
	return body, nil
}
