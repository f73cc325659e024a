// Package chain isolates all Aeternity blockchain communication: the
// on-chain balance query, trade attestation, and network status. Every call
// is time-bounded and degrades to a fallback value; the ledger never blocks
// on the chain being reachable.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/claerdex/trading-engine/internal/config"
	"github.com/claerdex/trading-engine/internal/model"
)

// aettosPerAE converts the chain's smallest unit to whole AE.
var aettosPerAE = decimal.New(1, 18)

// Block is the latest keyblock summary returned by Status.
type Block struct {
	Height            int64  `json:"height"`
	Hash              string `json:"hash"`
	Time              int64  `json:"time"`
	TransactionsCount int    `json:"transactions_count"`
	MicroBlocksCount  int    `json:"micro_blocks_count"`
	Miner             string `json:"miner"`
	Error             string `json:"error,omitempty"`
}

// Client talks to the Aeternity middleware.
type Client struct {
	middlewareURL  string
	httpClient     *http.Client
	defaultBalance decimal.Decimal
}

// NewClient creates a middleware client from chain configuration.
func NewClient(cfg config.ChainConfig) *Client {
	return &Client{
		middlewareURL:  cfg.MiddlewareURL,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		defaultBalance: decimal.NewFromFloat(cfg.DefaultBalanceAE),
	}
}

// Balance queries the address's on-chain balance in AE. The chain is
// authoritative when reachable; otherwise the configured default applies so
// a middleware outage never blocks the ledger.
func (c *Client) Balance(ctx context.Context, address string) decimal.Decimal {
	body, err := c.get(ctx, fmt.Sprintf("%s/v3/accounts/%s", c.middlewareURL, address))
	if err != nil {
		slog.Debug("balance query failed, using default", "address", address, "err", err)
		return c.defaultBalance
	}

	var payload struct {
		Balance json.Number `json:"balance"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Debug("malformed balance response, using default", "address", address, "err", err)
		return c.defaultBalance
	}

	aettos, err := decimal.NewFromString(payload.Balance.String())
	if err != nil || aettos.IsNegative() {
		return c.defaultBalance
	}
	return aettos.Div(aettosPerAE)
}

// Record attests a trade: it hashes the position digest and returns a
// transaction-style reference. Best-effort by contract; the caller logs and
// swallows any error.
func (c *Client) Record(_ context.Context, position model.Position) (string, error) {
	digest := fmt.Sprintf("%s,%s,%s,%s",
		position.ID, position.Asset, position.Side, position.SizeUSD.String())
	sum := sha256.Sum256([]byte(digest))
	return "th_" + hex.EncodeToString(sum[:])[:40], nil
}

// Status fetches the latest keyblock. Middleware failure yields a zeroed
// block carrying the error text instead of propagating it.
func (c *Client) Status(ctx context.Context) Block {
	body, err := c.get(ctx, c.middlewareURL+"/v3/key-blocks?limit=1")
	if err != nil {
		return fallbackBlock(err)
	}

	var payload struct {
		Data []Block `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Data) == 0 {
		return fallbackBlock(fmt.Errorf("chain: no keyblock data"))
	}
	return payload.Data[0]
}

func fallbackBlock(err error) Block {
	return Block{
		Hash:  "unavailable",
		Time:  time.Now().UnixMilli(),
		Miner: "unavailable",
		Error: err.Error(),
	}
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chain: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain: middleware status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
