// Package ledger owns accounts and their leveraged positions: it enforces
// the collateral accounting invariants, orchestrates opens and closes
// against the price feed and the PnL calculator, and exposes the engine's
// HTTP surface.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/claerdex/trading-engine/internal/chain"
	"github.com/claerdex/trading-engine/internal/metrics"
	"github.com/claerdex/trading-engine/internal/model"
	"github.com/claerdex/trading-engine/internal/pnl"
	"github.com/claerdex/trading-engine/internal/pricefeed"
	"github.com/claerdex/trading-engine/internal/store"
)

// recordedPointsKept caps the recorded price history per asset/interval.
const recordedPointsKept = 1000

// BalanceOracle reports an address's on-chain balance in native units. The
// ledger treats it as authoritative and never caches it across requests.
type BalanceOracle interface {
	Balance(ctx context.Context, address string) decimal.Decimal
}

// Attestor records a trade digest externally. Best-effort: failures are
// logged and counted, never propagated as request failures.
type Attestor interface {
	Record(ctx context.Context, position model.Position) (string, error)
}

// StatusProvider reports the latest chain block for the status endpoint.
type StatusProvider interface {
	Status(ctx context.Context) chain.Block
}

// Service is the position ledger. All mutations to one account are
// serialized through a per-address lock; different addresses proceed in
// parallel.
type Service struct {
	store    store.Store
	feed     *pricefeed.Feed
	oracle   BalanceOracle
	attestor Attestor
	status   StatusProvider
	locks    *addressLocks
	wsHub    *WSHub // optional hub for real-time broadcasts
}

// NewService creates the ledger. Pass nil for hub if WebSocket broadcasting
// is not needed.
func NewService(st store.Store, feed *pricefeed.Feed, oracle BalanceOracle, attestor Attestor, status StatusProvider, hub *WSHub) *Service {
	return &Service{
		store:    st,
		feed:     feed,
		oracle:   oracle,
		attestor: attestor,
		status:   status,
		locks:    newAddressLocks(),
		wsHub:    hub,
	}
}

// loadOrCreate resolves the account for address, seeding a fresh one from
// the balance oracle on first reference. The caller must hold the address
// lock.
func (s *Service) loadOrCreate(ctx context.Context, address string) (*model.Account, error) {
	account, err := s.store.GetAccount(ctx, address)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	balance := s.oracle.Balance(ctx, address)
	account = &model.Account{
		Address:               address,
		OnChainBalanceAE:      balance,
		AvailableCollateralAE: balance,
		Positions:             []model.Position{},
	}
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	slog.Info("account created", "address", address, "balance_ae", balance.String())
	return account, nil
}

// Open opens a leveraged position and returns it together with the
// attestation reference (empty when attestation failed).
func (s *Service) Open(ctx context.Context, address, asset, side string, collateral, leverage decimal.Decimal) (*model.Position, string, error) {
	if !s.feed.Registry().Has(asset) {
		return nil, "", ErrUnknownAsset
	}

	mu := s.locks.acquire(address)
	defer mu.Unlock()

	account, err := s.loadOrCreate(ctx, address)
	if err != nil {
		return nil, "", err
	}

	if collateral.GreaterThan(account.AvailableCollateralAE) {
		metrics.OpenRejections.WithLabelValues("insufficient_collateral").Inc()
		return nil, "", ErrInsufficientCollateral
	}

	quote := s.feed.Quote(ctx, asset)
	if !quote.HasPrice() {
		metrics.OpenRejections.WithLabelValues("price_unavailable").Inc()
		return nil, "", ErrPriceUnavailable
	}

	liquidation, err := pnl.LiquidationPrice(quote.Price, leverage, side)
	if err != nil {
		return nil, "", fmt.Errorf("ledger: %w", err)
	}

	position := model.Position{
		ID:               uuid.New().String(),
		Asset:            asset,
		Side:             side,
		SizeUSD:          pnl.PositionSize(collateral, quote.Price, leverage),
		CollateralAE:     collateral,
		Leverage:         leverage,
		EntryPrice:       quote.Price,
		LiquidationPrice: liquidation,
		CurrentPrice:     quote.Price,
		OpenedAt:         time.Now().UTC(),
	}

	account.Positions = append(account.Positions, position)
	account.AvailableCollateralAE = account.AvailableCollateralAE.Sub(collateral)

	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	// Attestation is observability, not a correctness dependency: its
	// failure never rolls back the open.
	txRef, err := s.attestor.Record(ctx, position)
	if err != nil {
		metrics.AttestationFailures.Inc()
		slog.Warn("trade attestation failed", "position", position.ID, "err", err)
		txRef = ""
	}

	metrics.PositionsOpened.WithLabelValues(asset, side).Inc()
	slog.Info("position opened",
		"position", position.ID,
		"address", address,
		"asset", asset,
		"side", side,
		"collateral_ae", collateral.String(),
		"leverage", leverage.String(),
		"entry_price", quote.Price.String(),
		"size_usd", position.SizeUSD.String(),
		"tx", txRef,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "position_opened",
			Asset:      asset,
			Side:       side,
			PositionID: position.ID,
			Price:      quote.Price.String(),
			SizeUSD:    position.SizeUSD.String(),
		})
	}

	return &position, txRef, nil
}

// Close settles and removes a position, returning the realized PnL in
// native units. Collateral is returned plus or minus PnL; a losing close
// legitimately leaves the account below its original deposit and is never
// clamped.
func (s *Service) Close(ctx context.Context, address, positionID string) (decimal.Decimal, error) {
	mu := s.locks.acquire(address)
	defer mu.Unlock()

	account, err := s.loadOrCreate(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}

	position := account.FindPosition(positionID)
	if position == nil {
		return decimal.Zero, ErrPositionNotFound
	}

	quote := s.feed.Quote(ctx, position.Asset)
	if !quote.HasPrice() {
		return decimal.Zero, ErrPriceUnavailable
	}

	result := pnl.Unrealized(position.SizeUSD, position.EntryPrice, quote.Price, position.Side)
	pnlAE := pnl.ToNative(result.PnLUSD, quote.Price)

	// Settlement: collateral returns to available, PnL settles against
	// both available collateral and the tracked balance so the accounting
	// invariant holds after the operation.
	account.AvailableCollateralAE = account.AvailableCollateralAE.Add(position.CollateralAE).Add(pnlAE)
	account.OnChainBalanceAE = account.OnChainBalanceAE.Add(pnlAE)

	closedAsset, closedSide := position.Asset, position.Side
	account.RemovePosition(positionID)

	if err := s.store.SaveAccount(ctx, account); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	metrics.PositionsClosed.WithLabelValues(closedAsset, closedSide).Inc()
	slog.Info("position closed",
		"position", positionID,
		"address", address,
		"asset", closedAsset,
		"close_price", quote.Price.String(),
		"pnl_usd", result.PnLUSD.String(),
		"pnl_ae", pnlAE.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:       "position_closed",
			Asset:      closedAsset,
			Side:       closedSide,
			PositionID: positionID,
			Price:      quote.Price.String(),
			PnLAE:      pnlAE.String(),
		})
	}

	return pnlAE, nil
}

// Refresh returns the live view of an account: the on-chain balance is
// re-pulled from the oracle (never cached) and every open position's
// unrealized fields are recomputed against a fresh quote.
func (s *Service) Refresh(ctx context.Context, address string) (*model.Account, error) {
	mu := s.locks.acquire(address)
	defer mu.Unlock()

	account, err := s.store.GetAccount(ctx, address)
	if errors.Is(err, store.ErrAccountNotFound) {
		return s.loadOrCreate(ctx, address)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	account.OnChainBalanceAE = s.oracle.Balance(ctx, address)
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	for i := range account.Positions {
		p := &account.Positions[i]
		quote := s.feed.Quote(ctx, p.Asset)
		if !quote.HasPrice() {
			continue
		}
		result := pnl.Unrealized(p.SizeUSD, p.EntryPrice, quote.Price, p.Side)
		p.UnrealizedPnLUSD = result.PnLUSD
		p.UnrealizedPnLAE = pnl.ToNative(result.PnLUSD, quote.Price)
		p.CurrentPrice = quote.Price
	}

	return account, nil
}

// AssetPrice is one entry of the all-prices snapshot.
type AssetPrice struct {
	Price decimal.Decimal `json:"price"`
	model.Stats24h
}

// Snapshot returns the current price and 24h stats for every registered
// asset, recording each quote into the stored history as it goes. Recording
// is best-effort; a store hiccup never fails the read.
func (s *Service) Snapshot(ctx context.Context) map[string]AssetPrice {
	out := make(map[string]AssetPrice)
	for _, symbol := range s.feed.Registry().Symbols() {
		quote := s.feed.Quote(ctx, symbol)
		out[symbol] = AssetPrice{
			Price:    quote.Price,
			Stats24h: s.feed.Stats24h(ctx, symbol),
		}
		s.recordTick(ctx, quote)

		if s.wsHub != nil && quote.HasPrice() {
			s.wsHub.Broadcast(WSMessage{
				Type:  "price_tick",
				Asset: symbol,
				Price: quote.Price.String(),
			})
		}
	}
	return out
}

// recordTick appends the quote as a degenerate OHLC point (O=H=L=C) to the
// one-minute recorded series.
func (s *Service) recordTick(ctx context.Context, quote model.Quote) {
	if !quote.HasPrice() {
		return
	}
	point := model.OHLCPoint{
		Timestamp: quote.Timestamp.UnixMilli(),
		Open:      quote.Price,
		High:      quote.Price,
		Low:       quote.Price,
		Close:     quote.Price,
	}
	if err := s.store.AppendPricePoint(ctx, quote.Asset, "1m", point, recordedPointsKept); err != nil {
		slog.Warn("price point not recorded", "asset", quote.Asset, "err", err)
	}
}
