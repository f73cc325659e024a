// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of a leveraged position.
const (
	SideLong  = "long"
	SideShort = "short"
)

// ValidSide reports whether s is a recognized position side.
func ValidSide(s string) bool {
	return s == SideLong || s == SideShort
}

// Quote is a single price observation for an asset. Immutable once produced.
// A zero Price is the "no price" sentinel for unknown assets; callers must
// check it before using the quote in financial math.
type Quote struct {
	Asset     string          `json:"asset"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// HasPrice reports whether the quote carries a usable price.
func (q Quote) HasPrice() bool {
	return q.Price.IsPositive()
}

// OHLCPoint is one bucket of a price history series. Timestamp is in
// milliseconds; within one series timestamps are strictly increasing.
type OHLCPoint struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
}

// Stats24h summarizes the last 24 hours of an asset's price action.
type Stats24h struct {
	High          decimal.Decimal `json:"high_24h"`
	Low           decimal.Decimal `json:"low_24h"`
	Open          decimal.Decimal `json:"open_24h"`
	Change        decimal.Decimal `json:"change_24h"`
	ChangePercent decimal.Decimal `json:"change_percent_24h"`
}

// Position is one open leveraged position. Created on open, destroyed on
// close; the unrealized fields are recomputed against a fresh quote on every
// account read and are never authoritative state.
type Position struct {
	ID               string          `json:"id"`
	Asset            string          `json:"asset"`
	Side             string          `json:"side"` // "long" or "short"
	SizeUSD          decimal.Decimal `json:"size_usd"`
	CollateralAE     decimal.Decimal `json:"collateral_ae"`
	Leverage         decimal.Decimal `json:"leverage"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	UnrealizedPnLUSD decimal.Decimal `json:"unrealized_pnl_usd"`
	UnrealizedPnLAE  decimal.Decimal `json:"unrealized_pnl_ae"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	OpenedAt         time.Time       `json:"opened_at"`
}

// Account is the per-address collateral ledger. Positions are owned by the
// account (insertion order preserved); no position exists detached from one.
//
// Invariant after every open/close:
//
//	AvailableCollateralAE = OnChainBalanceAE − Σ CollateralAE of open positions
type Account struct {
	Address               string          `json:"address"`
	OnChainBalanceAE      decimal.Decimal `json:"on_chain_balance_ae"`
	AvailableCollateralAE decimal.Decimal `json:"available_collateral_ae"`
	Positions             []Position      `json:"positions"`
}

// FindPosition returns the open position with the given id, or nil.
func (a *Account) FindPosition(id string) *Position {
	for i := range a.Positions {
		if a.Positions[i].ID == id {
			return &a.Positions[i]
		}
	}
	return nil
}

// RemovePosition deletes the position with the given id, preserving the
// order of the remaining positions. Returns false if no such position.
func (a *Account) RemovePosition(id string) bool {
	for i := range a.Positions {
		if a.Positions[i].ID == id {
			a.Positions = append(a.Positions[:i], a.Positions[i+1:]...)
			return true
		}
	}
	return false
}

// LockedCollateral returns the sum of collateral backing open positions.
func (a *Account) LockedCollateral() decimal.Decimal {
	total := decimal.Zero
	for i := range a.Positions {
		total = total.Add(a.Positions[i].CollateralAE)
	}
	return total
}
