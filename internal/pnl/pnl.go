// Package pnl computes entry-derived figures for leveraged positions:
// liquidation prices, unrealized profit-and-loss, and native-unit
// conversions. Pure functions, no I/O, no state.
//
// USD figures are rounded to 2 decimal places at this boundary. Native-unit
// conversions are deliberately NOT rounded here; rounding them before ledger
// arithmetic would compound error across sequential opens and closes, so
// presentation-time rounding is the caller's job.
package pnl

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/claerdex/trading-engine/internal/model"
)

var (
	// ErrInvalidLeverage is returned when leverage is not positive.
	ErrInvalidLeverage = errors.New("pnl: leverage must be positive")

	// ErrInvalidSide is returned for a side other than long or short.
	ErrInvalidSide = errors.New("pnl: side must be long or short")
)

var hundred = decimal.NewFromInt(100)

// LiquidationPrice computes the price at which a position is wiped out:
//
//	long:  entry × (1 − 1/leverage)
//	short: entry × (1 + 1/leverage)
//
// Leverage 1 yields liquidation at 0 for longs and 2× entry for shorts;
// that is the expected degenerate case, not an error.
func LiquidationPrice(entry, leverage decimal.Decimal, side string) (decimal.Decimal, error) {
	if leverage.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidLeverage
	}

	inverse := decimal.NewFromInt(1).Div(leverage)
	switch side {
	case model.SideLong:
		return entry.Mul(decimal.NewFromInt(1).Sub(inverse)), nil
	case model.SideShort:
		return entry.Mul(decimal.NewFromInt(1).Add(inverse)), nil
	default:
		return decimal.Zero, ErrInvalidSide
	}
}

// Result carries the unrealized PnL of a position in USD terms.
type Result struct {
	PnLUSD     decimal.Decimal
	PnLPercent decimal.Decimal
}

// Unrealized computes the position's profit-and-loss against the current
// price:
//
//	long:  (current − entry) × (sizeUSD / entry)
//	short: (entry − current) × (sizeUSD / entry)
//
// Both outputs are rounded to 2 decimal places. A zero sizeUSD yields a
// zero percent rather than dividing by zero; a zero entry yields a zero
// result (entry > 0 is a position invariant upstream).
func Unrealized(sizeUSD, entry, current decimal.Decimal, side string) Result {
	if entry.IsZero() {
		return Result{PnLUSD: decimal.Zero, PnLPercent: decimal.Zero}
	}

	units := sizeUSD.Div(entry)

	var pnlUSD decimal.Decimal
	if side == model.SideShort {
		pnlUSD = entry.Sub(current).Mul(units)
	} else {
		pnlUSD = current.Sub(entry).Mul(units)
	}
	pnlUSD = pnlUSD.Round(2)

	pnlPercent := decimal.Zero
	if !sizeUSD.IsZero() {
		pnlPercent = pnlUSD.Div(sizeUSD).Mul(hundred).Round(2)
	}

	return Result{PnLUSD: pnlUSD, PnLPercent: pnlPercent}
}

// ToNative converts a USD PnL figure to native units at the current price,
// unrounded. A zero price yields zero.
func ToNative(pnlUSD, currentPrice decimal.Decimal) decimal.Decimal {
	if currentPrice.IsZero() {
		return decimal.Zero
	}
	return pnlUSD.Div(currentPrice)
}

// PositionSize computes the notional size in USD of a position opened with
// the given collateral at the given price and leverage.
func PositionSize(collateral, price, leverage decimal.Decimal) decimal.Decimal {
	return collateral.Mul(price).Mul(leverage)
}
