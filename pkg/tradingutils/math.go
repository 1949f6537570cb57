package tradingutils

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int32) decimal.Decimal {
	return price.Round(priceDecimals)
}

// RoundQuantity truncates a quantity to the specified decimals so an order never exceeds its notional
func RoundQuantity(qty decimal.Decimal, qtyDecimals int32) decimal.Decimal {
	return qty.Truncate(qtyDecimals)
}

// NotionalFromPercent returns pct% of balance
func NotionalFromPercent(balance decimal.Decimal, pct float64) decimal.Decimal {
	return balance.Mul(decimal.NewFromFloat(pct)).Div(hundred)
}

// QuantityForNotional converts a notional into a quantity at price, truncated to qtyDecimals.
// Returns zero for a non-positive price or a result below minQty.
func QuantityForNotional(notional, price decimal.Decimal, qtyDecimals int32, minQty decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !notional.IsPositive() {
		return decimal.Zero
	}
	qty := RoundQuantity(notional.Div(price), qtyDecimals)
	if qty.LessThan(minQty) {
		return decimal.Zero
	}
	return qty
}

// PriceAtOffset returns the price fraction away from entry.
// favourable selects the profitable direction for the side (up for long, down for short).
func PriceAtOffset(entry decimal.Decimal, fraction float64, long, favourable bool) decimal.Decimal {
	f := decimal.NewFromFloat(fraction)
	if long != favourable {
		f = f.Neg()
	}
	return entry.Mul(decimal.NewFromInt(1).Add(f))
}

// FavourableMove returns the signed fractional move from entry to price in the position's favour
func FavourableMove(entry, price decimal.Decimal, long bool) float64 {
	if entry.IsZero() {
		return 0
	}
	move := price.Sub(entry).Div(entry)
	if !long {
		move = move.Neg()
	}
	f, _ := move.Float64()
	return f
}

// PnL is (exit - entry) * qty, negated for shorts
func PnL(entry, exit, qty decimal.Decimal, long bool) decimal.Decimal {
	diff := exit.Sub(entry)
	if !long {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}
