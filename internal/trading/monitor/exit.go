package monitor

import (
	"time"

	"signal_trader/internal/core"
	"signal_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// ExitConfig holds the account-wide exit rules
type ExitConfig struct {
	// HardStopLossPercent applies when the position carries no stop of its own
	HardStopLossPercent float64
	// TrailingActivationPercent is the favourable move from entry that arms the trailing stop
	TrailingActivationPercent float64
}

func DefaultExitConfig() ExitConfig {
	return ExitConfig{HardStopLossPercent: 10, TrailingActivationPercent: 3}
}

// Evaluation is the exit decision for one position at one price.
// Mark always carries the updated water marks, triggered or not.
type Evaluation struct {
	Triggered bool
	Reason    core.ExitReason
	Trigger   decimal.Decimal
	Mark      core.PositionMark
}

// EvaluateExit checks hard stop-loss, then take-profit, then the trailing stop
func EvaluateExit(pos *core.Position, price decimal.Decimal, cfg ExitConfig) Evaluation {
	long := pos.Side != core.SideShort
	entry := pos.EntryPrice

	high, low := pos.HighWater, pos.LowWater
	if high.IsZero() {
		high = entry
	}
	if low.IsZero() {
		low = entry
	}
	high = decimal.Max(high, price)
	low = decimal.Min(low, price)

	ev := Evaluation{Mark: core.PositionMark{
		Price:          price,
		HighWater:      high,
		LowWater:       low,
		TrailingActive: pos.TrailingActive,
		At:             time.Now().UTC(),
	}}

	stop := tradingutils.PriceAtOffset(entry, cfg.HardStopLossPercent/100, long, false)
	if pos.StopLoss.Valid && pos.StopLoss.Decimal.IsPositive() {
		stop = pos.StopLoss.Decimal
	}
	if crossedAgainst(price, stop, long) {
		ev.Triggered, ev.Reason, ev.Trigger = true, core.ExitStopLoss, stop
		return ev
	}

	if tp := pos.TakeProfit; tp.Valid && tp.Decimal.IsPositive() && crossedAgainst(price, tp.Decimal, !long) {
		ev.Triggered, ev.Reason, ev.Trigger = true, core.ExitTakeProfit, tp.Decimal
		return ev
	}

	if pos.TrailingPercent <= 0 {
		return ev
	}
	extreme := high
	if !long {
		extreme = low
	}
	if !ev.Mark.TrailingActive && tradingutils.FavourableMove(entry, extreme, long)*100 >= cfg.TrailingActivationPercent {
		ev.Mark.TrailingActive = true
	}
	if !ev.Mark.TrailingActive {
		return ev
	}
	trail := tradingutils.PriceAtOffset(extreme, pos.TrailingPercent/100, long, false)
	if crossedAgainst(price, trail, long) {
		ev.Triggered, ev.Reason, ev.Trigger = true, core.ExitTrailingStop, trail
	}
	return ev
}

// crossedAgainst reports whether price is at or past level in the losing direction for the side.
// Passing !long checks the winning direction.
func crossedAgainst(price, level decimal.Decimal, long bool) bool {
	if long {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}
