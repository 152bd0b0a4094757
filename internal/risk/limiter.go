// Package risk implements the account-level limits every trade proposal is
// checked against: per-position concentration, the daily realized-loss cap
// and the leverage band.
//
// All arithmetic is decimal; boundaries are exact, so a loss of exactly the
// cap trips it and one cent less does not.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionLimitExceeded is returned when a trade would push a single
	// position beyond the maximum share of portfolio value.
	ErrPositionLimitExceeded = errors.New("risk: position limit exceeded")

	// ErrDailyLossCapReached is returned once realized losses for the day
	// have reached the configured cap.
	ErrDailyLossCapReached = errors.New("risk: daily loss cap reached")

	hundred = decimal.NewFromInt(100)
)

// PositionLimiter enforces a maximum position size expressed as a percentage
// of portfolio value. Position size is measured as committed capital
// (quantity × price), so leverage does not loosen the cap.
type PositionLimiter struct {
	// MaxPositionPct is the largest share of portfolio value any single
	// stock may occupy, in percent (30 → 30%).
	MaxPositionPct decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given percentage cap.
// A non-positive cap disables the limit.
func NewPositionLimiter(maxPositionPct decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{MaxPositionPct: maxPositionPct}
}

// Cap returns the maximum position value for the given portfolio value.
func (l *PositionLimiter) Cap(portfolioValue decimal.Decimal) decimal.Decimal {
	return portfolioValue.Mul(l.MaxPositionPct).Div(hundred)
}

// CheckLimit validates whether adding addValue to a position currently worth
// existingValue stays within the cap.
func (l *PositionLimiter) CheckLimit(portfolioValue, existingValue, addValue decimal.Decimal) error {
	if !l.MaxPositionPct.IsPositive() {
		return nil
	}
	if existingValue.Add(addValue).GreaterThan(l.Cap(portfolioValue)) {
		return ErrPositionLimitExceeded
	}
	return nil
}

// MaxAdditionalQuantity returns the largest whole-share quantity that can be
// bought at price without breaching the cap. Returns zero when the position
// is already at or above the cap.
func (l *PositionLimiter) MaxAdditionalQuantity(portfolioValue, existingValue, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	room := l.Cap(portfolioValue).Sub(existingValue)
	if !room.IsPositive() {
		return decimal.Zero
	}
	return room.Div(price).Floor()
}

// DailyLossBreached reports whether the realized P&L for the day (negative
// for a loss) has reached capPct percent of initialCapital. A non-positive
// cap never trips.
func DailyLossBreached(realizedToday, initialCapital, capPct decimal.Decimal) bool {
	if !capPct.IsPositive() {
		return false
	}
	limit := initialCapital.Mul(capPct).Div(hundred)
	return realizedToday.Neg().GreaterThanOrEqual(limit)
}

// CheckDailyLoss returns ErrDailyLossCapReached, annotated with the loss
// and the cap, once DailyLossBreached trips.
func CheckDailyLoss(realizedToday, initialCapital, capPct decimal.Decimal) error {
	if !DailyLossBreached(realizedToday, initialCapital, capPct) {
		return nil
	}
	return fmt.Errorf("%w: lost %s%% of initial capital today (cap %s%%)", ErrDailyLossCapReached,
		DailyLossPct(realizedToday, initialCapital).StringFixed(2), capPct.StringFixed(2))
}

// DailyLossPct returns the realized loss for the day as a positive percentage
// of initial capital (zero when the day is flat or profitable).
func DailyLossPct(realizedToday, initialCapital decimal.Decimal) decimal.Decimal {
	if !realizedToday.IsNegative() || !initialCapital.IsPositive() {
		return decimal.Zero
	}
	return realizedToday.Neg().Div(initialCapital).Mul(hundred).Round(2)
}

// ClampLeverage coerces requested into [min, max]. Values outside the band
// fall back to min rather than the nearest bound.
func ClampLeverage(requested, min, max decimal.Decimal) decimal.Decimal {
	if requested.LessThan(min) || requested.GreaterThan(max) {
		return min
	}
	return requested
}
