// Package mode holds the four competition rule sets and, for each, the
// strategy that turns a participant's state into prompts and checks the
// actions that come back.
//
// Everything in this package is pure: no I/O, no clock reads, no map-order
// dependence. Two participants with identical state in the same mode get
// byte-identical prompts apart from their own identity fields.
package mode

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/model"
)

// ErrUnknownMode is returned by For and DefaultRules for an unrecognised mode.
var ErrUnknownMode = errors.New("mode: unknown mode")

// RuleSet is the static rule set of one mode. Rule sets are not mutable at
// runtime; callers receive copies.
type RuleSet struct {
	Mode                 model.Mode
	MaxPositionPct       decimal.Decimal // percent of portfolio value per stock
	MaxTradesPerSession  int
	AllowAddToPosition   bool
	MinLeverage          decimal.Decimal
	MaxLeverage          decimal.Decimal
	DailyLossCapPct      decimal.Decimal // percent of initial capital; zero disables
	MandatoryStopLoss    bool
	CompetitorVisibility bool
	CompetitorLimit      int
	CompactContext       bool
	RecentTradeLimit     int
}

// Leveraged reports whether the mode trades with leverage above 1x.
func (r RuleSet) Leveraged() bool {
	return r.MaxLeverage.GreaterThan(decimal.NewFromInt(1))
}

// DefaultRules returns the rule set for m.
func DefaultRules(m model.Mode) (RuleSet, error) {
	one := decimal.NewFromInt(1)
	switch m {
	case model.ModeNewBaseline:
		return RuleSet{
			Mode:                m,
			MaxPositionPct:      decimal.NewFromInt(30),
			MaxTradesPerSession: 3,
			AllowAddToPosition:  true,
			MinLeverage:         one,
			MaxLeverage:         one,
			RecentTradeLimit:    10,
		}, nil
	case model.ModeMonk:
		return RuleSet{
			Mode:                m,
			MaxPositionPct:      decimal.NewFromInt(15),
			MaxTradesPerSession: 2,
			MinLeverage:         one,
			MaxLeverage:         one,
			DailyLossCapPct:     decimal.NewFromInt(2),
			MandatoryStopLoss:   true,
			CompactContext:      true,
			RecentTradeLimit:    5,
		}, nil
	case model.ModeSituationalAwareness:
		return RuleSet{
			Mode:                 m,
			MaxPositionPct:       decimal.NewFromInt(30),
			MaxTradesPerSession:  3,
			AllowAddToPosition:   true,
			MinLeverage:          one,
			MaxLeverage:          one,
			CompetitorVisibility: true,
			CompetitorLimit:      5,
			RecentTradeLimit:     10,
		}, nil
	case model.ModeMaxLeverage:
		return RuleSet{
			Mode:                m,
			MaxPositionPct:      decimal.NewFromInt(30),
			MaxTradesPerSession: 2,
			AllowAddToPosition:  true,
			MinLeverage:         decimal.NewFromFloat(2.5),
			MaxLeverage:         decimal.NewFromInt(3),
			RecentTradeLimit:    10,
		}, nil
	}
	return RuleSet{}, fmt.Errorf("%w: %q", ErrUnknownMode, m)
}
