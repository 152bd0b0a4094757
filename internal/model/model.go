// Package model defines the core domain types shared across the arena engine.
// All monetary values use shopspring/decimal; never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode is the rule set a participant trades under for a whole competition.
type Mode string

const (
	ModeNewBaseline          Mode = "NEW_BASELINE"
	ModeMonk                 Mode = "MONK_MODE"
	ModeSituationalAwareness Mode = "SITUATIONAL_AWARENESS"
	ModeMaxLeverage          Mode = "MAX_LEVERAGE"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeNewBaseline, ModeMonk, ModeSituationalAwareness, ModeMaxLeverage}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// ParticipantStatus is the lifecycle state of a participant.
type ParticipantStatus string

const (
	StatusActive       ParticipantStatus = "active"
	StatusPaused       ParticipantStatus = "paused"
	StatusDisqualified ParticipantStatus = "disqualified"
)

// Action is a trade direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// QuantityEpsilon is the threshold under which a holding counts as empty.
var QuantityEpsilon = decimal.NewFromFloat(0.0001)

// Participant is one AI-driven competitor and its account ledger.
type Participant struct {
	ID             string            `json:"id" db:"id"`
	ModelID        string            `json:"model_id" db:"model_id"`
	DisplayName    string            `json:"display_name" db:"display_name"`
	Mode           Mode              `json:"mode" db:"mode"`
	InitialCapital decimal.Decimal   `json:"initial_capital" db:"initial_capital"`
	CashBalance    decimal.Decimal   `json:"cash_balance" db:"cash_balance"`
	PortfolioValue decimal.Decimal   `json:"portfolio_value" db:"portfolio_value"`
	TotalTrades    int               `json:"total_trades" db:"total_trades"`
	WinningTrades  int               `json:"winning_trades" db:"winning_trades"`
	RealizedPnL    decimal.Decimal   `json:"realized_pnl" db:"realized_pnl"` // Σ realized over all SELLs
	TotalPnL       decimal.Decimal   `json:"total_pnl" db:"total_pnl"`       // portfolio - initial
	PnLPct         decimal.Decimal   `json:"pnl_pct" db:"pnl_pct"`
	Rank           int               `json:"rank" db:"rank"`
	Status         ParticipantStatus `json:"status" db:"status"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// WinRate returns winning trades as a percentage of all trades.
func (p *Participant) WinRate() decimal.Decimal {
	if p.TotalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(p.WinningTrades)).
		Div(decimal.NewFromInt(int64(p.TotalTrades))).
		Mul(decimal.NewFromInt(100)).Round(2)
}

// Holding is a participant's open position in one stock.
// Quantity is always > 0; empty holdings are deleted, never stored.
type Holding struct {
	ID            string          `json:"id" db:"id"`
	ParticipantID string          `json:"participant_id" db:"participant_id"`
	StockCode     string          `json:"stock_code" db:"stock_code"`
	StockName     string          `json:"stock_name" db:"stock_name"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	AvgBuyPrice   decimal.Decimal `json:"avg_buy_price" db:"avg_buy_price"`
	CurrentPrice  decimal.Decimal `json:"current_price" db:"current_price"`
	Leverage      decimal.Decimal `json:"leverage" db:"leverage"` // zero or one means unleveraged
	StopLoss      decimal.Decimal `json:"stop_loss" db:"stop_loss"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Leveraged reports whether the holding carries leverage above 1x.
func (h *Holding) Leveraged() bool {
	return h.Leverage.GreaterThan(decimal.NewFromInt(1))
}

// EffectiveLeverage returns the leverage factor, treating unset as 1x.
func (h *Holding) EffectiveLeverage() decimal.Decimal {
	if h.Leveraged() {
		return h.Leverage
	}
	return decimal.NewFromInt(1)
}

// Margin is the capital committed to the position.
func (h *Holding) Margin() decimal.Decimal {
	return h.Quantity.Mul(h.AvgBuyPrice)
}

// Notional is the leveraged exposure: margin × leverage.
func (h *Holding) Notional() decimal.Decimal {
	return h.Margin().Mul(h.EffectiveLeverage())
}

// UnrealizedPnL is the mark-to-market gain, scaled once by leverage.
func (h *Holding) UnrealizedPnL() decimal.Decimal {
	return h.CurrentPrice.Sub(h.AvgBuyPrice).Mul(h.Quantity).Mul(h.EffectiveLeverage())
}

// MarketValue is the holding's contribution to portfolio value. For an
// unleveraged holding this is quantity × current price; for a leveraged one
// it is margin plus leveraged P&L, floored at zero (liquidated).
func (h *Holding) MarketValue() decimal.Decimal {
	if !h.Leveraged() {
		return h.Quantity.Mul(h.CurrentPrice)
	}
	v := h.Margin().Add(h.UnrealizedPnL())
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// LiquidationPrice is the price at which leveraged losses consume the margin.
// Zero for unleveraged holdings.
func (h *Holding) LiquidationPrice() decimal.Decimal {
	if !h.Leveraged() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	return h.AvgBuyPrice.Mul(one.Sub(one.Div(h.Leverage))).Round(4)
}

// PnLPct is the position return on margin in percent, leverage included.
func (h *Holding) PnLPct() decimal.Decimal {
	if h.AvgBuyPrice.IsZero() {
		return decimal.Zero
	}
	return h.CurrentPrice.Sub(h.AvgBuyPrice).
		Div(h.AvgBuyPrice).
		Mul(h.EffectiveLeverage()).
		Mul(decimal.NewFromInt(100)).Round(2)
}

// Trade is an immutable record of an executed action. Once written it is
// never modified or deleted; it is the audit trail for the ledger.
type Trade struct {
	ID            string           `json:"id" db:"id"`
	ParticipantID string           `json:"participant_id" db:"participant_id"`
	SessionID     string           `json:"session_id" db:"session_id"`
	StockCode     string           `json:"stock_code" db:"stock_code"`
	StockName     string           `json:"stock_name" db:"stock_name"`
	Action        Action           `json:"action" db:"action"`
	Quantity      decimal.Decimal  `json:"quantity" db:"quantity"`
	Price         decimal.Decimal  `json:"price" db:"price"`
	Fees          decimal.Decimal  `json:"fees" db:"fees"`
	RealizedPnL   *decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // nil for BUY
	Reasoning     string           `json:"reasoning" db:"reasoning"`
	Mode          Mode             `json:"mode" db:"mode"`
	Leverage      decimal.Decimal  `json:"leverage" db:"leverage"`
	StopLoss      decimal.Decimal  `json:"stop_loss" db:"stop_loss"`
	ExecutedAt    time.Time        `json:"executed_at" db:"executed_at"`
}

// Fill is everything one executed trade changes: the participant's updated
// cash and counters, the holding afterwards (nil when the position closed)
// and the trade record. Stores apply a Fill as a single unit.
type Fill struct {
	Trade       Trade       `json:"trade"`
	Participant Participant `json:"participant"`
	Holding     *Holding    `json:"holding,omitempty"`
}

// CompetitionConfig is the single active competition record. It is read-only
// during a session; edits apply to later sessions.
type CompetitionConfig struct {
	ID             string          `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	StartDate      time.Time       `json:"start_date" db:"start_date"`
	EndDate        time.Time       `json:"end_date" db:"end_date"`
	FeePct         decimal.Decimal `json:"fee_pct" db:"fee_pct"` // percent, e.g. 0.15
	MinTradeValue  decimal.Decimal `json:"min_trade_value" db:"min_trade_value"`
	MaxPositionPct decimal.Decimal `json:"max_position_pct" db:"max_position_pct"`
	InitialCapital decimal.Decimal `json:"initial_capital" db:"initial_capital"`
	IsActive       bool            `json:"is_active" db:"is_active"`
}

// FeeRate returns the fee as a fraction (0.15% → 0.0015).
func (c *CompetitionConfig) FeeRate() decimal.Decimal {
	return c.FeePct.Div(decimal.NewFromInt(100))
}

// Covers reports whether t falls on a calendar day within [StartDate,
// EndDate], both inclusive. Days are taken in loc (UTC when nil), so the
// result does not depend on the zone the dates were stored in.
func (c *CompetitionConfig) Covers(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	day := calendarDay(t, loc)
	return !day.Before(calendarDay(c.StartDate, loc)) && !day.After(calendarDay(c.EndDate, loc))
}

func calendarDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AIDecision is the write-only audit record of one provider response.
type AIDecision struct {
	ID             string    `json:"id" db:"id"`
	ParticipantID  string    `json:"participant_id" db:"participant_id"`
	SessionID      string    `json:"session_id" db:"session_id"`
	ModelID        string    `json:"model_id" db:"model_id"`
	Mode           Mode      `json:"mode" db:"mode"`
	RawResponse    string    `json:"raw_response" db:"raw_response"`
	Parsed         bool      `json:"parsed" db:"parsed"`
	Sentiment      string    `json:"sentiment" db:"sentiment"`
	AnalyzedStocks []string  `json:"analyzed_stocks" db:"analyzed_stocks"`
	TokensUsed     int       `json:"tokens_used" db:"tokens_used"`
	LatencyMs      int64     `json:"latency_ms" db:"latency_ms"`
	Error          string    `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Valuation is the output of one mark-to-market pass for a participant.
type Valuation struct {
	ParticipantID  string          `json:"participant_id"`
	HoldingsValue  decimal.Decimal `json:"holdings_value"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	PnLPct         decimal.Decimal `json:"pnl_pct"`
	Rank           int             `json:"rank"`
}
