// Package marketdata assembles the shared market snapshot every participant
// decides on. The upstream feed is a collaborator; this package only
// aggregates, defaults and classifies what it returns.
package marketdata

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a per-stock price lookup.
type Quote struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Bid           decimal.Decimal `json:"bid"`
	Ask           decimal.Decimal `json:"ask"`
	Volume        int64           `json:"volume"`
}

// ChangePct is the percent move from the previous close.
func (q Quote) ChangePct() decimal.Decimal {
	if q.PreviousClose.IsZero() {
		return decimal.Zero
	}
	return q.Price.Sub(q.PreviousClose).Div(q.PreviousClose).Mul(decimal.NewFromInt(100)).Round(2)
}

// IndexQuote is the headline index level and capital flow.
type IndexQuote struct {
	Name      string          `json:"name"`
	Level     decimal.Decimal `json:"level"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Turnover  decimal.Decimal `json:"turnover"`   // traded value, in 100M units
	NetInflow decimal.Decimal `json:"net_inflow"` // main-force net flow, in 100M units
}

// Breadth summarises advancing vs declining stocks.
type Breadth struct {
	Advancers   int             `json:"advancers"`
	Decliners   int             `json:"decliners"`
	Unchanged   int             `json:"unchanged"`
	LimitUp     int             `json:"limit_up"`
	LimitDown   int             `json:"limit_down"`
	BuyPressure decimal.Decimal `json:"buy_pressure"` // 0-100, share of buy-side volume
}

// Mover is one entry in a gainers/losers/volume leaderboard.
type Mover struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Volume    int64           `json:"volume"`
}

// Movers groups the three leaderboards.
type Movers struct {
	Gainers       []Mover `json:"gainers"`
	Losers        []Mover `json:"losers"`
	VolumeLeaders []Mover `json:"volume_leaders"`
}

// Sentiment tags attached to news items.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// NewsItem is a headline with a sentiment tag.
type NewsItem struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	Sentiment   string    `json:"sentiment"`
	Codes       []string  `json:"codes,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Fundamental carries the valuation and growth signals for one stock.
type Fundamental struct {
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	Industry   string          `json:"industry"`
	PE         decimal.Decimal `json:"pe"`
	PB         decimal.Decimal `json:"pb"`
	ROE        decimal.Decimal `json:"roe"`
	RevenueYoY decimal.Decimal `json:"revenue_yoy"` // percent
	ProfitYoY  decimal.Decimal `json:"profit_yoy"`  // percent
	NetProfit  decimal.Decimal `json:"net_profit"`
	Category   int             `json:"category"` // 1-6, see ClassifyYoY
}

// Snapshot is one consistent view of the market shared by all participants
// in a session.
type Snapshot struct {
	Timestamp    time.Time              `json:"timestamp"`
	Index        IndexQuote             `json:"index"`
	Breadth      Breadth                `json:"breadth"`
	Movers       Movers                 `json:"movers"`
	News         []NewsItem             `json:"news"`
	Fundamentals map[string]Fundamental `json:"fundamentals"`
	Prices       map[string]Quote       `json:"prices"`
	Degraded     []string               `json:"degraded,omitempty"` // sources that fell back to defaults
}

// Price returns the snapshot price for code, if present and positive.
func (s *Snapshot) Price(code string) (decimal.Decimal, bool) {
	q, ok := s.Prices[code]
	if !ok || !q.Price.IsPositive() {
		return decimal.Zero, false
	}
	return q.Price, true
}
