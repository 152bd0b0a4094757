package mode

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/marketdata"
	"github.com/atmx/arena-engine/internal/model"
)

// Account is the ledger view trade proposals are validated against.
// Holdings are keyed by stock code and already marked to the live price.
type Account struct {
	Cash                  decimal.Decimal
	InitialCapital        decimal.Decimal
	RealizedToday         decimal.Decimal // Σ realized P&L of today's SELLs
	Holdings              map[string]model.Holding
	MinTradeValue         decimal.Decimal
	FeeRate               decimal.Decimal // fraction, 0.0015 for 0.15%
	DefaultMaxPositionPct decimal.Decimal
}

// NewAccount builds an Account from stored state. Holdings are re-marked to
// snapshot prices when snap carries one.
func NewAccount(p *model.Participant, holdings []model.Holding, realizedToday decimal.Decimal, comp *model.CompetitionConfig, snap *marketdata.Snapshot) *Account {
	a := &Account{
		Cash:           p.CashBalance,
		InitialCapital: p.InitialCapital,
		RealizedToday:  realizedToday,
		Holdings:       make(map[string]model.Holding, len(holdings)),
	}
	if comp != nil {
		a.MinTradeValue = comp.MinTradeValue
		a.FeeRate = comp.FeeRate()
		a.DefaultMaxPositionPct = comp.MaxPositionPct
	}
	for _, h := range holdings {
		if snap != nil {
			if price, ok := snap.Price(h.StockCode); ok {
				h.CurrentPrice = price
			}
		}
		a.Holdings[h.StockCode] = h
	}
	return a
}

// HoldingsValue is Σ market value over all holdings.
func (a *Account) HoldingsValue() decimal.Decimal {
	total := decimal.Zero
	for _, h := range a.Holdings {
		total = total.Add(h.MarketValue())
	}
	return total
}

// PortfolioValue is cash plus holdings value.
func (a *Account) PortfolioValue() decimal.Decimal {
	return a.Cash.Add(a.HoldingsValue())
}

// SortedHoldings returns holdings ordered by stock code.
func (a *Account) SortedHoldings() []model.Holding {
	out := make([]model.Holding, 0, len(a.Holdings))
	for _, h := range a.Holdings {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockCode < out[j].StockCode })
	return out
}

func (a *Account) maxPositionPct(r RuleSet) decimal.Decimal {
	pct := r.MaxPositionPct
	if a.DefaultMaxPositionPct.IsPositive() && (!pct.IsPositive() || a.DefaultMaxPositionPct.LessThan(pct)) {
		pct = a.DefaultMaxPositionPct
	}
	return pct
}

// HoldingShare is one line in a competitor's top holdings.
type HoldingShare struct {
	Code string          `json:"code"`
	Name string          `json:"name"`
	Pct  decimal.Decimal `json:"pct"` // percent of that competitor's portfolio
}

// Competitor is what a participant may see about a rival in the same mode.
type Competitor struct {
	DisplayName    string          `json:"display_name"`
	Rank           int             `json:"rank"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	PnLPct         decimal.Decimal `json:"pnl_pct"`
	TopHoldings    []HoldingShare  `json:"top_holdings"`
}

// Context is everything a strategy needs to build one participant's prompt.
type Context struct {
	Participant  model.Participant
	Account      *Account
	RecentTrades []model.Trade // newest first
	Snapshot     *marketdata.Snapshot
	Competitors  []Competitor
	Competition  model.CompetitionConfig
}
