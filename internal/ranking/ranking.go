// Package ranking marks every participant's portfolio to market and assigns
// ranks. Ranks are dense (ties share a rank) and scoped to a mode:
// participants in different modes never compete with each other.
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/marketdata"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Valuator recomputes valuations and ranks.
type Valuator struct {
	store store.Store
	feed  marketdata.Feed // optional; nil keeps stored prices
}

// NewValuator creates a valuator. feed may be nil.
func NewValuator(st store.Store, feed marketdata.Feed) *Valuator {
	return &Valuator{store: st, feed: feed}
}

// Valuate refreshes holding prices, recomputes every participant's value
// and P&L, assigns mode-scoped dense ranks and persists the result. Prices
// in known take precedence; remaining codes are fetched from the feed, and
// a code nobody can price keeps its stored price.
func (v *Valuator) Valuate(ctx context.Context, known map[string]decimal.Decimal) ([]model.Valuation, error) {
	participants, err := v.store.ListParticipants(ctx, store.ParticipantFilter{})
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	holdings := make(map[string][]model.Holding, len(participants))
	var missing []string
	seen := make(map[string]bool)
	for _, p := range participants {
		hs, err := v.store.ListHoldings(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("list holdings for %s: %w", p.ID, err)
		}
		holdings[p.ID] = hs
		for _, h := range hs {
			if _, ok := known[h.StockCode]; !ok && !seen[h.StockCode] {
				seen[h.StockCode] = true
				missing = append(missing, h.StockCode)
			}
		}
	}

	prices := make(map[string]decimal.Decimal, len(known)+len(missing))
	for code, price := range known {
		if price.IsPositive() {
			prices[code] = price
		}
	}
	if len(missing) > 0 && v.feed != nil {
		sort.Strings(missing)
		quotes, err := v.feed.Quotes(ctx, missing)
		if err != nil {
			slog.Warn("price refresh failed, using stored prices", "codes", len(missing), "err", err)
		}
		for code, q := range quotes {
			if q.Price.IsPositive() {
				prices[code] = q.Price
			}
		}
	}

	vals := make([]model.Valuation, 0, len(participants))
	modes := make(map[string]model.Mode, len(participants))
	for _, p := range participants {
		holdingsValue := decimal.Zero
		for _, h := range holdings[p.ID] {
			if price, ok := prices[h.StockCode]; ok && !price.Equal(h.CurrentPrice) {
				h.CurrentPrice = price
				if err := v.store.UpsertHolding(ctx, &h); err != nil {
					return nil, fmt.Errorf("refresh price %s/%s: %w", p.ID, h.StockCode, err)
				}
			}
			holdingsValue = holdingsValue.Add(h.MarketValue())
		}
		vals = append(vals, Compute(&p, holdingsValue))
		modes[p.ID] = p.Mode
	}

	AssignRanks(vals, modes)

	if err := v.store.UpdateValuations(ctx, vals); err != nil {
		return nil, fmt.Errorf("save valuations: %w", err)
	}
	slog.Info("valuations updated", "participants", len(vals), "priced_codes", len(prices))
	return vals, nil
}

// Compute derives a participant's valuation from its cash and the current
// value of its holdings. Rank is left zero.
func Compute(p *model.Participant, holdingsValue decimal.Decimal) model.Valuation {
	portfolio := p.CashBalance.Add(holdingsValue)
	pnl := portfolio.Sub(p.InitialCapital)
	pct := decimal.Zero
	if p.InitialCapital.IsPositive() {
		pct = pnl.Div(p.InitialCapital).Mul(hundred).Round(4)
	}
	return model.Valuation{
		ParticipantID:  p.ID,
		HoldingsValue:  holdingsValue,
		PortfolioValue: portfolio,
		TotalPnL:       pnl,
		PnLPct:         pct,
	}
}

// AssignRanks sets a dense rank 1..N within each mode by descending
// portfolio value. Equal values share a rank. vals is reordered: by mode,
// then rank, then participant ID.
func AssignRanks(vals []model.Valuation, modes map[string]model.Mode) {
	sort.SliceStable(vals, func(i, j int) bool {
		mi, mj := modes[vals[i].ParticipantID], modes[vals[j].ParticipantID]
		if mi != mj {
			return mi < mj
		}
		if !vals[i].PortfolioValue.Equal(vals[j].PortfolioValue) {
			return vals[i].PortfolioValue.GreaterThan(vals[j].PortfolioValue)
		}
		return vals[i].ParticipantID < vals[j].ParticipantID
	})

	for i := range vals {
		switch {
		case i == 0 || modes[vals[i].ParticipantID] != modes[vals[i-1].ParticipantID]:
			vals[i].Rank = 1
		case vals[i].PortfolioValue.Equal(vals[i-1].PortfolioValue):
			vals[i].Rank = vals[i-1].Rank
		default:
			vals[i].Rank = vals[i-1].Rank + 1
		}
	}
}
