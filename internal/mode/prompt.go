package mode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/marketdata"
	"github.com/atmx/arena-engine/internal/model"
	"github.com/atmx/arena-engine/internal/risk"
)

const (
	compactMovers = 3
	compactNews   = 3
	compactFunds  = 5
)

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func signedPct(d decimal.Decimal) string {
	s := d.StringFixed(2) + "%"
	if d.IsPositive() {
		return "+" + s
	}
	return s
}

func writeAccount(b *strings.Builder, c *Context) {
	a := c.Account
	pv := a.PortfolioValue()
	pnl := pv.Sub(a.InitialCapital)
	pnlPct := decimal.Zero
	if a.InitialCapital.IsPositive() {
		pnlPct = pnl.Div(a.InitialCapital).Mul(decimal.NewFromInt(100))
	}

	b.WriteString("## Account\n")
	fmt.Fprintf(b, "- Cash: %s\n", money(a.Cash))
	fmt.Fprintf(b, "- Holdings value: %s\n", money(a.HoldingsValue()))
	fmt.Fprintf(b, "- Portfolio value: %s (initial %s, %s)\n", money(pv), money(a.InitialCapital), signedPct(pnlPct))
	fmt.Fprintf(b, "- Realized P&L today: %s\n", money(a.RealizedToday))
	fmt.Fprintf(b, "- Trades: %d total, %d winning (win rate %s%%)\n",
		c.Participant.TotalTrades, c.Participant.WinningTrades, c.Participant.WinRate().StringFixed(2))
	b.WriteString("\n")
}

func writeHoldings(b *strings.Builder, c *Context, leveraged bool) {
	holdings := c.Account.SortedHoldings()
	b.WriteString("## Holdings\n")
	if len(holdings) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, h := range holdings {
		fmt.Fprintf(b, "- %s %s: qty %s, avg %s, price %s, value %s, P&L %s",
			h.StockCode, h.StockName, h.Quantity.String(), money(h.AvgBuyPrice),
			money(h.CurrentPrice), money(h.MarketValue()), signedPct(h.PnLPct()))
		if h.StopLoss.IsPositive() {
			fmt.Fprintf(b, ", stop-loss %s", money(h.StopLoss))
		}
		if leveraged && h.Leveraged() {
			fmt.Fprintf(b, ", leverage %sx, notional %s, liquidation %s",
				h.Leverage.StringFixed(2), money(h.Notional()), money(h.LiquidationPrice()))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeRecentTrades(b *strings.Builder, trades []model.Trade, limit int) {
	b.WriteString("## Recent trades\n")
	if len(trades) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	for _, t := range trades {
		fmt.Fprintf(b, "- %s %s %s %s @ %s",
			t.ExecutedAt.Format("2006-01-02 15:04"), t.Action, t.Quantity.String(), t.StockCode, money(t.Price))
		if t.RealizedPnL != nil {
			fmt.Fprintf(b, " realized %s", money(*t.RealizedPnL))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeMovers(b *strings.Builder, title string, movers []marketdata.Mover, limit int) {
	if len(movers) == 0 {
		return
	}
	if limit > 0 && len(movers) > limit {
		movers = movers[:limit]
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, m := range movers {
		fmt.Fprintf(b, "- %s %s %s (%s)\n", m.Code, m.Name, money(m.Price), signedPct(m.ChangePct))
	}
}

func writeMarket(b *strings.Builder, s *marketdata.Snapshot, compact bool) {
	if s == nil {
		b.WriteString("## Market\nMarket data unavailable.\n\n")
		return
	}
	fmt.Fprintf(b, "## Market (as of %s)\n", s.Timestamp.Format("2006-01-02 15:04"))
	fmt.Fprintf(b, "%s: %s (%s)", s.Index.Name, money(s.Index.Level), signedPct(s.Index.ChangePct))
	if !compact {
		fmt.Fprintf(b, ", turnover %s, net inflow %s", money(s.Index.Turnover), money(s.Index.NetInflow))
	}
	b.WriteString("\n")
	br := s.Breadth
	fmt.Fprintf(b, "Breadth: %d up, %d down, %d flat, %d limit-up, %d limit-down, buy pressure %s%%\n",
		br.Advancers, br.Decliners, br.Unchanged, br.LimitUp, br.LimitDown, br.BuyPressure.StringFixed(1))

	moverLimit, newsLimit := 0, 0
	if compact {
		moverLimit, newsLimit = compactMovers, compactNews
	}
	writeMovers(b, "Top gainers", s.Movers.Gainers, moverLimit)
	writeMovers(b, "Top losers", s.Movers.Losers, moverLimit)
	if !compact {
		writeMovers(b, "Volume leaders", s.Movers.VolumeLeaders, 0)
	}

	news := s.News
	if newsLimit > 0 && len(news) > newsLimit {
		news = news[:newsLimit]
	}
	if len(news) > 0 {
		b.WriteString("News:\n")
		for _, n := range news {
			fmt.Fprintf(b, "- [%s] %s\n", n.Sentiment, n.Title)
		}
	}

	codes := make([]string, 0, len(s.Fundamentals))
	for code := range s.Fundamentals {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	if compact && len(codes) > compactFunds {
		codes = codes[:compactFunds]
	}
	if len(codes) > 0 {
		b.WriteString("Fundamentals:\n")
		for _, code := range codes {
			f := s.Fundamentals[code]
			fmt.Fprintf(b, "- %s %s", f.Code, f.Name)
			if q, ok := s.Prices[code]; ok {
				fmt.Fprintf(b, ": price %s (%s)", money(q.Price), signedPct(q.ChangePct()))
			}
			fmt.Fprintf(b, ", PE %s, PB %s, revenue YoY %s, profit YoY %s, category %d (%s)\n",
				f.PE.StringFixed(1), f.PB.StringFixed(1), signedPct(f.RevenueYoY), signedPct(f.ProfitYoY),
				f.Category, marketdata.YoYLabel(f.Category))
		}
	}

	if !compact {
		var quoteOnly []string
		for code := range s.Prices {
			if _, ok := s.Fundamentals[code]; !ok {
				quoteOnly = append(quoteOnly, code)
			}
		}
		sort.Strings(quoteOnly)
		if len(quoteOnly) > 0 {
			b.WriteString("Quotes:\n")
			for _, code := range quoteOnly {
				q := s.Prices[code]
				fmt.Fprintf(b, "- %s %s %s (%s)\n", code, q.Name, money(q.Price), signedPct(q.ChangePct()))
			}
		}
	}

	if len(s.Degraded) > 0 {
		fmt.Fprintf(b, "Note: %s unavailable, defaults shown.\n", strings.Join(s.Degraded, ", "))
	}
	b.WriteString("\n")
}

func writeConstraints(b *strings.Builder, r RuleSet, a *Account) {
	b.WriteString("## Constraints\n")
	fmt.Fprintf(b, "- At most %d actions this session.\n", r.MaxTradesPerSession)
	fmt.Fprintf(b, "- A single stock may not exceed %s%% of portfolio value.\n", a.maxPositionPct(r).StringFixed(0))
	fmt.Fprintf(b, "- Minimum trade value %s; fee %s%% of trade value.\n",
		money(a.MinTradeValue), a.FeeRate.Mul(decimal.NewFromInt(100)).StringFixed(2))
	if !r.AllowAddToPosition {
		b.WriteString("- Do not add to a stock you already hold.\n")
	}
	if r.MandatoryStopLoss {
		b.WriteString("- Every BUY must include a stop_loss below the current price.\n")
	}
	if r.DailyLossCapPct.IsPositive() {
		fmt.Fprintf(b, "- Trading stops for the day once realized losses reach %s%% of initial capital.\n",
			r.DailyLossCapPct.StringFixed(2))
	}
	if r.Leveraged() {
		fmt.Fprintf(b, "- Every BUY must set leverage between %sx and %sx; anything else is set to %sx.\n",
			r.MinLeverage.StringFixed(2), r.MaxLeverage.StringFixed(2), r.MinLeverage.StringFixed(2))
	}
	b.WriteString("\n")
}

func outputFormat(r RuleSet) string {
	var b strings.Builder
	b.WriteString("Respond with one JSON object and nothing else:\n")
	b.WriteString("{\n")
	b.WriteString(`  "market_sentiment": "bullish | bearish | neutral",` + "\n")
	b.WriteString(`  "analysis": "short reasoning",` + "\n")
	b.WriteString(`  "analyzed_stocks": ["600519"],` + "\n")
	b.WriteString(`  "actions": [` + "\n")
	b.WriteString(`    {"action": "BUY | SELL | HOLD", "stock_code": "600519", "stock_name": "name", "quantity": 100, "reason": "why"`)
	if r.MandatoryStopLoss {
		b.WriteString(`, "stop_loss": 0.00 (required for BUY)`)
	} else {
		b.WriteString(`, "stop_loss": 0.00`)
	}
	b.WriteString(`, "take_profit": 0.00`)
	if r.Leveraged() {
		fmt.Fprintf(&b, `, "leverage": %s`, r.MinLeverage.StringFixed(1))
	}
	b.WriteString("}\n")
	b.WriteString("  ],\n")
	b.WriteString(`  "risk_note": "main risk"` + "\n")
	b.WriteString("}\n")
	b.WriteString("Quantities are whole shares. A SELL without quantity closes the whole position. Return an empty actions list to stand aside.\n")
	return b.String()
}

func writeHeader(b *strings.Builder, c *Context, r RuleSet) {
	fmt.Fprintf(b, "Participant: %s\n", c.Participant.DisplayName)
	fmt.Fprintf(b, "Mode: %s\n", r.Mode)
	if c.Competition.Name != "" {
		fmt.Fprintf(b, "Competition: %s, %s to %s\n", c.Competition.Name,
			c.Competition.StartDate.Format("2006-01-02"), c.Competition.EndDate.Format("2006-01-02"))
	}
	b.WriteString("\n")
}

func dailyLossBreached(c *Context, r RuleSet) bool {
	if !r.DailyLossCapPct.IsPositive() || c.Account == nil {
		return false
	}
	return risk.DailyLossBreached(c.Account.RealizedToday, c.Account.InitialCapital, r.DailyLossCapPct)
}
