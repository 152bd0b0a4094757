package mode

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// liquidationWarnPct flags holdings whose price is within this distance of
// liquidation.
var liquidationWarnPct = decimal.NewFromInt(10)

type maxLeverage struct{ ruleBook }

func (s *maxLeverage) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an aggressive A-share trader running a leveraged book in a simulated contest.\n")
	fmt.Fprintf(&b, "Every position is opened with leverage between %sx and %sx. Gains and losses on margin are multiplied by leverage.\n",
		s.rules.MinLeverage.StringFixed(2), s.rules.MaxLeverage.StringFixed(2))
	b.WriteString("A position whose price falls to its liquidation price loses its whole margin. Manage that risk explicitly.\n\n")
	b.WriteString(outputFormat(s.rules))
	return b.String()
}

func (s *maxLeverage) UserPrompt(c *Context) string {
	c = withAccount(c)
	var b strings.Builder
	writeHeader(&b, c, s.rules)
	writeAccount(&b, c)
	writeHoldings(&b, c, true)
	s.writeLiquidationRisk(&b, c)
	writeRecentTrades(&b, c.RecentTrades, s.rules.RecentTradeLimit)
	writeMarket(&b, c.Snapshot, false)
	writeConstraints(&b, s.rules, c.Account)
	fmt.Fprintf(&b, "## Task\nChoose trades and a leverage for each BUY within [%s, %s]. Cut positions that are close to liquidation.\n",
		s.rules.MinLeverage.StringFixed(2), s.rules.MaxLeverage.StringFixed(2))
	return b.String()
}

func (s *maxLeverage) writeLiquidationRisk(b *strings.Builder, c *Context) {
	var lines []string
	for _, h := range c.Account.SortedHoldings() {
		if !h.Leveraged() || !h.CurrentPrice.IsPositive() {
			continue
		}
		liq := h.LiquidationPrice()
		distance := h.CurrentPrice.Sub(liq).Div(h.CurrentPrice).Mul(decimal.NewFromInt(100))
		line := fmt.Sprintf("- %s: leveraged P&L %s, %s%% above liquidation %s",
			h.StockCode, signedPct(h.PnLPct()), distance.StringFixed(2), money(liq))
		if distance.LessThan(liquidationWarnPct) {
			line += " [DANGER]"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("## Liquidation risk\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
}
