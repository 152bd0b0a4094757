package mode

import (
	"fmt"
	"strings"

	"github.com/atmx/arena-engine/internal/risk"
)

type monk struct{ ruleBook }

func (s *monk) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a patient, capital-preserving A-share trader in a simulated contest.\n")
	b.WriteString("You trade rarely and only on clear setups. Doing nothing is a valid and often correct decision.\n")
	b.WriteString("Every BUY must carry a stop-loss. You never add to a stock you already hold.\n")
	fmt.Fprintf(&b, "Once realized losses for the day reach %s%% of initial capital you stop trading until tomorrow.\n\n",
		s.rules.DailyLossCapPct.StringFixed(2))
	b.WriteString(outputFormat(s.rules))
	return b.String()
}

func (s *monk) UserPrompt(c *Context) string {
	c = withAccount(c)
	var b strings.Builder
	writeHeader(&b, c, s.rules)

	if dailyLossBreached(c, s.rules) {
		fmt.Fprintf(&b, "## Trading halted\nRealized loss today is %s%% of initial capital, at or beyond the %s%% daily cap.\n",
			risk.DailyLossPct(c.Account.RealizedToday, c.Account.InitialCapital).StringFixed(2),
			s.rules.DailyLossCapPct.StringFixed(2))
		b.WriteString("No trading today. Do not propose any BUY or SELL. Return an empty actions list and explain what you will watch tomorrow.\n")
		return b.String()
	}

	writeAccount(&b, c)
	writeHoldings(&b, c, false)
	writeRecentTrades(&b, c.RecentTrades, s.rules.RecentTradeLimit)
	writeMarket(&b, c.Snapshot, true)
	writeConstraints(&b, s.rules, c.Account)
	b.WriteString("## Task\nAct only if a setup is clearly favourable. Every BUY needs a stop_loss below the current price.\n")
	return b.String()
}
