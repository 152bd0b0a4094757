package mode

import (
	"strings"

	"github.com/shopspring/decimal"
)

type baseline struct{ ruleBook }

func (s *baseline) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a disciplined A-share portfolio manager competing in a simulated trading contest.\n")
	b.WriteString("You receive your account, holdings and a market snapshot each session and decide which trades to make.\n")
	b.WriteString("Use all of the data provided: index trend, breadth, movers, news and fundamentals.\n")
	b.WriteString("You may open new positions, add to existing ones or sell. Prefer a few high-conviction trades over many small ones.\n\n")
	b.WriteString(outputFormat(s.rules))
	return b.String()
}

func (s *baseline) UserPrompt(c *Context) string {
	c = withAccount(c)
	var b strings.Builder
	writeHeader(&b, c, s.rules)
	writeAccount(&b, c)
	writeHoldings(&b, c, false)
	writeRecentTrades(&b, c.RecentTrades, s.rules.RecentTradeLimit)
	writeMarket(&b, c.Snapshot, false)
	writeConstraints(&b, s.rules, c.Account)
	b.WriteString("## Task\nDecide this session's trades. Be profitable while controlling drawdown.\n")
	return b.String()
}

// withAccount fills in an Account from the participant when the caller left
// it empty, so prompt builders never dereference nil.
func withAccount(c *Context) *Context {
	if c.Account != nil {
		return c
	}
	cp := *c
	cp.Account = NewAccount(&c.Participant, nil, decimal.Zero, &c.Competition, c.Snapshot)
	return &cp
}
