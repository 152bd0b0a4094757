package mode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/model"
)

const topHoldingsPerCompetitor = 3

type situational struct{ ruleBook }

func (s *situational) SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an A-share trader in a simulated contest against other AI traders running the same rules.\n")
	b.WriteString("Your goal is to finish first in the ranking, not merely to be profitable.\n")
	b.WriteString("You can see the leaders' portfolio values, returns and largest positions. Decide whether to follow, fade or ignore them.\n")
	b.WriteString("If you lead, protect the lead. If you trail, take calculated risk to close the gap.\n\n")
	b.WriteString(outputFormat(s.rules))
	return b.String()
}

func (s *situational) UserPrompt(c *Context) string {
	c = withAccount(c)
	var b strings.Builder
	writeHeader(&b, c, s.rules)
	if c.Participant.Rank > 0 {
		fmt.Fprintf(&b, "Your current rank: %d\n\n", c.Participant.Rank)
	}
	writeAccount(&b, c)
	writeHoldings(&b, c, false)
	writeCompetitors(&b, c.Competitors, s.rules.CompetitorLimit)
	writeRecentTrades(&b, c.RecentTrades, s.rules.RecentTradeLimit)
	writeMarket(&b, c.Snapshot, false)
	writeConstraints(&b, s.rules, c.Account)
	b.WriteString("## Task\nDecide this session's trades with the aim of winning the competition.\n")
	return b.String()
}

func writeCompetitors(b *strings.Builder, comps []Competitor, limit int) {
	b.WriteString("## Competitors\n")
	if len(comps) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	if limit > 0 && len(comps) > limit {
		comps = comps[:limit]
	}
	b.WriteString("| Rank | Participant | Portfolio | P&L | Top holdings |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, comp := range comps {
		tops := make([]string, 0, len(comp.TopHoldings))
		for _, h := range comp.TopHoldings {
			tops = append(tops, fmt.Sprintf("%s %s %s%%", h.Code, h.Name, h.Pct.StringFixed(1)))
		}
		top := "cash"
		if len(tops) > 0 {
			top = strings.Join(tops, "; ")
		}
		fmt.Fprintf(b, "| %d | %s | %s | %s | %s |\n",
			comp.Rank, comp.DisplayName, money(comp.PortfolioValue), signedPct(comp.PnLPct), top)
	}
	b.WriteString("\n")
}

// BuildCompetitors lists the rivals of selfID that share its mode, ordered
// by rank (unranked last), then portfolio value, then name. holdings maps
// participant ID to that participant's holdings.
func BuildCompetitors(selfID string, mode model.Mode, participants []model.Participant, holdings map[string][]model.Holding, limit int) []Competitor {
	var rivals []model.Participant
	for _, p := range participants {
		if p.ID != selfID && p.Mode == mode {
			rivals = append(rivals, p)
		}
	}
	sort.Slice(rivals, func(i, j int) bool {
		ri, rj := rivals[i].Rank, rivals[j].Rank
		if ri != rj {
			if ri == 0 || rj == 0 {
				return rj == 0
			}
			return ri < rj
		}
		if !rivals[i].PortfolioValue.Equal(rivals[j].PortfolioValue) {
			return rivals[i].PortfolioValue.GreaterThan(rivals[j].PortfolioValue)
		}
		return rivals[i].DisplayName < rivals[j].DisplayName
	})
	if limit > 0 && len(rivals) > limit {
		rivals = rivals[:limit]
	}

	out := make([]Competitor, 0, len(rivals))
	for _, p := range rivals {
		out = append(out, Competitor{
			DisplayName:    p.DisplayName,
			Rank:           p.Rank,
			PortfolioValue: p.PortfolioValue,
			PnLPct:         p.PnLPct,
			TopHoldings:    topHoldings(p.PortfolioValue, holdings[p.ID]),
		})
	}
	return out
}

func topHoldings(portfolio decimal.Decimal, hs []model.Holding) []HoldingShare {
	if !portfolio.IsPositive() || len(hs) == 0 {
		return nil
	}
	shares := make([]HoldingShare, 0, len(hs))
	for _, h := range hs {
		shares = append(shares, HoldingShare{
			Code: h.StockCode,
			Name: h.StockName,
			Pct:  h.MarketValue().Div(portfolio).Mul(decimal.NewFromInt(100)).Round(2),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if !shares[i].Pct.Equal(shares[j].Pct) {
			return shares[i].Pct.GreaterThan(shares[j].Pct)
		}
		return shares[i].Code < shares[j].Code
	})
	if len(shares) > topHoldingsPerCompetitor {
		shares = shares[:topHoldingsPerCompetitor]
	}
	return shares
}
