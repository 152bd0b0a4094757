// Package decision extracts a structured trading decision from the free-form
// text an AI backend returns. Parsing is best-effort and never panics: when
// no usable object is present the caller gets ok == false and keeps the raw
// text for its audit log.
package decision

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/marketdata"
	"github.com/atmx/arena-engine/internal/model"
)

// Proposal is one action an agent wants to take.
type Proposal struct {
	Action     model.Action    `json:"action"`
	StockCode  string          `json:"stock_code"`
	StockName  string          `json:"stock_name"`
	Quantity   decimal.Decimal `json:"quantity"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Leverage   decimal.Decimal `json:"leverage"`
	Reason     string          `json:"reason"`
}

// Decision is the parsed form of one response.
type Decision struct {
	Sentiment      string     `json:"market_sentiment"`
	Analysis       string     `json:"analysis"`
	AnalyzedStocks []string   `json:"analyzed_stocks"`
	Actions        []Proposal `json:"actions"`
	RiskNote       string     `json:"risk_note"`
}

// Number decodes JSON numbers as well as the strings models tend to emit
// instead ("1,000", "2.5x", "", null).
type Number struct {
	decimal.Decimal
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = str
	}
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "x"), "X")
	s = strings.TrimPrefix(s, "¥")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		// Unusable numbers are treated as absent rather than failing the
		// whole object.
		return nil
	}
	n.Decimal = v
	return nil
}

// Text decodes a JSON string, and numbers or booleans as their literal text.
// Arrays, objects and null decode as empty.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	case '[', '{', 'n':
	default:
		*t = Text(b)
	}
	return nil
}

// Codes decodes stock codes given as a JSON array or as one delimited
// string ("600000, 000001").
type Codes []string

func (c *Codes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '[':
		var items []Text
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		for _, it := range items {
			*c = append(*c, string(it))
		}
	default:
		var t Text
		if err := json.Unmarshal(b, &t); err != nil {
			return err
		}
		*c = append(*c, strings.FieldsFunc(string(t), isCodeSeparator)...)
	}
	return nil
}

func isCodeSeparator(r rune) bool {
	return r == ',' || r == ';' || r == '，' || r == '、' || unicode.IsSpace(r)
}

// proposalList decodes an array of action objects, or a single object.
// Elements that are not objects are dropped.
type proposalList []rawProposal

func (l *proposalList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		for _, it := range items {
			var rp rawProposal
			if json.Unmarshal(it, &rp) == nil {
				*l = append(*l, rp)
			}
		}
	case '{':
		var rp rawProposal
		if err := json.Unmarshal(b, &rp); err != nil {
			return err
		}
		*l = append(*l, rp)
	}
	return nil
}

type rawProposal struct {
	Action     Text   `json:"action"`
	Type       Text   `json:"type"`
	StockCode  Text   `json:"stock_code"`
	Code       Text   `json:"code"`
	Symbol     Text   `json:"symbol"`
	StockName  Text   `json:"stock_name"`
	Name       Text   `json:"name"`
	Quantity   Number `json:"quantity"`
	Shares     Number `json:"shares"`
	StopLoss   Number `json:"stop_loss"`
	TakeProfit Number `json:"take_profit"`
	Leverage   Number `json:"leverage"`
	Reason     Text   `json:"reason"`
	Reasoning  Text   `json:"reasoning"`
}

type rawDecision struct {
	Sentiment      Text         `json:"market_sentiment"`
	SentimentAlt   Text         `json:"sentiment"`
	Analysis       Text         `json:"analysis"`
	AnalyzedStocks Codes        `json:"analyzed_stocks"`
	Actions        proposalList `json:"actions"`
	Trades         proposalList `json:"trades"`
	Decisions      proposalList `json:"decisions"`
	RiskNote       Text         `json:"risk_note"`
}

// Parse locates the first well-formed top-level JSON object in text and
// converts it to a Decision. Markdown code fences and surrounding prose are
// ignored. Objects nested inside a block that is not valid JSON are never
// taken for the decision itself.
func Parse(text string) (*Decision, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		candidate := matchBraces(text, start)
		if candidate == "" {
			// Unclosed, typically a reply cut off at the token limit. Every
			// later brace sits inside it.
			break
		}
		var raw rawDecision
		if err := json.Unmarshal([]byte(candidate), &raw); err == nil {
			return normalize(raw), true
		}
		resume := start + len(candidate)
		next := strings.IndexByte(text[resume:], '{')
		if next < 0 {
			break
		}
		start = resume + next
	}
	return nil, false
}

// matchBraces returns the balanced {...} substring starting at start, or ""
// when the braces never balance. Braces inside JSON strings are ignored.
func matchBraces(text string, start int) string {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func normalize(raw rawDecision) *Decision {
	d := &Decision{
		Sentiment: normalizeSentiment(firstNonEmpty(raw.Sentiment, raw.SentimentAlt)),
		Analysis:  strings.TrimSpace(string(raw.Analysis)),
		RiskNote:  strings.TrimSpace(string(raw.RiskNote)),
	}

	seen := make(map[string]bool)
	for _, c := range raw.AnalyzedStocks {
		code := marketdata.NormalizeCode(c)
		if code != "" && !seen[code] {
			seen[code] = true
			d.AnalyzedStocks = append(d.AnalyzedStocks, code)
		}
	}

	proposals := raw.Actions
	if len(proposals) == 0 {
		proposals = raw.Trades
	}
	if len(proposals) == 0 {
		proposals = raw.Decisions
	}

	for _, rp := range proposals {
		action := normalizeAction(firstNonEmpty(rp.Action, rp.Type))
		if action == model.ActionHold {
			continue
		}
		qty := rp.Quantity.Decimal
		if qty.IsZero() {
			qty = rp.Shares.Decimal
		}
		p := Proposal{
			Action:     action,
			StockCode:  marketdata.NormalizeCode(firstNonEmpty(rp.StockCode, rp.Code, rp.Symbol)),
			StockName:  strings.TrimSpace(firstNonEmpty(rp.StockName, rp.Name)),
			Quantity:   qty,
			StopLoss:   rp.StopLoss.Decimal,
			TakeProfit: rp.TakeProfit.Decimal,
			Leverage:   rp.Leverage.Decimal,
			Reason:     strings.TrimSpace(firstNonEmpty(rp.Reason, rp.Reasoning)),
		}
		d.Actions = append(d.Actions, p)
		if p.StockCode != "" && !seen[p.StockCode] {
			seen[p.StockCode] = true
			d.AnalyzedStocks = append(d.AnalyzedStocks, p.StockCode)
		}
	}
	sort.Strings(d.AnalyzedStocks)
	return d
}

func normalizeAction(s string) model.Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG", "OPEN", "ADD":
		return model.ActionBuy
	case "SELL", "CLOSE", "REDUCE", "EXIT":
		return model.ActionSell
	case "HOLD", "WAIT", "NONE", "":
		return model.ActionHold
	default:
		return model.Action(strings.ToUpper(strings.TrimSpace(s)))
	}
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish", "positive", "optimistic":
		return "bullish"
	case "bearish", "negative", "pessimistic":
		return "bearish"
	case "":
		return ""
	default:
		return "neutral"
	}
}

func firstNonEmpty(vals ...Text) string {
	for _, v := range vals {
		if strings.TrimSpace(string(v)) != "" {
			return string(v)
		}
	}
	return ""
}
