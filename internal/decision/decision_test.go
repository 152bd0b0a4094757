package decision

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/arena-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestParse_FencedObject(t *testing.T) {
	raw := "Here is my plan for today.\n```json\n" + `{
  "market_sentiment": "Bullish",
  "analysis": "Liquor names are recovering.",
  "analyzed_stocks": ["600519.SH", "000858"],
  "actions": [
    {"action": "buy", "stock_code": "SH600519", "stock_name": "Kweichow Moutai", "quantity": 100, "stop_loss": 1600, "reason": "breakout"},
    {"action": "HOLD", "stock_code": "000858"}
  ],
  "risk_note": "Watch volume."
}` + "\n```\nGood luck."

	dec, ok := Parse(raw)
	require.True(t, ok)
	assert.Equal(t, "bullish", dec.Sentiment)
	assert.Equal(t, []string{"000858", "600519"}, dec.AnalyzedStocks)
	require.Len(t, dec.Actions, 1, "HOLD actions are dropped")

	a := dec.Actions[0]
	assert.Equal(t, model.ActionBuy, a.Action)
	assert.Equal(t, "600519", a.StockCode)
	assert.True(t, a.Quantity.Equal(d(100)))
	assert.True(t, a.StopLoss.Equal(d(1600)))
	assert.Equal(t, "breakout", a.Reason)
}

func TestParse_NoObject(t *testing.T) {
	for _, raw := range []string{
		"",
		"I cannot decide today.",
		"{ this is not json }",
		`{"actions": [`,
	} {
		dec, ok := Parse(raw)
		assert.False(t, ok, raw)
		assert.Nil(t, dec)
	}
}

func TestParse_SkipsMalformedCandidates(t *testing.T) {
	raw := `Thinking {not json} ... final answer: {"actions":[{"action":"SELL","code":"000001","shares":"1,000"}]}`

	dec, ok := Parse(raw)
	require.True(t, ok)
	require.Len(t, dec.Actions, 1)
	assert.Equal(t, model.ActionSell, dec.Actions[0].Action)
	assert.Equal(t, "000001", dec.Actions[0].StockCode)
	assert.True(t, dec.Actions[0].Quantity.Equal(d(1000)))
}

func TestParse_BracesInsideStrings(t *testing.T) {
	raw := `{"analysis":"range {low} to {high}","actions":[]}`

	dec, ok := Parse(raw)
	require.True(t, ok)
	assert.Equal(t, "range {low} to {high}", dec.Analysis)
	assert.Empty(t, dec.Actions)
}

func TestParse_TolerantNumbers(t *testing.T) {
	raw := `{"actions":[{"action":"long","stock_code":"300750","quantity":"200","leverage":"2.8x","stop_loss":"","take_profit":null}]}`

	dec, ok := Parse(raw)
	require.True(t, ok)
	require.Len(t, dec.Actions, 1)
	a := dec.Actions[0]
	assert.Equal(t, model.ActionBuy, a.Action)
	assert.True(t, a.Leverage.Equal(d(2.8)))
	assert.True(t, a.StopLoss.IsZero())
	assert.True(t, a.TakeProfit.IsZero())
}

func TestParse_AlternateActionKey(t *testing.T) {
	dec, ok := Parse(`{"sentiment":"pessimistic","trades":[{"type":"close","symbol":"600036.SH"}]}`)
	require.True(t, ok)
	assert.Equal(t, "bearish", dec.Sentiment)
	require.Len(t, dec.Actions, 1)
	assert.Equal(t, model.ActionSell, dec.Actions[0].Action)
	assert.Equal(t, "600036", dec.Actions[0].StockCode)
	assert.True(t, dec.Actions[0].Quantity.IsZero())
}

func TestParse_UnknownActionKept(t *testing.T) {
	dec, ok := Parse(`{"actions":[{"action":"short","stock_code":"600000","quantity":100}]}`)
	require.True(t, ok)
	require.Len(t, dec.Actions, 1)
	assert.Equal(t, model.Action("SHORT"), dec.Actions[0].Action)
}

func TestParse_OuterFieldWithUnexpectedType(t *testing.T) {
	raw := `{"market_sentiment":"bullish","analyzed_stocks":"600000, 000001","risk_note":42,` +
		`"actions":[{"action":"BUY","stock_code":"600000","quantity":200,"reason":["momentum"]}]}`

	dec, ok := Parse(raw)
	require.True(t, ok)
	assert.Equal(t, "bullish", dec.Sentiment)
	assert.Equal(t, []string{"000001", "600000"}, dec.AnalyzedStocks)
	assert.Equal(t, "42", dec.RiskNote)
	require.Len(t, dec.Actions, 1)
	assert.Equal(t, model.ActionBuy, dec.Actions[0].Action)
	assert.True(t, dec.Actions[0].Quantity.Equal(d(200)))
	assert.Empty(t, dec.Actions[0].Reason)
}

func TestParse_SingleActionObject(t *testing.T) {
	dec, ok := Parse(`{"actions":{"action":"sell","code":"600036"}}`)
	require.True(t, ok)
	require.Len(t, dec.Actions, 1)
	assert.Equal(t, "600036", dec.Actions[0].StockCode)
}

func TestParse_NeverPicksObjectInsideBrokenBlock(t *testing.T) {
	// The outer object has a trailing comma, so its inner action must not
	// be mistaken for a whole decision.
	raw := `{"actions":[{"action":"BUY","stock_code":"600000","quantity":100}],}`

	dec, ok := Parse(raw)
	assert.False(t, ok)
	assert.Nil(t, dec)
}

func TestParse_TruncatedReply(t *testing.T) {
	raw := "```json\n" + `{"market_sentiment":"bullish","actions":[{"action":"BUY","stock_code":"600000","quantity":100},{"action":"SELL","stock_c`

	dec, ok := Parse(raw)
	assert.False(t, ok)
	assert.Nil(t, dec)
}
