package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seededFeed() *StaticFeed {
	f := NewStaticFeed()
	f.SetIndex(IndexQuote{Name: "SSE Composite", Level: d(3350.12), ChangePct: d(0.42)})
	f.SetBreadth(Breadth{Advancers: 3100, Decliners: 1900, BuyPressure: d(58)})
	f.SetMovers(Movers{
		Gainers: []Mover{
			{Code: "300750", Name: "CATL", Price: d(210.5), ChangePct: d(9.98)},
			{Code: "002594", Name: "BYD", Price: d(250), ChangePct: d(6.1)},
		},
	})
	f.SetNews([]NewsItem{{Title: "PBoC cuts RRR", Sentiment: SentimentPositive}})
	f.SetFundamental(Fundamental{Code: "600519", Name: "Kweichow Moutai", RevenueYoY: d(15), ProfitYoY: d(12), NetProfit: d(1)})
	f.SetQuote(Quote{Code: "600519", Name: "Kweichow Moutai", Price: d(1650), PreviousClose: d(1640)})
	return f
}

func TestSnapshot_AllSourcesHealthy(t *testing.T) {
	fixed := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	agg := NewAggregator(seededFeed(), WithUniverse([]string{"600519"}), WithClock(func() time.Time { return fixed }))

	snap := agg.Snapshot(context.Background(), nil)

	assert.Equal(t, fixed, snap.Timestamp)
	assert.True(t, snap.Index.Level.Equal(d(3350.12)))
	assert.Equal(t, 3100, snap.Breadth.Advancers)
	assert.Len(t, snap.News, 1)
	assert.Empty(t, snap.Degraded)

	require.Contains(t, snap.Fundamentals, "600519")
	assert.Equal(t, YoYGrowth, snap.Fundamentals["600519"].Category)

	price, ok := snap.Price("600519")
	require.True(t, ok)
	assert.True(t, price.Equal(d(1650)))
}

func TestSnapshot_MoverPricesFillGaps(t *testing.T) {
	agg := NewAggregator(seededFeed())
	snap := agg.Snapshot(context.Background(), []string{"600519"})

	price, ok := snap.Price("300750")
	require.True(t, ok, "gainer should be priced from mover list")
	assert.True(t, price.Equal(d(210.5)))
}

func TestSnapshot_PartialFailureUsesDefaults(t *testing.T) {
	feed := seededFeed()
	feed.Fail["index"] = errors.New("upstream timeout")
	feed.Fail["news"] = errors.New("502")

	agg := NewAggregator(feed, WithIndexName("CSI 300"))
	snap := agg.Snapshot(context.Background(), []string{"600519"})

	assert.Equal(t, "CSI 300", snap.Index.Name)
	assert.True(t, snap.Index.Level.IsZero(), "failed index falls back to flat")
	assert.True(t, snap.Index.ChangePct.IsZero())
	assert.NotNil(t, snap.News)
	assert.Empty(t, snap.News)
	assert.Equal(t, []string{"index", "news"}, snap.Degraded)

	// Independent sources are unaffected.
	assert.Equal(t, 3100, snap.Breadth.Advancers)
	_, ok := snap.Price("600519")
	assert.True(t, ok)
}

func TestSnapshot_EverySourceFails(t *testing.T) {
	feed := NewStaticFeed()
	for _, src := range []string{"index", "breadth", "movers", "news", "fundamentals", "quotes"} {
		feed.Fail[src] = errors.New("down")
	}

	snap := NewAggregator(feed).Snapshot(context.Background(), []string{"600519"})

	assert.Len(t, snap.Degraded, 6)
	assert.Empty(t, snap.Prices)
	assert.Empty(t, snap.Fundamentals)
}

func TestMergeCodes(t *testing.T) {
	got := mergeCodes([]string{"600519", "000001"}, []string{"000001", "", "300750"})
	assert.Equal(t, []string{"000001", "300750", "600519"}, got)
}
