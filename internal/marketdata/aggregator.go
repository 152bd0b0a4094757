package marketdata

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/arena-engine/internal/metrics"
)

const (
	defaultMoversLimit = 10
	defaultNewsLimit   = 15
)

// Aggregator builds a Snapshot from independent Feed sub-fetches issued in
// parallel. A failing sub-fetch degrades to a conservative default; the
// snapshot itself never fails.
type Aggregator struct {
	feed        Feed
	universe    []string
	indexName   string
	moversLimit int
	newsLimit   int
	now         func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithUniverse sets the stock codes always included in the snapshot.
func WithUniverse(codes []string) Option {
	return func(a *Aggregator) { a.universe = append([]string(nil), codes...) }
}

// WithIndexName sets the name reported for the default (flat) index.
func WithIndexName(name string) Option {
	return func(a *Aggregator) { a.indexName = name }
}

// WithLimits sets the mover and news list sizes.
func WithLimits(movers, news int) Option {
	return func(a *Aggregator) {
		if movers > 0 {
			a.moversLimit = movers
		}
		if news > 0 {
			a.newsLimit = news
		}
	}
}

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator over feed.
func NewAggregator(feed Feed, opts ...Option) *Aggregator {
	a := &Aggregator{
		feed:        feed,
		indexName:   "SSE Composite",
		moversLimit: defaultMoversLimit,
		newsLimit:   defaultNewsLimit,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Feed returns the underlying feed for single-quote lookups.
func (a *Aggregator) Feed() Feed {
	return a.feed
}

// Snapshot fetches every source concurrently and merges the results. codes
// are added to the configured universe for fundamentals and quotes.
func (a *Aggregator) Snapshot(ctx context.Context, codes []string) Snapshot {
	want := mergeCodes(a.universe, codes)

	snap := Snapshot{
		Timestamp:    a.now(),
		Index:        IndexQuote{Name: a.indexName},
		Fundamentals: make(map[string]Fundamental),
		Prices:       make(map[string]Quote),
	}

	var (
		mu       sync.Mutex
		degraded []string
	)
	fallback := func(source string, err error) {
		slog.Warn("market data sub-fetch failed, using default", "source", source, "err", err)
		metrics.SnapshotFallbacks.WithLabelValues(source).Inc()
		mu.Lock()
		degraded = append(degraded, source)
		mu.Unlock()
	}

	// Every goroutine returns nil so one failure never cancels the others.
	var g errgroup.Group

	g.Go(func() error {
		idx, err := a.feed.Index(ctx)
		if err != nil {
			fallback("index", err)
			return nil
		}
		if idx.Name == "" {
			idx.Name = a.indexName
		}
		snap.Index = idx
		return nil
	})

	g.Go(func() error {
		b, err := a.feed.Breadth(ctx)
		if err != nil {
			fallback("breadth", err)
			return nil
		}
		snap.Breadth = b
		return nil
	})

	g.Go(func() error {
		m, err := a.feed.Movers(ctx, a.moversLimit)
		if err != nil {
			fallback("movers", err)
			return nil
		}
		snap.Movers = m
		return nil
	})

	g.Go(func() error {
		news, err := a.feed.News(ctx, a.newsLimit)
		if err != nil {
			fallback("news", err)
			return nil
		}
		snap.News = news
		return nil
	})

	var fundamentals []Fundamental
	g.Go(func() error {
		fs, err := a.feed.Fundamentals(ctx, want)
		if err != nil {
			fallback("fundamentals", err)
			return nil
		}
		fundamentals = fs
		return nil
	})

	var quotes map[string]Quote
	g.Go(func() error {
		qs, err := a.feed.Quotes(ctx, want)
		if err != nil {
			fallback("quotes", err)
			return nil
		}
		quotes = qs
		return nil
	})

	_ = g.Wait()

	for _, f := range fundamentals {
		if f.Category < 1 || f.Category > 6 {
			f.Category = ClassifyYoY(f.RevenueYoY, f.ProfitYoY, f.NetProfit)
		}
		snap.Fundamentals[f.Code] = f
	}
	for code, q := range quotes {
		if q.Code == "" {
			q.Code = code
		}
		snap.Prices[code] = q
	}
	// Movers carry a last price; use it where the quote fetch had nothing.
	for _, list := range [][]Mover{snap.Movers.Gainers, snap.Movers.Losers, snap.Movers.VolumeLeaders} {
		for _, m := range list {
			if _, ok := snap.Prices[m.Code]; ok || !m.Price.IsPositive() {
				continue
			}
			snap.Prices[m.Code] = Quote{Code: m.Code, Name: m.Name, Price: m.Price, Volume: m.Volume}
		}
	}
	if snap.News == nil {
		snap.News = []NewsItem{}
	}

	sort.Strings(degraded)
	snap.Degraded = degraded
	return snap
}

func mergeCodes(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, c := range list {
			if c == "" || seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
