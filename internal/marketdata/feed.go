package marketdata

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNoQuote is returned when the feed has no price for a stock.
var ErrNoQuote = errors.New("marketdata: no quote available")

// Feed is the market data collaborator. Each method is an independent
// sub-fetch; the Aggregator tolerates any of them failing.
type Feed interface {
	Index(ctx context.Context) (IndexQuote, error)
	Breadth(ctx context.Context) (Breadth, error)
	Movers(ctx context.Context, limit int) (Movers, error)
	News(ctx context.Context, limit int) ([]NewsItem, error)
	Fundamentals(ctx context.Context, codes []string) ([]Fundamental, error)
	Quotes(ctx context.Context, codes []string) (map[string]Quote, error)
	Quote(ctx context.Context, code string) (Quote, error)
}

// StaticFeed serves fixed data from memory. Used for development, replay
// and tests. Setting an entry in Fail makes that sub-fetch return the error.
type StaticFeed struct {
	mu           sync.RWMutex
	index        IndexQuote
	breadth      Breadth
	movers       Movers
	news         []NewsItem
	fundamentals map[string]Fundamental
	quotes       map[string]Quote

	// Fail maps a source name ("index", "breadth", "movers", "news",
	// "fundamentals", "quotes") to an error to return.
	Fail map[string]error
}

// NewStaticFeed creates an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{
		fundamentals: make(map[string]Fundamental),
		quotes:       make(map[string]Quote),
		Fail:         make(map[string]error),
	}
}

// SetIndex replaces the index quote.
func (f *StaticFeed) SetIndex(q IndexQuote) { f.mu.Lock(); f.index = q; f.mu.Unlock() }

// SetBreadth replaces market breadth.
func (f *StaticFeed) SetBreadth(b Breadth) { f.mu.Lock(); f.breadth = b; f.mu.Unlock() }

// SetMovers replaces the leaderboards.
func (f *StaticFeed) SetMovers(m Movers) { f.mu.Lock(); f.movers = m; f.mu.Unlock() }

// SetNews replaces the news list.
func (f *StaticFeed) SetNews(n []NewsItem) { f.mu.Lock(); f.news = n; f.mu.Unlock() }

// SetFundamental stores fundamentals for one stock.
func (f *StaticFeed) SetFundamental(fd Fundamental) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fundamentals[fd.Code] = fd
}

// SetQuote stores a quote for one stock.
func (f *StaticFeed) SetQuote(q Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[q.Code] = q
}

func (f *StaticFeed) failure(source string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.Fail[source]
}

func (f *StaticFeed) Index(_ context.Context) (IndexQuote, error) {
	if err := f.failure("index"); err != nil {
		return IndexQuote{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index, nil
}

func (f *StaticFeed) Breadth(_ context.Context) (Breadth, error) {
	if err := f.failure("breadth"); err != nil {
		return Breadth{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.breadth, nil
}

func (f *StaticFeed) Movers(_ context.Context, limit int) (Movers, error) {
	if err := f.failure("movers"); err != nil {
		return Movers{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Movers{
		Gainers:       truncate(f.movers.Gainers, limit),
		Losers:        truncate(f.movers.Losers, limit),
		VolumeLeaders: truncate(f.movers.VolumeLeaders, limit),
	}, nil
}

func (f *StaticFeed) News(_ context.Context, limit int) ([]NewsItem, error) {
	if err := f.failure("news"); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return truncate(f.news, limit), nil
}

func (f *StaticFeed) Fundamentals(_ context.Context, codes []string) ([]Fundamental, error) {
	if err := f.failure("fundamentals"); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []Fundamental
	if len(codes) == 0 {
		for _, fd := range f.fundamentals {
			out = append(out, fd)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
		return out, nil
	}
	for _, c := range codes {
		if fd, ok := f.fundamentals[c]; ok {
			out = append(out, fd)
		}
	}
	return out, nil
}

func (f *StaticFeed) Quotes(_ context.Context, codes []string) (map[string]Quote, error) {
	if err := f.failure("quotes"); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]Quote)
	if len(codes) == 0 {
		for c, q := range f.quotes {
			out[c] = q
		}
		return out, nil
	}
	for _, c := range codes {
		if q, ok := f.quotes[c]; ok {
			out[c] = q
		}
	}
	return out, nil
}

func (f *StaticFeed) Quote(_ context.Context, code string) (Quote, error) {
	if err := f.failure("quotes"); err != nil {
		return Quote{}, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[code]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}

func truncate[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return append([]T(nil), items...)
	}
	return append([]T(nil), items[:limit]...)
}
