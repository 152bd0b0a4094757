package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPFeedConfig configures the JSON market data client.
type HTTPFeedConfig struct {
	BaseURL            string
	APIKey             string
	RateLimitPerMinute int
	Timeout            time.Duration
	HTTPClient         *http.Client
}

// HTTPFeed implements Feed against a JSON market data service. Requests are
// throttled client-side so a session burst stays within the upstream quota.
type HTTPFeed struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewHTTPFeed creates a feed client. BaseURL is required.
func NewHTTPFeed(cfg HTTPFeedConfig) (*HTTPFeed, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("market data base url is required")
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 120
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPFeed{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		httpClient:  client,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 6),
	}, nil
}

func (f *HTTPFeed) Index(ctx context.Context) (IndexQuote, error) {
	var out IndexQuote
	err := f.get(ctx, "/index", nil, &out)
	return out, err
}

func (f *HTTPFeed) Breadth(ctx context.Context) (Breadth, error) {
	var out Breadth
	err := f.get(ctx, "/breadth", nil, &out)
	return out, err
}

func (f *HTTPFeed) Movers(ctx context.Context, limit int) (Movers, error) {
	var out Movers
	err := f.get(ctx, "/movers", url.Values{"limit": {strconv.Itoa(limit)}}, &out)
	return out, err
}

func (f *HTTPFeed) News(ctx context.Context, limit int) ([]NewsItem, error) {
	var out []NewsItem
	err := f.get(ctx, "/news", url.Values{"limit": {strconv.Itoa(limit)}}, &out)
	return out, err
}

func (f *HTTPFeed) Fundamentals(ctx context.Context, codes []string) ([]Fundamental, error) {
	var out []Fundamental
	err := f.get(ctx, "/fundamentals", url.Values{"codes": {strings.Join(codes, ",")}}, &out)
	return out, err
}

func (f *HTTPFeed) Quotes(ctx context.Context, codes []string) (map[string]Quote, error) {
	var list []Quote
	if err := f.get(ctx, "/quotes", url.Values{"codes": {strings.Join(codes, ",")}}, &list); err != nil {
		return nil, err
	}
	out := make(map[string]Quote, len(list))
	for _, q := range list {
		out[NormalizeCode(q.Code)] = q
	}
	return out, nil
}

func (f *HTTPFeed) Quote(ctx context.Context, code string) (Quote, error) {
	var q Quote
	if err := f.get(ctx, "/quotes/"+url.PathEscape(code), nil, &q); err != nil {
		return Quote{}, err
	}
	if !q.Price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoQuote, code)
	}
	return q, nil
}

func (f *HTTPFeed) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := f.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	u := f.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	res, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/quotes/") {
		return ErrNoQuote
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("request %s status %d: %s", path, res.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
