package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/arena-engine/internal/config"
	"github.com/atmx/arena-engine/internal/journal"
	"github.com/atmx/arena-engine/internal/marketdata"
	"github.com/atmx/arena-engine/internal/provider"
	"github.com/atmx/arena-engine/internal/session"
	"github.com/atmx/arena-engine/internal/store"
)

// app is the wired process: store, journal, providers and orchestrator.
type app struct {
	store        store.Store
	journal      *journal.SQLite // nil when JOURNAL_PATH is empty
	catalog      *config.Catalog
	location     *time.Location
	orchestrator *session.Orchestrator
	cleanup      []func()
}

// newStore connects PostgreSQL (with an optional Redis cache in front) or
// falls back to memory when DATABASE_URL is unset.
func newStore(ctx context.Context, c *config.Config) (store.Store, []func(), error) {
	if c.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}

	var cleanup []func()
	pool, err := pgxpool.New(ctx, c.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	cleanup = append(cleanup, pool.Close)
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	var st store.Store = store.NewPostgresStore(pool)
	slog.Info("connected to PostgreSQL")

	if c.RedisURL != "" {
		opt, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, c.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", c.CacheTTL.String())
	}
	return st, cleanup, nil
}

func newFeed(c *config.Config) (marketdata.Feed, error) {
	if c.MarketDataURL == "" {
		slog.Warn("MARKET_DATA_URL not set, using an empty static feed")
		return marketdata.NewStaticFeed(), nil
	}
	return marketdata.NewHTTPFeed(marketdata.HTTPFeedConfig{
		BaseURL:            c.MarketDataURL,
		APIKey:             c.MarketDataKey,
		RateLimitPerMinute: c.MarketDataRPM,
	})
}

func newApp(ctx context.Context, c *config.Config, opts ...session.Option) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	a.location = loc

	catalog, err := config.LoadCatalog(c.CatalogPath)
	if err != nil {
		return nil, err
	}
	catalog.ResolveKeys(os.LookupEnv)
	a.catalog = catalog

	st, cleanup, err := newStore(ctx, c)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.cleanup = append(a.cleanup, cleanup...)

	if c.JournalPath != "" {
		j, err := journal.NewSQLite(c.JournalPath)
		if err != nil {
			return nil, err
		}
		a.journal = j
		a.cleanup = append(a.cleanup, func() { j.Close() })
		opts = append(opts, session.WithJournal(j))
	}

	feed, err := newFeed(c)
	if err != nil {
		return nil, err
	}
	agg := marketdata.NewAggregator(feed, marketdata.WithUniverse(c.Universe))

	hours := marketdata.ChinaAShareHours(loc)
	for _, day := range c.Holidays {
		if err := hours.AddHoliday(day); err != nil {
			return nil, err
		}
	}
	opts = append([]session.Option{session.WithHours(hours)}, opts...)

	registry := provider.NewRegistry(catalog.Models, provider.WithTimeout(c.ProviderTimeout))
	available := 0
	for _, id := range registry.IDs() {
		if p, err := registry.Get(id); err == nil && p.Available() {
			available++
		}
	}
	slog.Info("provider registry ready", "models", len(registry.IDs()), "available", available)

	a.orchestrator = session.New(st, registry, agg, opts...)
	ok = true
	return a, nil
}

func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
