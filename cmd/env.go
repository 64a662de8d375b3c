package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tenderfeed/tender-cli/internal/config"
	"github.com/tenderfeed/tender-cli/internal/events"
	"github.com/tenderfeed/tender-cli/internal/fetcher"
	"github.com/tenderfeed/tender-cli/internal/ingest"
	"github.com/tenderfeed/tender-cli/internal/store"
)

// ingestEnv holds the store, event publisher and ingestion service needed
// by the ingest/schedule/serve commands.
type ingestEnv struct {
	Store   store.Store
	Events  events.Publisher
	Service *ingest.Service
}

// Close waits for background runs and releases resources.
func (e *ingestEnv) Close() {
	if e.Service != nil {
		e.Service.Wait()
	}
	if c, ok := e.Events.(io.Closer); ok {
		_ = c.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates. Callers should defer st.Close().
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initPublisher(ctx context.Context, c config.EventsConfig) (events.Publisher, error) {
	if c.RedisURL == "" {
		return events.Nop{}, nil
	}
	pub, err := events.NewRedisPublisher(ctx, c.RedisURL, c.Channel)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// newFetchers builds the release API fetcher and the bulk-file fetcher.
// They share per-host rate limits but not timeouts.
func newFetchers(c config.OCDSConfig) (api, files *fetcher.HTTPFetcher) {
	rates := fetcher.HostRates(c.RateLimitPerSec, c.APIBaseURL, c.DataBaseURL)
	api = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.UserAgent,
		Timeout:    c.APITimeout(),
		MaxRetries: c.MaxRetries,
		HostRates:  rates,
	})
	files = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.UserAgent,
		Timeout:    c.FileTimeout(),
		MaxRetries: c.MaxRetries,
		HostRates:  rates,
	})
	return api, files
}

func serviceOptions(c *config.Config) ingest.Options {
	return ingest.Options{
		APIBaseURL:       c.OCDS.APIBaseURL,
		DataBaseURL:      c.OCDS.DataBaseURL,
		PageSize:         c.OCDS.PageSize,
		BackfillMaxPages: c.OCDS.BackfillMaxPages,
		FileCharset:      c.OCDS.FileCharset,
		CacheScore:       c.Ingest.CacheScore,
		CacheProfileID:   c.Ingest.CacheProfileID,
		StaleAfter:       c.Ingest.StaleAfter(),
	}
}

// initIngest validates config for mode, opens the store and event
// publisher, and builds the ingestion service. Callers should defer
// env.Close().
func initIngest(ctx context.Context, mode string) (*ingestEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	pub, err := initPublisher(ctx, cfg.Events)
	if err != nil {
		// Events are best-effort; ingestion proceeds without them.
		zap.L().Warn("event publisher unavailable, events disabled", zap.Error(err))
		pub = events.Nop{}
	}

	api, files := newFetchers(cfg.OCDS)
	svc := ingest.NewService(st, api, files, pub, serviceOptions(cfg))

	return &ingestEnv{Store: st, Events: pub, Service: svc}, nil
}
