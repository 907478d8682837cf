package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jamsshhayd/world-cities-enriched/internal/config"
	"github.com/jamsshhayd/world-cities-enriched/internal/dataset"
	"github.com/jamsshhayd/world-cities-enriched/internal/entity"
	"github.com/jamsshhayd/world-cities-enriched/internal/fetcher"
	"github.com/jamsshhayd/world-cities-enriched/internal/ledger"
	"github.com/jamsshhayd/world-cities-enriched/internal/pipeline"
	"github.com/jamsshhayd/world-cities-enriched/internal/resilience"
	"github.com/jamsshhayd/world-cities-enriched/internal/resolve"
	"github.com/jamsshhayd/world-cities-enriched/internal/store"
	"github.com/jamsshhayd/world-cities-enriched/pkg/wikidata"
)

// jobEnv holds the stores, clients and pipeline used by the enrich command.
type jobEnv struct {
	Caches   *store.Caches
	Ledger   *ledger.Ledger
	Loader   *dataset.Loader
	Pipeline *pipeline.Pipeline
}

// Close releases the ledger file and cache backend.
func (e *jobEnv) Close() {
	if e.Ledger != nil {
		if err := e.Ledger.Close(); err != nil {
			zap.L().Warn("close ledger", zap.Error(err))
		}
	}
	if e.Caches != nil {
		if err := e.Caches.Close(); err != nil {
			zap.L().Warn("close caches", zap.Error(err))
		}
	}
}

// openStores opens the cache backend and the ledger named by c.
func openStores(ctx context.Context, c *config.Config) (*store.Caches, *ledger.Ledger, error) {
	backend, err := store.OpenBackend(ctx, c.Cache)
	if err != nil {
		return nil, nil, eris.Wrap(err, "open cache backend")
	}
	caches, err := store.Open(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}

	l, err := ledger.Open(c.Output.Path, c.Input.NameField)
	if err != nil {
		_ = caches.Close()
		return nil, nil, err
	}
	return caches, l, nil
}

// newWikidataClient builds the Wikidata client from c.Wikidata.
func newWikidataClient(c config.WikidataConfig) wikidata.Client {
	retry := resilience.DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		retry.MaxAttempts = c.MaxAttempts
	}
	retry.OnRetry = resilience.RetryLogger("wikidata", "get")

	return wikidata.NewClient(
		wikidata.WithAPIURL(c.APIURL),
		wikidata.WithEntityURL(c.EntityURL),
		wikidata.WithLanguage(c.Language),
		wikidata.WithUserAgent(c.UserAgent),
		wikidata.WithTimeout(time.Duration(c.TimeoutSecs)*time.Second),
		wikidata.WithRateLimit(c.RateLimit),
		wikidata.WithRetry(retry),
		wikidata.WithCircuitBreaker(resilience.NewCircuitBreaker("wikidata",
			c.CircuitThreshold, time.Duration(c.CircuitResetSecs)*time.Second)),
	)
}

// newLoader builds the input loader; remote inputs share the Wikidata user agent.
func newLoader(c *config.Config) *dataset.Loader {
	return dataset.NewLoader(fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: c.Wikidata.UserAgent,
	}))
}

// initJob opens the stores and wires the pipeline. Callers should defer
// env.Close().
func initJob(ctx context.Context, c *config.Config, client wikidata.Client, opts ...pipeline.Option) (*jobEnv, error) {
	caches, l, err := openStores(ctx, c)
	if err != nil {
		return nil, err
	}

	p := pipeline.New(
		resolve.New(caches.QIDs, client),
		entity.NewFetcher(client),
		caches,
		l,
		c.Pipeline,
		opts...,
	)

	return &jobEnv{
		Caches:   caches,
		Ledger:   l,
		Loader:   newLoader(c),
		Pipeline: p,
	}, nil
}
