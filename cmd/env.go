package main

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/geodekking/pakketpunten/internal/boundary"
	"github.com/geodekking/pakketpunten/internal/carrier"
	"github.com/geodekking/pakketpunten/internal/fetcher"
	"github.com/geodekking/pakketpunten/internal/metrics"
	"github.com/geodekking/pakketpunten/internal/resilience"
	"github.com/geodekking/pakketpunten/internal/store"
)

// pipelineEnv holds the clients shared by the fetch, generate and weekly
// commands.
type pipelineEnv struct {
	Fetcher  *fetcher.HTTPFetcher
	Carriers *carrier.Registry
	Store    store.Store // may be nil
	Metrics  *metrics.Metrics
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initEnv builds the HTTP fetcher, the carrier registry and, when
// configured, the run store. Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	f := newFetcher()
	env := &pipelineEnv{
		Fetcher:  f,
		Carriers: carrier.FromConfig(cfg.Carriers, f),
		Metrics:  metrics.New(),
	}
	if cfg.Store.Path != "" {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		env.Store = st
	}
	return env, nil
}

// newFetcher configures per-host rates from the carrier and boundary
// settings. Carriers sharing a host share its limiter.
func newFetcher() *fetcher.HTTPFetcher {
	rates := make(map[string]float64)
	timeout := 30 * time.Second
	setRate := func(rawURL string, r float64) {
		u, err := url.Parse(rawURL)
		if err != nil || u.Host == "" || r <= 0 {
			return
		}
		if prev, ok := rates[u.Host]; !ok || r < prev {
			rates[u.Host] = r
		}
	}
	for _, cc := range cfg.Carriers {
		if !cc.Enabled {
			continue
		}
		setRate(cc.BaseURL, cc.RatePerSec)
		if d := time.Duration(cc.TimeoutSecs) * time.Second; d > timeout {
			timeout = d
		}
	}
	setRate(cfg.Boundary.OverpassURL, cfg.Boundary.RatePerSec)
	if d := time.Duration(cfg.Boundary.TimeoutSecs) * time.Second; d > timeout {
		timeout = d
	}

	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:   timeout,
		Retry:     retryConfig(),
		HostRates: rates,
	})
}

func retryConfig() resilience.RetryConfig {
	r := cfg.Retry
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

func circuitConfig() resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(cfg.Retry.CircuitFailureThreshold, cfg.Retry.CircuitResetSecs)
}

// initStore opens and migrates the SQLite run store.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "store: create dir %s", dir)
		}
	}
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// boundaryResolver builds the configured resolver, persisting through st
// when it is set.
func boundaryResolver(f fetcher.Fetcher, st store.Store) (boundary.Resolver, error) {
	var bs boundary.Store
	if st != nil {
		bs = st
	}
	return boundary.FromConfig(cfg.Boundary, f, bs)
}
