package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gensync/internal/config"
	"github.com/sells-group/gensync/internal/entsoe"
	"github.com/sells-group/gensync/internal/fetcher"
	"github.com/sells-group/gensync/internal/ingest"
	"github.com/sells-group/gensync/internal/planner"
	"github.com/sells-group/gensync/internal/reconcile"
	"github.com/sells-group/gensync/internal/resilience"
	"github.com/sells-group/gensync/internal/store"
	"github.com/sells-group/gensync/internal/timeseries"
)

// initStore opens the configured store and migrates its schema.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// newSource builds the retrying ENTSO-E client.
func newSource(c *config.Config) (entsoe.Source, error) {
	if err := c.ValidateFetch(); err != nil {
		return nil, err
	}
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:           time.Duration(c.Entsoe.TimeoutSecs) * time.Second,
		RequestsPerSecond: c.Entsoe.RequestsPerSecond,
	})
	client := entsoe.NewClient(f, entsoe.Options{
		BaseURL:        c.Entsoe.BaseURL,
		Token:          c.Entsoe.Token,
		MaxRequestSpan: time.Duration(c.Entsoe.MaxRequestHours) * time.Hour,
	})

	retry := resilience.FromSettings(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs, c.Retry.Multiplier)
	retry.OnRetry = resilience.RetryLogger("entsoe", "generation_per_unit")
	return entsoe.WithRetry(client, retry), nil
}

// engineOptions maps the configuration onto the engine.
func engineOptions(c *config.Config) (ingest.Options, error) {
	zone, err := timeseries.LoadZone(c.Sync.Zone)
	if err != nil {
		return ingest.Options{}, err
	}

	rec := reconcile.DefaultOptions()
	rec.FuelMarker = c.Sync.FuelMarker
	rec.ConsumptionMarker = c.Sync.ConsumptionMarker
	rec.Zone = zone

	return ingest.Options{
		DataDir:         c.Sync.DataDir,
		Area:            c.Entsoe.Area,
		Zone:            zone,
		RawSuffix:       c.Sync.RawSuffix,
		CanonicalSuffix: c.Sync.CanonicalSuffix,
		Planner: planner.Options{
			Threshold:       c.Sync.GapThreshold(),
			MaxSpan:         c.Sync.MaxSpan(),
			DefaultLookback: c.Sync.DefaultLookback(),
		},
		Reconcile: rec,
	}, nil
}

// newEngine builds an engine. withSource is false for commands that only
// work on files already on disk.
func newEngine(st ingest.Store, withSource bool) (*ingest.Engine, error) {
	opts, err := engineOptions(cfg)
	if err != nil {
		return nil, err
	}
	var src entsoe.Source
	if withSource {
		if src, err = newSource(cfg); err != nil {
			return nil, err
		}
	}
	return ingest.NewEngine(src, st, opts), nil
}

// modeFlag resolves the --mode flag, falling back to sync.mode.
func modeFlag(flag string) (timeseries.Mode, error) {
	if flag == "" {
		flag = cfg.Sync.Mode
	}
	return timeseries.ParseMode(flag)
}
