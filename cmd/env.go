package main

import (
	"context"
	"time"

	"github.com/nordkart/vendorsync/internal/fetcher"
	"github.com/nordkart/vendorsync/internal/ledger"
	"github.com/nordkart/vendorsync/internal/pipeline"
	"github.com/nordkart/vendorsync/internal/reconcile"
	"github.com/nordkart/vendorsync/internal/refcache"
	"github.com/nordkart/vendorsync/internal/resolver"
	"github.com/nordkart/vendorsync/internal/transform"
	"github.com/nordkart/vendorsync/internal/upsert"
	"github.com/nordkart/vendorsync/pkg/bring"
	"github.com/nordkart/vendorsync/pkg/mapbox"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

// env bundles the wired dependencies commands share.
type env struct {
	client     sanity.Client
	resolver   *resolver.Resolver
	reconciler *reconcile.Reconciler
	ledger     *ledger.Ledger
	pipe       *pipeline.Pipeline
}

func (e *env) Close() {
	if e.ledger != nil {
		e.ledger.Close() //nolint:errcheck
	}
}

// initStore wires only the document store client.
func initStore() (sanity.Client, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return sanity.NewClient(cfg.Sanity.ProjectID, cfg.Sanity.Dataset, cfg.Sanity.Token,
		sanity.WithRateLimit(cfg.Sanity.RateLimit)), nil
}

// initLedger opens the local run history database.
func initLedger(ctx context.Context) (*ledger.Ledger, error) {
	l, err := ledger.Open(cfg.Ledger.Path,
		ledger.WithGeocodeTTL(time.Duration(cfg.Ledger.GeocodeTTLDays)*24*time.Hour))
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		l.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

// newResolver builds a resolver over a cache seeded from the store, so
// known entities never cost a per-key round trip.
func newResolver(ctx context.Context, client sanity.Client) (*resolver.Resolver, error) {
	cache := refcache.New()
	if err := cache.Initialize(ctx, client); err != nil {
		return nil, err
	}
	return resolver.New(cache, client), nil
}

// initEnv wires the full sync pipeline from configuration.
func initEnv(ctx context.Context) (*env, error) {
	if err := cfg.Validate("sync"); err != nil {
		return nil, err
	}

	client, err := initStore()
	if err != nil {
		return nil, err
	}

	l, err := initLedger(ctx)
	if err != nil {
		return nil, err
	}

	res, err := newResolver(ctx, client)
	if err != nil {
		l.Close() //nolint:errcheck
		return nil, err
	}
	postal := bring.NewClient(cfg.Bring.UID, cfg.Bring.Key)
	geocoder := mapbox.NewClient(cfg.Mapbox.Token, mapbox.WithCountry(cfg.Mapbox.Country))

	reconciler := reconcile.New(client, res, postal, geocoder,
		reconcile.WithGeocodeCache(l),
		reconcile.WithConcurrency(cfg.Sync.Concurrency),
	)

	reader := fetcher.NewReader(
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
		fetcher.NewFTPFetcher(0),
	)

	pipeOpts := []pipeline.Option{pipeline.WithLedger(l)}
	if onlyMissing {
		pipeOpts = append(pipeOpts, pipeline.WithOnlyMissingLocations())
	}

	pipe := pipeline.New(
		reader,
		transform.New(res, transform.WithConcurrency(cfg.Sync.Concurrency)),
		upsert.New(client, upsert.MissingPolicy(cfg.Sync.MissingPolicy)),
		reconciler,
		client,
		pipeOpts...,
	)

	return &env{
		client:     client,
		resolver:   res,
		reconciler: reconciler,
		ledger:     l,
		pipe:       pipe,
	}, nil
}

// sourceFromConfig builds the fetch source from config plus flags.
func sourceFromConfig() fetcher.Source {
	src := fetcher.Source{
		URL:           cfg.Source.URL,
		SpreadsheetID: cfg.Source.SpreadsheetID,
		GID:           cfg.Source.GID,
		Format:        cfg.Source.Format,
	}
	if sourceURL != "" {
		src.URL = sourceURL
		src.SpreadsheetID = ""
	}
	if spreadsheetID != "" {
		src.SpreadsheetID = spreadsheetID
	}
	return src
}
