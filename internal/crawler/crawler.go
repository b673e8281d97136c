// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package crawler orchestrates crawl cycles over the registered sources.
//
// A cycle enumerates candidate URLs per source, removes duplicates and
// URLs crawled inside the recrawl window, and publishes the remainder as
// independent batch jobs. Batch processing runs each URL through a small
// state machine; one bad page skips forward instead of failing the batch.
package crawler

import (
	"context"
	"time"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/fetch"
	"github.com/paperscope/paperscope/internal/logging"
	"github.com/paperscope/paperscope/internal/metrics"
	"github.com/paperscope/paperscope/internal/source"
)

// Store is the ledger and catalog surface the crawler needs.
type Store interface {
	RecordAttempt(ctx context.Context, url string) error
	CrawledWithin(ctx context.Context, window time.Duration) ([]string, error)
	UpsertPaper(ctx context.Context, fields catalog.PaperFields, sourceName string) (int64, error)
}

// BatchPublisher dispatches one batch of URLs as an independent job.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, sourceName string, urls []string) error
}

// UnitState tracks one URL through the batch state machine.
type UnitState string

const (
	StatePending   UnitState = "pending"
	StateFetching  UnitState = "fetching"
	StateParsing   UnitState = "parsing"
	StateUpserting UnitState = "upserting"
	StateDone      UnitState = "done"
	StateSkipped   UnitState = "skipped"
)

// Orchestrator runs crawl cycles and processes crawl batches.
type Orchestrator struct {
	registry *source.Registry
	fetcher  *fetch.Fetcher
	store    Store
	cfg      config.CrawlerConfig
}

// New creates an orchestrator over the given registry and store.
func New(registry *source.Registry, fetcher *fetch.Fetcher, store Store, cfg config.CrawlerConfig) *Orchestrator {
	return &Orchestrator{registry: registry, fetcher: fetcher, store: store, cfg: cfg}
}

// Run executes one crawl cycle: feed sources are ingested inline, paged
// sources are enumerated and dispatched as batches. Per-source failures
// are logged and do not stop the cycle.
func (o *Orchestrator) Run(ctx context.Context, pub BatchPublisher) error {
	for _, adapter := range o.registry.Feeds() {
		if err := o.runFeed(ctx, adapter); err != nil {
			logging.Error().Err(err).Str("source", adapter.Descriptor().Name).Msg("Feed ingestion failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	for _, adapter := range o.registry.Paged() {
		if err := o.dispatchPaged(ctx, adapter, pub); err != nil {
			logging.Error().Err(err).Str("source", adapter.Descriptor().Name).Msg("Paged dispatch failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// dispatchPaged enumerates one paged source and publishes batch jobs.
func (o *Orchestrator) dispatchPaged(ctx context.Context, adapter source.PagedAdapter, pub BatchPublisher) error {
	name := adapter.Descriptor().Name

	candidates, err := adapter.ListCandidateURLs(ctx, o.fetcher)
	if err != nil {
		return err
	}

	listed := len(candidates)
	candidates = dedup(candidates)
	deduped := len(candidates)
	candidates, err = o.subtractRecent(ctx, candidates)
	if err != nil {
		return err
	}
	metrics.CrawlCandidates.WithLabelValues(name, "duplicate").Add(float64(listed - deduped))
	metrics.CrawlCandidates.WithLabelValues(name, "within_window").Add(float64(deduped - len(candidates)))
	metrics.CrawlCandidates.WithLabelValues(name, "dispatched").Add(float64(len(candidates)))

	batches := chunk(candidates, o.cfg.BatchSize)
	logging.Info().Str("source", name).
		Int("urls", len(candidates)).
		Int("batches", len(batches)).
		Msg("Dispatching crawl batches")

	for _, batch := range batches {
		if err := pub.PublishBatch(ctx, name, batch); err != nil {
			return err
		}
	}
	return nil
}

// runFeed ingests one feed source inline. Feed entries carry their own
// URL, so enumeration is skipped, but attempts are still recorded for
// recrawl-window bookkeeping.
func (o *Orchestrator) runFeed(ctx context.Context, adapter source.FeedAdapter) error {
	name := adapter.Descriptor().Name

	entries, err := adapter.FetchEntries(ctx, o.fetcher)
	if err != nil {
		return err
	}

	recent, err := o.recentSet(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.Link != "" {
			if _, dup := seen[entry.Link]; dup {
				metrics.CrawlCandidates.WithLabelValues(name, "duplicate").Inc()
				continue
			}
			seen[entry.Link] = struct{}{}
			if _, crawled := recent[entry.Link]; crawled {
				metrics.CrawlCandidates.WithLabelValues(name, "within_window").Inc()
				metrics.CrawlUnits.WithLabelValues(name, string(StateSkipped)).Inc()
				continue
			}
		}
		metrics.CrawlCandidates.WithLabelValues(name, "dispatched").Inc()

		fields, err := adapter.ParseEntry(entry)
		if err != nil {
			logging.Warn().Err(err).Str("source", name).Str("title", entry.Title).Msg("Feed entry parse failed")
			metrics.CrawlUnits.WithLabelValues(name, string(StateSkipped)).Inc()
			continue
		}
		o.ingest(ctx, adapter, name, entry.Link, fields)
	}
	return nil
}

// ProcessBatch runs one batch of detail-page URLs through the unit state
// machine for the named paged source.
func (o *Orchestrator) ProcessBatch(ctx context.Context, sourceName string, urls []string) error {
	var adapter source.PagedAdapter
	for _, p := range o.registry.Paged() {
		if p.Descriptor().Name == sourceName {
			adapter = p
			break
		}
	}
	if adapter == nil {
		// The source was disabled between dispatch and delivery; the batch
		// is stale, not poisonous.
		logging.Warn().Str("source", sourceName).Msg("Batch for unregistered source dropped")
		return nil
	}

	for _, url := range urls {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.processUnit(ctx, adapter, sourceName, url)
	}
	return nil
}

// processUnit walks one URL through fetch, parse, and upsert. Any failure
// skips the unit with a warning.
func (o *Orchestrator) processUnit(ctx context.Context, adapter source.PagedAdapter, sourceName, url string) {
	state := StateFetching
	doc, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		o.skip(sourceName, url, state, err)
		return
	}

	state = StateParsing
	fields, err := adapter.Parse(doc)
	if err != nil {
		o.skip(sourceName, url, state, err)
		return
	}
	o.ingest(ctx, adapter, sourceName, url, fields)
}

// ingest is the shared tail of both capability shapes: post-parse,
// validate, record the attempt, upsert.
func (o *Orchestrator) ingest(ctx context.Context, adapter any, sourceName, url string, fields catalog.PaperFields) {
	fields = source.PostParse(adapter, fields)
	if err := fields.Validate(); err != nil {
		o.skip(sourceName, url, StateParsing, err)
		return
	}

	// The attempt is recorded before the upsert: a paper that fails to
	// store is retried next cycle only after the window expires, matching
	// at-least-once delivery of the surrounding job.
	if url != "" {
		if err := o.store.RecordAttempt(ctx, url); err != nil {
			o.skip(sourceName, url, StateUpserting, err)
			return
		}
	}

	if _, err := o.store.UpsertPaper(ctx, fields, sourceName); err != nil {
		o.skip(sourceName, url, StateUpserting, err)
		return
	}
	metrics.CrawlUnits.WithLabelValues(sourceName, string(StateDone)).Inc()
}

func (o *Orchestrator) skip(sourceName, url string, at UnitState, err error) {
	logging.Warn().Err(err).Str("source", sourceName).Str("url", url).
		Str("state", string(at)).Msg("Crawl unit skipped")
	metrics.CrawlUnits.WithLabelValues(sourceName, string(StateSkipped)).Inc()
}

// subtractRecent removes URLs crawled inside the recrawl window.
func (o *Orchestrator) subtractRecent(ctx context.Context, urls []string) ([]string, error) {
	recent, err := o.recentSet(ctx)
	if err != nil {
		return nil, err
	}

	kept := urls[:0]
	for _, u := range urls {
		if _, ok := recent[u]; !ok {
			kept = append(kept, u)
		}
	}
	return kept, nil
}

func (o *Orchestrator) recentSet(ctx context.Context) (map[string]struct{}, error) {
	recent, err := o.store.CrawledWithin(ctx, o.cfg.RecrawlWindow)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(recent))
	for _, u := range recent {
		set[u] = struct{}{}
	}
	return set, nil
}

// dedup keeps the first occurrence of each URL, preserving order.
func dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	kept := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		kept = append(kept, u)
	}
	return kept
}

// chunk splits urls into size-bounded batches.
func chunk(urls []string, size int) [][]string {
	if size <= 0 {
		size = 16
	}
	var batches [][]string
	for len(urls) > 0 {
		n := size
		if n > len(urls) {
			n = len(urls)
		}
		batches = append(batches, urls[:n])
		urls = urls[n:]
	}
	return batches
}
