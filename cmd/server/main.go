// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package main is the entry point for the paperscope server.
//
// Paperscope aggregates academic papers from registered sources,
// embeds their abstracts, trains a collaborative-filtering recommender
// on user feedback, and mails per-user digests of ranked papers.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML file, env)
//  2. Database: DuckDB catalog, crawl ledger, and feedback log
//  3. Sources: adapter registry plus the Badger category cache
//  4. Pipeline: crawl orchestrator, embedding runner, recommender
//     trainer, artifact store, digest manager
//  5. Jobs: Watermill router and schedule tickers
//  6. Ops server: health, metrics, status
//  7. Supervisor: suture tree running everything until SIGINT/SIGTERM
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paperscope/paperscope/internal/api"
	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/crawler"
	"github.com/paperscope/paperscope/internal/database"
	"github.com/paperscope/paperscope/internal/digest"
	"github.com/paperscope/paperscope/internal/embedding"
	"github.com/paperscope/paperscope/internal/fetch"
	"github.com/paperscope/paperscope/internal/jobs"
	"github.com/paperscope/paperscope/internal/logging"
	"github.com/paperscope/paperscope/internal/recommend"
	"github.com/paperscope/paperscope/internal/source"
	"github.com/paperscope/paperscope/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)
	logger := logging.Logger()

	logging.Info().Int("sources", len(cfg.Sources)).Msg("Starting paperscope")

	db, err := database.New(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}()

	cache, err := source.NewCategoryCache(cfg.Cache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open category cache")
	}
	defer func() { _ = cache.Close() }()

	registry, err := source.NewRegistry(cfg.Sources, cache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build source registry")
	}

	fetcher := fetch.New(cfg.Fetch, nil, logger)
	orchestrator := crawler.New(registry, fetcher, db, cfg.Crawler)
	embedder := embedding.NewRunner(db, cfg.Embedding)

	artifacts, err := recommend.NewArtifactStore(cfg.Recommend.ArtifactDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open artifact store")
	}
	trainer := recommend.NewTrainer(db, artifacts, cfg.Recommend)
	recServer := recommend.NewServer(artifacts, db)

	channels, err := digestChannels(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build digest channels")
	}
	digestMgr, err := digest.NewManager(recServer, db, channels, cfg.Digest)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build digest manager")
	}

	bus, err := jobs.NewBus(cfg.Jobs, logging.NewWatermillAdapter(logger))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to start job bus")
	}

	jobSvc, err := jobs.NewService(bus, jobs.Deps{
		Crawler:   orchestrator,
		Embedding: embedder,
		Trainer:   trainer,
		Digest:    digestMgr,
	}, cfg.Jobs, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build job router")
	}

	scheduler := jobs.NewScheduler(bus.Publisher(), cfg.Jobs.Schedules, logger)
	opsServer := api.NewServer(cfg.Server, db, db, recServer, logger)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(jobSvc)
	tree.AddPipelineService(scheduler)
	tree.AddOpsService(opsServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor exited with error")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := bus.Close(closeCtx); err != nil {
		logging.Error().Err(err).Msg("Failed to close job bus")
	}

	logging.Info().Msg("Shutdown complete")
}

// digestChannels builds the enabled delivery channels.
func digestChannels(cfg *config.Config) ([]digest.Channel, error) {
	var channels []digest.Channel
	if cfg.Digest.SMTP.Enabled {
		email, err := digest.NewEmailChannel(cfg.Digest.SMTP)
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}
	if cfg.Digest.Webhook.Enabled {
		webhook, err := digest.NewWebhookChannel(cfg.Digest.Webhook)
		if err != nil {
			return nil, err
		}
		channels = append(channels, webhook)
	}
	if len(channels) == 0 {
		logging.Warn().Msg("No digest delivery channels enabled, digests will be built but not delivered")
	}
	return channels, nil
}
