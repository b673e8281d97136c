// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/rs/zerolog"

	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/crawler"
	"github.com/paperscope/paperscope/internal/logging"
	"github.com/paperscope/paperscope/internal/metrics"
	"github.com/paperscope/paperscope/internal/recommend"
)

// Crawler is the crawl surface the router drives.
type Crawler interface {
	Run(ctx context.Context, pub crawler.BatchPublisher) error
	ProcessBatch(ctx context.Context, sourceName string, urls []string) error
}

// EmbeddingRunner retrains the abstract embedding model.
type EmbeddingRunner interface {
	Run(ctx context.Context) error
}

// ModelTrainer runs the recommender grid search and persists a model.
type ModelTrainer interface {
	Run(ctx context.Context) (*recommend.Metadata, error)
}

// DigestDispatcher builds and delivers user digests.
type DigestDispatcher interface {
	Dispatch(ctx context.Context, userIDs []int64) error
}

// Deps collects the pipeline components the job handlers call into.
type Deps struct {
	Crawler   Crawler
	Embedding EmbeddingRunner
	Trainer   ModelTrainer
	Digest    DigestDispatcher
}

// Service owns the Watermill router and the handlers bound to it. It
// satisfies suture's Service interface via Serve.
type Service struct {
	router *message.Router
	bus    *Bus
	deps   Deps
	logger zerolog.Logger

	// inFlight guards each job topic so a slow cycle is skipped rather
	// than stacked when the next trigger arrives.
	inFlight map[string]*sync.Mutex
}

// NewService builds the router with the recover/retry/poison middleware
// stack and registers one handler per job topic.
func NewService(bus *Bus, deps Deps, cfg config.JobsConfig, logger zerolog.Logger) (*Service, error) {
	adapter := logging.NewWatermillAdapter(logger)

	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 30 * time.Second
	}
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: closeTimeout}, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create job router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)

	retryInterval := cfg.RetryInitialInterval
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: retryInterval,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		Logger:          adapter,
	}
	router.AddMiddleware(retry.Middleware)

	if cfg.PoisonTopic != "" {
		poison, err := middleware.PoisonQueue(bus.Publisher(), cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("failed to create poison queue middleware: %w", err)
		}
		router.AddMiddleware(poison)
	}

	s := &Service{
		router: router,
		bus:    bus,
		deps:   deps,
		logger: logger,
		inFlight: map[string]*sync.Mutex{
			TopicCrawlCycle:     {},
			TopicTrainCycle:     {},
			TopicDigestDispatch: {},
		},
	}

	router.AddNoPublisherHandler("crawl-cycle", TopicCrawlCycle, bus.Subscriber(), s.handleCrawlCycle)
	router.AddNoPublisherHandler("crawl-batch", TopicCrawlBatch, bus.Subscriber(), s.handleCrawlBatch)
	router.AddNoPublisherHandler("train-cycle", TopicTrainCycle, bus.Subscriber(), s.handleTrainCycle)
	router.AddNoPublisherHandler("digest-dispatch", TopicDigestDispatch, bus.Subscriber(), s.handleDigestDispatch)

	return s, nil
}

// Serve runs the router until the context is canceled.
func (s *Service) Serve(ctx context.Context) error {
	return s.router.Run(ctx)
}

// Running reports readiness, closed once all handlers are subscribed.
func (s *Service) Running() <-chan struct{} {
	return s.router.Running()
}

// singleFlight runs fn unless the same job topic is already busy, in
// which case the message is acked and dropped. Cycle triggers are
// periodic so a dropped tick is rescheduled anyway.
func (s *Service) singleFlight(job string, fn func() error) error {
	mu := s.inFlight[job]
	if !mu.TryLock() {
		s.logger.Warn().Str("job", job).Msg("Job already running, trigger dropped")
		metrics.JobRuns.WithLabelValues(job, "busy").Inc()
		return nil
	}
	defer mu.Unlock()
	return s.observe(job, fn)
}

// observe times one handler execution and records its outcome.
func (s *Service) observe(job string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.JobRuns.WithLabelValues(job, "failure").Inc()
		return err
	}
	metrics.JobRuns.WithLabelValues(job, "success").Inc()
	return nil
}

func (s *Service) handleCrawlCycle(msg *message.Message) error {
	return s.singleFlight(TopicCrawlCycle, func() error {
		pub := &batchPublisher{publisher: s.bus.Publisher()}
		return s.deps.Crawler.Run(msg.Context(), pub)
	})
}

func (s *Service) handleCrawlBatch(msg *message.Message) error {
	payload, err := decodePayload[CrawlBatchPayload](msg)
	if err != nil {
		// Malformed payloads never become valid; poison them directly.
		return err
	}
	return s.observe(TopicCrawlBatch, func() error {
		return s.deps.Crawler.ProcessBatch(msg.Context(), payload.Source, payload.URLs)
	})
}

// handleTrainCycle chains the embedding retrain and the recommender
// grid search. The recommender needs fresh embeddings for its item
// feature block, so a failed embedding run fails the whole cycle.
func (s *Service) handleTrainCycle(msg *message.Message) error {
	return s.singleFlight(TopicTrainCycle, func() error {
		ctx := msg.Context()
		if err := s.deps.Embedding.Run(ctx); err != nil {
			return fmt.Errorf("embedding run failed: %w", err)
		}
		meta, err := s.deps.Trainer.Run(ctx)
		if err != nil {
			return fmt.Errorf("recommender training failed: %w", err)
		}
		s.logger.Info().
			Int("version", meta.Version).
			Float64("map@10", meta.Metrics["map@10"]).
			Msg("Training cycle produced model artifact")
		return nil
	})
}

// handleDigestDispatch serializes dispatches without dropping them. A
// dispatch can address specific users and has no periodic re-fire to
// fall back on, so a busy run queues the trigger behind the lock rather
// than acking it away.
func (s *Service) handleDigestDispatch(msg *message.Message) error {
	payload, err := decodePayload[DigestDispatchPayload](msg)
	if err != nil {
		return err
	}
	mu := s.inFlight[TopicDigestDispatch]
	if !mu.TryLock() {
		s.logger.Info().Str("job", TopicDigestDispatch).Msg("Dispatch already running, trigger queued")
		metrics.JobRuns.WithLabelValues(TopicDigestDispatch, "busy").Inc()
		mu.Lock()
	}
	defer mu.Unlock()
	return s.observe(TopicDigestDispatch, func() error {
		return s.deps.Digest.Dispatch(msg.Context(), payload.UserIDs)
	})
}

// batchPublisher adapts the bus to the crawl orchestrator's fanout
// interface.
type batchPublisher struct {
	publisher message.Publisher
}

func (p *batchPublisher) PublishBatch(_ context.Context, sourceName string, urls []string) error {
	msg, err := newMessage(CrawlBatchPayload{Source: sourceName, URLs: urls})
	if err != nil {
		return err
	}
	return p.publisher.Publish(TopicCrawlBatch, msg)
}
