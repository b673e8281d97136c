// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/crawler"
	"github.com/paperscope/paperscope/internal/recommend"
)

type fakeCrawler struct {
	mu      sync.Mutex
	batches []CrawlBatchPayload
	ran     chan struct{}
}

func newFakeCrawler() *fakeCrawler {
	return &fakeCrawler{ran: make(chan struct{}, 16)}
}

func (f *fakeCrawler) Run(ctx context.Context, pub crawler.BatchPublisher) error {
	return pub.PublishBatch(ctx, "arxiv", []string{"https://example.org/a", "https://example.org/b"})
}

func (f *fakeCrawler) ProcessBatch(_ context.Context, sourceName string, urls []string) error {
	f.mu.Lock()
	f.batches = append(f.batches, CrawlBatchPayload{Source: sourceName, URLs: urls})
	f.mu.Unlock()
	f.ran <- struct{}{}
	return nil
}

type fakeEmbedding struct {
	err    error
	called chan struct{}
}

func (f *fakeEmbedding) Run(context.Context) error {
	if f.called != nil {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}
	return f.err
}

type fakeTrainer struct {
	called chan struct{}
}

func (f *fakeTrainer) Run(context.Context) (*recommend.Metadata, error) {
	if f.called != nil {
		f.called <- struct{}{}
	}
	return &recommend.Metadata{Version: 1, Metrics: map[string]float64{"map@10": 0.4}}, nil
}

type fakeDigest struct {
	called chan []int64
}

func (f *fakeDigest) Dispatch(_ context.Context, userIDs []int64) error {
	f.called <- userIDs
	return nil
}

// blockingDigest holds dispatches open until released so tests can
// overlap two of them.
type blockingDigest struct {
	mu      sync.Mutex
	calls   [][]int64
	started chan struct{}
	release chan struct{}
}

func (f *blockingDigest) Dispatch(_ context.Context, userIDs []int64) error {
	f.mu.Lock()
	f.calls = append(f.calls, userIDs)
	f.mu.Unlock()
	f.started <- struct{}{}
	<-f.release
	return nil
}

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		RetryMaxRetries:      1,
		RetryInitialInterval: 10 * time.Millisecond,
		CloseTimeout:         time.Second,
	}
}

// startService builds a GoChannel bus plus router and blocks until the
// handlers are subscribed.
func startService(t *testing.T, deps Deps) (*Bus, *Service, context.CancelFunc) {
	t.Helper()

	logger := zerolog.Nop()
	bus, err := NewBus(config.JobsConfig{}, nil)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}

	svc, err := NewService(bus, deps, testJobsConfig(), logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = svc.Serve(ctx)
	}()

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("router did not start")
	}
	return bus, svc, cancel
}

func publish(t *testing.T, bus *Bus, topic string, payload any) {
	t.Helper()
	msg, err := newMessage(payload)
	if err != nil {
		t.Fatalf("newMessage: %v", err)
	}
	if err := bus.Publisher().Publish(topic, msg); err != nil {
		t.Fatalf("Publish(%s): %v", topic, err)
	}
}

func TestCrawlCycleFansOutBatches(t *testing.T) {
	cr := newFakeCrawler()
	bus, _, cancel := startService(t, Deps{Crawler: cr})
	defer cancel()

	publish(t, bus, TopicCrawlCycle, struct{}{})

	select {
	case <-cr.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("crawl batch was never processed")
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	if len(cr.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(cr.batches))
	}
	got := cr.batches[0]
	if got.Source != "arxiv" || len(got.URLs) != 2 {
		t.Fatalf("unexpected batch %+v", got)
	}
}

func TestCrawlBatchPayloadRoundTrip(t *testing.T) {
	cr := newFakeCrawler()
	bus, _, cancel := startService(t, Deps{Crawler: cr})
	defer cancel()

	publish(t, bus, TopicCrawlBatch, CrawlBatchPayload{
		Source: "neurips",
		URLs:   []string{"https://example.org/p/1"},
	})

	select {
	case <-cr.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("batch handler did not run")
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.batches[0].Source != "neurips" {
		t.Fatalf("unexpected source %q", cr.batches[0].Source)
	}
}

func TestTrainCycleChainsEmbeddingThenTrainer(t *testing.T) {
	emb := &fakeEmbedding{called: make(chan struct{}, 1)}
	tr := &fakeTrainer{called: make(chan struct{}, 1)}
	bus, _, cancel := startService(t, Deps{Embedding: emb, Trainer: tr})
	defer cancel()

	publish(t, bus, TopicTrainCycle, struct{}{})

	select {
	case <-emb.called:
	case <-time.After(5 * time.Second):
		t.Fatal("embedding run never started")
	}
	select {
	case <-tr.called:
	case <-time.After(5 * time.Second):
		t.Fatal("trainer never ran after embedding")
	}
}

func TestTrainCycleStopsWhenEmbeddingFails(t *testing.T) {
	emb := &fakeEmbedding{err: errors.New("not enough abstracts"), called: make(chan struct{}, 8)}
	tr := &fakeTrainer{called: make(chan struct{}, 8)}
	bus, _, cancel := startService(t, Deps{Embedding: emb, Trainer: tr})
	defer cancel()

	publish(t, bus, TopicTrainCycle, struct{}{})

	select {
	case <-emb.called:
	case <-time.After(5 * time.Second):
		t.Fatal("embedding run never started")
	}
	select {
	case <-tr.called:
		t.Fatal("trainer ran despite embedding failure")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDigestDispatchCarriesUserIDs(t *testing.T) {
	dg := &fakeDigest{called: make(chan []int64, 1)}
	bus, _, cancel := startService(t, Deps{Digest: dg})
	defer cancel()

	publish(t, bus, TopicDigestDispatch, DigestDispatchPayload{UserIDs: []int64{7, 9}})

	select {
	case ids := <-dg.called:
		if len(ids) != 2 || ids[0] != 7 || ids[1] != 9 {
			t.Fatalf("unexpected user ids %v", ids)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("digest dispatch never ran")
	}
}

// A user-targeted dispatch arriving while another dispatch runs must
// wait its turn, not be dropped: unlike cycle triggers it has no
// periodic re-fire to fall back on.
func TestDigestDispatchQueuesBehindRunningDispatch(t *testing.T) {
	dg := &blockingDigest{started: make(chan struct{}, 2), release: make(chan struct{})}

	bus, err := NewBus(config.JobsConfig{}, nil)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	svc, err := NewService(bus, Deps{Digest: dg}, testJobsConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	dispatch := func(ids []int64) chan error {
		done := make(chan error, 1)
		go func() {
			msg, err := newMessage(DigestDispatchPayload{UserIDs: ids})
			if err != nil {
				done <- err
				return
			}
			done <- svc.handleDigestDispatch(msg)
		}()
		return done
	}

	first := dispatch([]int64{1})
	select {
	case <-dg.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first dispatch never started")
	}

	second := dispatch([]int64{2})
	close(dg.release)

	for i, done := range []chan error{first, second} {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("dispatch %d error = %v", i+1, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("dispatch %d never finished", i+1)
		}
	}

	dg.mu.Lock()
	defer dg.mu.Unlock()
	if len(dg.calls) != 2 {
		t.Fatalf("dispatched %d times, want 2", len(dg.calls))
	}
	seen := make(map[int64]bool)
	for _, c := range dg.calls {
		seen[c[0]] = true
	}
	if !seen[1] || !seen[2] {
		t.Errorf("dispatched user sets = %v, want both user 1 and user 2", dg.calls)
	}
}

func TestDecodePayloadEmptyBody(t *testing.T) {
	msg := message.NewMessage("id", nil)
	payload, err := decodePayload[DigestDispatchPayload](msg)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if len(payload.UserIDs) != 0 {
		t.Fatalf("expected empty payload, got %+v", payload)
	}
}

func TestSchedulerPublishesTriggers(t *testing.T) {
	bus, err := NewBus(config.JobsConfig{}, nil)
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscriber().Subscribe(ctx, TopicCrawlCycle)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sched := NewScheduler(bus.Publisher(), []config.ScheduleConfig{
		{Name: "crawl", Interval: 20 * time.Millisecond, Job: TopicCrawlCycle},
	}, zerolog.Nop())
	go func() { _ = sched.Serve(ctx) }()

	select {
	case msg := <-msgs:
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never published a trigger")
	}
}
