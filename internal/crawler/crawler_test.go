// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/fetch"
	"github.com/paperscope/paperscope/internal/metrics"
	"github.com/paperscope/paperscope/internal/source"
)

type fakeStore struct {
	mu       sync.Mutex
	recent   []string
	attempts []string
	papers   []catalog.PaperFields
}

func (s *fakeStore) RecordAttempt(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, url)
	return nil
}

func (s *fakeStore) CrawledWithin(context.Context, time.Duration) ([]string, error) {
	return s.recent, nil
}

func (s *fakeStore) UpsertPaper(_ context.Context, fields catalog.PaperFields, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.papers = append(s.papers, fields)
	return int64(len(s.papers)), nil
}

type fakePublisher struct {
	batches [][]string
}

func (p *fakePublisher) PublishBatch(_ context.Context, _ string, urls []string) error {
	p.batches = append(p.batches, urls)
	return nil
}

func newTestFetcher(srv *httptest.Server) *fetch.Fetcher {
	cfg := config.FetchConfig{
		Timeout:                 5 * time.Second,
		RatePerHost:             1000,
		BurstPerHost:            1000,
		BreakerFailureThreshold: 100,
		BreakerCooldown:         time.Minute,
	}
	return fetch.New(cfg, srv.Client(), zerolog.Nop())
}

// candidateCounts snapshots the per-disposition candidate counters for
// one source. Counters are process-global, so tests compare deltas.
func candidateCounts(name string) map[string]float64 {
	counts := make(map[string]float64)
	for _, d := range []string{"dispatched", "within_window", "duplicate"} {
		counts[d] = testutil.ToFloat64(metrics.CrawlCandidates.WithLabelValues(name, d))
	}
	return counts
}

func neuripsRegistry(t *testing.T, entryPoint string) *source.Registry {
	t.Helper()
	r, err := source.NewRegistry([]config.SourceConfig{
		{Name: "neurips", Kind: "paged", EntryPoint: entryPoint, Enabled: true},
	}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestRunDispatchesBatches(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Listing with a duplicate link and five distinct detail pages.
	mux.HandleFunc("/papers.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>`)
		for i := 1; i <= 5; i++ {
			fmt.Fprintf(w, `<div class="maincard"><a href="/poster/%d">p</a></div>`, i)
		}
		fmt.Fprint(w, `<div class="maincard"><a href="/poster/1">dup</a></div></body></html>`)
	})

	store := &fakeStore{recent: []string{srv.URL + "/poster/3"}}
	pub := &fakePublisher{}

	o := New(neuripsRegistry(t, srv.URL+"/papers.html"), newTestFetcher(srv), store,
		config.CrawlerConfig{RecrawlWindow: 168 * time.Hour, BatchSize: 2})

	before := candidateCounts("neurips")
	if err := o.Run(context.Background(), pub); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Five candidates minus the duplicate minus the recently-crawled one,
	// chunked into batches of two.
	want := [][]string{
		{srv.URL + "/poster/1", srv.URL + "/poster/2"},
		{srv.URL + "/poster/4", srv.URL + "/poster/5"},
	}
	if !reflect.DeepEqual(pub.batches, want) {
		t.Errorf("batches = %v, want %v", pub.batches, want)
	}

	after := candidateCounts("neurips")
	for disposition, delta := range map[string]float64{"dispatched": 4, "within_window": 1, "duplicate": 1} {
		if got := after[disposition] - before[disposition]; got != delta {
			t.Errorf("candidates counted as %q = %v, want %v", disposition, got, delta)
		}
	}
}

func detailPage(title, abstract string) string {
	return fmt.Sprintf(`<html><body>
		<div class="maincard">
			<div class="maincardBody">%s</div>
			<div class="maincardFooter">Ada Lovelace · Alan Turing</div>
			<span><a href="https://openreview.net/forum?id=x">r</a></span>
		</div>
		<div class="abstractContainer">%s</div>
		</body></html>`, title, abstract)
}

func TestProcessBatchSkipsBadUnits(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/poster/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Good Paper", "An abstract."))
	})
	// Missing abstract: fails validation, skipped.
	mux.HandleFunc("/poster/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Half Paper", ""))
	})
	// Fetch failure: skipped.
	mux.HandleFunc("/poster/3", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/poster/4", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPage("Another Good Paper", "More text."))
	})

	store := &fakeStore{}
	o := New(neuripsRegistry(t, srv.URL+"/papers.html"), newTestFetcher(srv), store,
		config.CrawlerConfig{RecrawlWindow: time.Hour, BatchSize: 16})

	urls := []string{
		srv.URL + "/poster/1",
		srv.URL + "/poster/2",
		srv.URL + "/poster/3",
		srv.URL + "/poster/4",
	}
	if err := o.ProcessBatch(context.Background(), "neurips", urls); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if len(store.papers) != 2 {
		t.Fatalf("upserted %d papers, want 2", len(store.papers))
	}
	if store.papers[0].Title != "Good Paper" || store.papers[1].Title != "Another Good Paper" {
		t.Errorf("upserted titles = %q, %q", store.papers[0].Title, store.papers[1].Title)
	}
	// Only successfully ingested units record attempts.
	if len(store.attempts) != 2 {
		t.Errorf("recorded %d attempts, want 2", len(store.attempts))
	}
}

func TestProcessBatchUnknownSource(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	o := New(neuripsRegistry(t, srv.URL), newTestFetcher(srv), &fakeStore{},
		config.CrawlerConfig{RecrawlWindow: time.Hour, BatchSize: 16})

	// A stale batch for a disabled source is dropped, not an error.
	if err := o.ProcessBatch(context.Background(), "gone", []string{srv.URL + "/x"}); err != nil {
		t.Errorf("ProcessBatch() error = %v, want nil", err)
	}
}

const feedXML = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>Fresh Paper</title>
    <summary>New work.</summary>
    <link href="http://arxiv.org/abs/2508.00001"/>
    <author><name>Grace Hopper</name></author>
  </entry>
  <entry>
    <title>Seen Paper</title>
    <summary>Old work.</summary>
    <link href="http://arxiv.org/abs/2507.00001"/>
    <author><name>Grace Hopper</name></author>
  </entry>
</feed>`

func TestRunIngestsFeedInline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedXML)
	}))
	defer srv.Close()

	registry, err := source.NewRegistry([]config.SourceConfig{
		{Name: "arxiv", Kind: "feed", EntryPoint: srv.URL, Enabled: true},
	}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	// The second entry's URL is inside the recrawl window.
	store := &fakeStore{recent: []string{"http://arxiv.org/abs/2507.00001"}}
	o := New(registry, newTestFetcher(srv), store,
		config.CrawlerConfig{RecrawlWindow: 168 * time.Hour, BatchSize: 16})

	before := candidateCounts("arxiv")
	if err := o.Run(context.Background(), &fakePublisher{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	after := candidateCounts("arxiv")
	for disposition, delta := range map[string]float64{"dispatched": 1, "within_window": 1, "duplicate": 0} {
		if got := after[disposition] - before[disposition]; got != delta {
			t.Errorf("candidates counted as %q = %v, want %v", disposition, got, delta)
		}
	}

	if len(store.papers) != 1 {
		t.Fatalf("upserted %d papers, want 1", len(store.papers))
	}
	if store.papers[0].Title != "Fresh Paper" {
		t.Errorf("upserted title = %q, want %q", store.papers[0].Title, "Fresh Paper")
	}
	if want := []string{"http://arxiv.org/abs/2508.00001"}; !reflect.DeepEqual(store.attempts, want) {
		t.Errorf("attempts = %v, want %v", store.attempts, want)
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		urls []string
		size int
		want int
	}{
		{"empty", nil, 4, 0},
		{"exact", []string{"a", "b", "c", "d"}, 2, 2},
		{"remainder", []string{"a", "b", "c"}, 2, 2},
		{"zero size defaults", []string{"a"}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := chunk(tt.urls, tt.size); len(got) != tt.want {
				t.Errorf("chunk() produced %d batches, want %d", len(got), tt.want)
			}
		})
	}
}
