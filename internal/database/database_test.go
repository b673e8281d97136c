// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/metrics"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(config.DatabaseConfig{MaxMemory: "256MB", Threads: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

func samplePaper(title string) catalog.PaperFields {
	return catalog.PaperFields{
		Title:      title,
		Abstract:   "We study attention mechanisms in sequence transduction.",
		URL:        "https://arxiv.org/abs/2501.00001",
		Authors:    []string{"A. Vaswani", "N. Shazeer"},
		Keywords:   []string{"attention", "transformers"},
		Categories: []string{"Machine Learning"},
	}
}

func TestUpsertPaperInsertsAndUpdates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	upsertsBefore := testutil.ToFloat64(metrics.CatalogUpserts.WithLabelValues("upsert"))

	fields := samplePaper("Attention Is All You Need")
	id, err := db.UpsertPaper(ctx, fields, "arxiv")
	if err != nil {
		t.Fatalf("UpsertPaper() error = %v", err)
	}

	// Same title again: must hit the same row, not create a second one.
	fields.Abstract = "Revised abstract after camera-ready."
	fields.URL = "https://openreview.net/forum?id=xyz"
	id2, err := db.UpsertPaper(ctx, fields, "neurips")
	if err != nil {
		t.Fatalf("UpsertPaper() second call error = %v", err)
	}
	if id2 != id {
		t.Errorf("second upsert id = %d, want %d", id2, id)
	}

	n, err := db.CountPapers(ctx)
	if err != nil {
		t.Fatalf("CountPapers() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountPapers() = %d, want 1", n)
	}

	p, err := db.GetPaper(ctx, id)
	if err != nil {
		t.Fatalf("GetPaper() error = %v", err)
	}
	if p.Abstract != fields.Abstract {
		t.Errorf("Abstract = %q, want %q", p.Abstract, fields.Abstract)
	}
	if p.URL != fields.URL {
		t.Errorf("URL = %q, want %q", p.URL, fields.URL)
	}
	if p.Source != "neurips" {
		t.Errorf("Source = %q, want %q", p.Source, "neurips")
	}
	if len(p.Authors) != 2 || p.Authors[0] != "A. Vaswani" {
		t.Errorf("Authors = %v, want original author list", p.Authors)
	}

	// Both writes take the primary path; the counter records the kind of
	// write, not the source.
	upserts := testutil.ToFloat64(metrics.CatalogUpserts.WithLabelValues("upsert")) - upsertsBefore
	if upserts != 2 {
		t.Errorf("upserts counted = %v, want 2", upserts)
	}
}

func TestUpsertPaperRejectsInvalidFields(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*catalog.PaperFields)
		wantErr error
	}{
		{"missing title", func(f *catalog.PaperFields) { f.Title = "  " }, catalog.ErrMissingTitle},
		{"missing abstract", func(f *catalog.PaperFields) { f.Abstract = "" }, catalog.ErrMissingAbstract},
		{"missing url", func(f *catalog.PaperFields) { f.URL = "" }, catalog.ErrMissingURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := samplePaper("Some Valid Title")
			tt.mutate(&fields)
			if _, err := db.UpsertPaper(ctx, fields, "arxiv"); !errors.Is(err, tt.wantErr) {
				t.Errorf("UpsertPaper() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCrawlLedgerWindow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	urls := []string{
		"https://arxiv.org/abs/2501.00001",
		"https://arxiv.org/abs/2501.00002",
	}
	for _, u := range urls {
		if err := db.RecordAttempt(ctx, u); err != nil {
			t.Fatalf("RecordAttempt(%s) error = %v", u, err)
		}
	}
	// Repeat attempt must not duplicate the entry.
	if err := db.RecordAttempt(ctx, urls[0]); err != nil {
		t.Fatalf("repeat RecordAttempt() error = %v", err)
	}

	recent, err := db.CrawledWithin(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CrawledWithin() error = %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("CrawledWithin(1h) returned %d urls, want 2", len(recent))
	}

	// A zero-length window excludes everything crawled before "now".
	none, err := db.CrawledWithin(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("CrawledWithin() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("CrawledWithin(-1h) returned %d urls, want 0", len(none))
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.UpsertPaper(ctx, samplePaper("Embedded Paper"), "arxiv")
	if err != nil {
		t.Fatalf("UpsertPaper() error = %v", err)
	}

	vec := []float64{0.25, -0.5, 1.0, 0}
	if err := db.WriteEmbedding(ctx, id, vec); err != nil {
		t.Fatalf("WriteEmbedding() error = %v", err)
	}

	embeddings, err := db.ReadEmbeddings(ctx)
	if err != nil {
		t.Fatalf("ReadEmbeddings() error = %v", err)
	}
	got, ok := embeddings[id]
	if !ok {
		t.Fatalf("ReadEmbeddings() missing paper %d", id)
	}
	if len(got) != len(vec) {
		t.Fatalf("embedding length = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if diff := got[i] - vec[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("embedding[%d] = %v, want %v", i, got[i], vec[i])
		}
	}

	if err := db.WriteEmbedding(ctx, id+999, vec); err == nil {
		t.Error("WriteEmbedding() on missing paper succeeded, want error")
	}
}

func TestReadAbstracts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	titles := []string{"Paper One", "Paper Two", "Paper Three"}
	ids := make([]int64, 0, len(titles))
	for _, title := range titles {
		id, err := db.UpsertPaper(ctx, samplePaper(title), "arxiv")
		if err != nil {
			t.Fatalf("UpsertPaper(%q) error = %v", title, err)
		}
		ids = append(ids, id)
	}

	abstracts, err := db.ReadAbstracts(ctx)
	if err != nil {
		t.Fatalf("ReadAbstracts() error = %v", err)
	}
	if len(abstracts) != len(titles) {
		t.Fatalf("ReadAbstracts() returned %d entries, want %d", len(abstracts), len(titles))
	}
	for _, id := range ids {
		if abstracts[id] == "" {
			t.Errorf("ReadAbstracts() missing abstract for paper %d", id)
		}
	}
}

func TestFeedbackAppendOnly(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	paperID, err := db.UpsertPaper(ctx, samplePaper("Feedback Target"), "arxiv")
	if err != nil {
		t.Fatalf("UpsertPaper() error = %v", err)
	}
	userID, err := db.UpsertUser(ctx, "reader@example.org", []string{"transformers"})
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	kinds := []catalog.FeedbackKind{catalog.FeedbackRead, catalog.FeedbackPositive, catalog.FeedbackRead}
	for i, kind := range kinds {
		ev := catalog.Feedback{
			UserID:    userID,
			PaperID:   paperID,
			Kind:      kind,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.AppendFeedback(ctx, ev); err != nil {
			t.Fatalf("AppendFeedback(%d) error = %v", i, err)
		}
	}

	events, err := db.ReadFeedback(ctx)
	if err != nil {
		t.Fatalf("ReadFeedback() error = %v", err)
	}
	if len(events) != len(kinds) {
		t.Fatalf("ReadFeedback() returned %d events, want %d", len(events), len(kinds))
	}
	for i, ev := range events {
		if ev.Kind != kinds[i] {
			t.Errorf("event %d kind = %q, want %q", i, ev.Kind, kinds[i])
		}
	}

	if err := db.AppendFeedback(ctx, catalog.Feedback{UserID: userID, PaperID: paperID, Kind: "bogus"}); err == nil {
		t.Error("AppendFeedback() with unknown kind succeeded, want error")
	}
}

func TestUpsertUserByEmail(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.UpsertUser(ctx, "reader@example.org", []string{"nlp"})
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	id2, err := db.UpsertUser(ctx, "reader@example.org", []string{"nlp", "vision"})
	if err != nil {
		t.Fatalf("UpsertUser() second call error = %v", err)
	}
	if id2 != id {
		t.Errorf("second upsert id = %d, want %d", id2, id)
	}

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("ListUsers() returned %d users, want 1", len(users))
	}
	if len(users[0].Subscriptions) != 2 {
		t.Errorf("Subscriptions = %v, want updated two-entry list", users[0].Subscriptions)
	}
}
