// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package source

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/paperscope/paperscope/internal/config"
)

func testCache(t *testing.T, ttl time.Duration) *CategoryCache {
	t.Helper()

	c, err := NewCategoryCache(config.CacheConfig{CategoryMapTTL: ttl})
	if err != nil {
		t.Fatalf("NewCategoryCache() error = %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return c
}

func TestCategoryCacheScrapesOnceWhileFresh(t *testing.T) {
	c := testCache(t, time.Hour)
	ctx := context.Background()

	calls := 0
	scrape := func(context.Context) (map[string]string, error) {
		calls++
		return map[string]string{"ACL": "Association for Computational Linguistics"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.Resolve(ctx, "acl", scrape)
		if err != nil {
			t.Fatalf("Resolve() call %d error = %v", i, err)
		}
		if got["ACL"] == "" {
			t.Fatalf("Resolve() call %d returned empty taxonomy", i)
		}
	}
	if calls != 1 {
		t.Errorf("scrape called %d times, want 1", calls)
	}
}

func TestCategoryCacheStaleFallback(t *testing.T) {
	// Zero-ish TTL: every Resolve refetches.
	c := testCache(t, time.Nanosecond)
	ctx := context.Background()

	want := map[string]string{"EMNLP": "Empirical Methods in Natural Language Processing"}
	good := func(context.Context) (map[string]string, error) { return want, nil }
	bad := func(context.Context) (map[string]string, error) { return nil, errors.New("origin down") }

	if _, err := c.Resolve(ctx, "acl", good); err != nil {
		t.Fatalf("Resolve() seed error = %v", err)
	}

	// Expired entry plus failing refetch: stale copy is served.
	got, err := c.Resolve(ctx, "acl", bad)
	if err != nil {
		t.Fatalf("Resolve() with failing scrape error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve() = %v, want stale %v", got, want)
	}

	// No cached copy at all: the scrape error surfaces.
	if _, err := c.Resolve(ctx, "unseeded", bad); err == nil {
		t.Error("Resolve() with no cache and failing scrape succeeded, want error")
	}
}
