// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package database

import (
	"context"
	"fmt"
	"time"
)

// RecordAttempt marks a URL as crawled now. Safe to call repeatedly; a
// repeat attempt only advances the timestamp.
func (db *DB) RecordAttempt(ctx context.Context, url string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO crawled_urls (url, last_crawled_at)
		VALUES (?, now())
		ON CONFLICT (url) DO UPDATE SET last_crawled_at = now()`,
		url)
	if err != nil {
		return fmt.Errorf("failed to record crawl attempt for %s: %w", url, err)
	}
	return nil
}

// CrawledWithin returns every URL whose last crawl falls inside the
// window. Candidate sets subtract this list before fetching.
func (db *DB) CrawledWithin(ctx context.Context, window time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-window)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT url FROM crawled_urls WHERE last_crawled_at >= ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan crawl ledger row: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crawl ledger iteration failed: %w", err)
	}
	return urls, nil
}
