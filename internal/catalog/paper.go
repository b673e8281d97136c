// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package catalog defines the core domain entities shared across the
// ingestion, training, and recommendation components.
//
// The catalog is the deduplicated store of paper records. Papers are
// identified by title: a second crawl producing the same title overwrites
// the mutable fields of the existing record instead of creating a new one.
package catalog

import (
	"strings"
	"time"
)

// Paper is a deduplicated catalog record for one academic paper.
type Paper struct {
	// ID is the internal catalog identifier.
	ID int64 `json:"id"`

	// Title uniquely identifies the paper across all sources.
	Title string `json:"title"`

	// Abstract is the paper abstract used for embedding training.
	Abstract string `json:"abstract"`

	// URL is the canonical link to the paper.
	URL string `json:"url"`

	// Authors lists author names in publication order.
	Authors []string `json:"authors,omitempty"`

	// Keywords lists author- or venue-supplied keywords.
	Keywords []string `json:"keywords,omitempty"`

	// Categories lists subject categories (display names, not codes).
	Categories []string `json:"categories,omitempty"`

	// Source is the name of the adapter that produced the record.
	Source string `json:"source"`

	// Embedding is the fixed-dimension abstract vector, nil until an
	// embedding run has processed this paper.
	Embedding []float64 `json:"embedding,omitempty"`

	// CreatedAt is when the paper was first ingested.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped whenever a later crawl overwrites mutable fields.
	UpdatedAt time.Time `json:"updated_at"`
}

// PaperFields is the parse output of a source adapter, before ledger
// bookkeeping and catalog assignment. Title, Abstract, and URL are
// required; everything else is optional.
type PaperFields struct {
	Title      string   `json:"title"`
	Abstract   string   `json:"abstract"`
	URL        string   `json:"url"`
	Authors    []string `json:"authors,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// Validate reports whether the required fields survived parsing and
// post-processing. Items failing validation are dropped with a warning,
// not treated as batch-fatal errors.
func (f PaperFields) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return ErrMissingTitle
	}
	if strings.TrimSpace(f.Abstract) == "" {
		return ErrMissingAbstract
	}
	if strings.TrimSpace(f.URL) == "" {
		return ErrMissingURL
	}
	return nil
}

// CrawledURL is an ingestion ledger entry recording the last fetch attempt
// for a URL. Entries are updated in place, never duplicated.
type CrawledURL struct {
	URL           string    `json:"url"`
	LastCrawledAt time.Time `json:"last_crawled_at"`
}

// FeedbackKind classifies a user's implicit or explicit feedback on a paper.
type FeedbackKind string

const (
	// FeedbackPositive records an upvote, save, or click-through.
	FeedbackPositive FeedbackKind = "positive"
	// FeedbackNegative records a downvote or dismissal.
	FeedbackNegative FeedbackKind = "negative"
	// FeedbackRead records that the user opened the paper.
	FeedbackRead FeedbackKind = "read"
)

// Weight returns the implicit-feedback confidence weight for this kind.
// Negative feedback carries a small non-zero weight to avoid singularities
// in the confidence-weighted factorization.
func (k FeedbackKind) Weight() float64 {
	switch k {
	case FeedbackPositive:
		return 1.0
	case FeedbackRead:
		return 0.5
	case FeedbackNegative:
		return 0.1
	default:
		return 0.0
	}
}

// Feedback is one append-only interaction event linking a user to a paper.
// Events are never merged, mutated, or deleted; a (user, paper) pair may
// accumulate any number of events over time.
type Feedback struct {
	UserID    int64        `json:"user_id"`
	PaperID   int64        `json:"paper_id"`
	Kind      FeedbackKind `json:"kind"`
	Timestamp time.Time    `json:"timestamp"`
}

// User carries the per-user attributes the recommender and digest
// components need: subscription keywords double as user-side features.
type User struct {
	ID            int64    `json:"id"`
	Email         string   `json:"email"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}
