// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package source defines the adapter framework for paper sources and the
// concrete adapters shipped with the service.
//
// Two capability shapes exist. Paged sources expose a listing page that
// enumerates detail-page URLs; each detail page parses into one paper.
// Feed sources expose an Atom feed whose entries already carry their
// paper fields and canonical URL.
package source

import (
	"context"
	"fmt"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/fetch"
)

// Kind selects the adapter capability shape.
type Kind string

const (
	// KindPagedRequests marks listing-page sources crawled URL by URL.
	KindPagedRequests Kind = "paged"
	// KindFeed marks feed sources whose entries embed the paper fields.
	KindFeed Kind = "feed"
)

// Descriptor identifies one registered source.
type Descriptor struct {
	// Name is the stable adapter identifier.
	Name string

	// EntryPoint is the listing page or feed URL the adapter starts from.
	EntryPoint string

	// Kind is the capability shape.
	Kind Kind
}

// PagedAdapter is a source whose listing page yields detail-page URLs.
type PagedAdapter interface {
	Descriptor() Descriptor

	// ListCandidateURLs fetches the listing page and returns absolute
	// detail-page URLs. Duplicates are tolerated; the orchestrator dedups.
	ListCandidateURLs(ctx context.Context, f *fetch.Fetcher) ([]string, error)

	// Parse extracts paper fields from one fetched detail page.
	Parse(doc *fetch.Document) (catalog.PaperFields, error)
}

// FeedAdapter is a source whose feed entries carry the paper fields.
type FeedAdapter interface {
	Descriptor() Descriptor

	// FetchEntries fetches and decodes the feed.
	FetchEntries(ctx context.Context, f *fetch.Fetcher) ([]FeedEntry, error)

	// ParseEntry maps one feed entry to paper fields.
	ParseEntry(entry FeedEntry) (catalog.PaperFields, error)
}

// PostParser is an optional hook adapters implement to normalize parsed
// fields (author trimming, category display names) before validation.
type PostParser interface {
	PostParse(fields catalog.PaperFields) catalog.PaperFields
}

// FeedEntry is one decoded feed item, shape-agnostic across feed dialects.
type FeedEntry struct {
	Title      string
	Link       string
	Summary    string
	Authors    []string
	Categories []string
}

// Registry holds the enabled adapters in configuration order. It is
// built once at startup; there is no runtime discovery.
type Registry struct {
	paged []PagedAdapter
	feeds []FeedAdapter
	names []string
}

// NewRegistry constructs adapters for every enabled source config entry.
// Unknown source names are configuration errors.
func NewRegistry(cfgs []config.SourceConfig, categories *CategoryCache) (*Registry, error) {
	r := &Registry{}
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}

		switch cfg.Name {
		case "arxiv":
			r.feeds = append(r.feeds, NewArxiv(cfg.EntryPoint))
		case "neurips":
			r.paged = append(r.paged, NewNeurIPS(cfg.EntryPoint))
		case "acl":
			r.paged = append(r.paged, NewACL(cfg.EntryPoint, categories))
		default:
			return nil, fmt.Errorf("unknown source %q", cfg.Name)
		}
		r.names = append(r.names, cfg.Name)
	}
	return r, nil
}

// Paged returns the paged adapters in registration order.
func (r *Registry) Paged() []PagedAdapter {
	return r.paged
}

// Feeds returns the feed adapters in registration order.
func (r *Registry) Feeds() []FeedAdapter {
	return r.feeds
}

// Names returns the enabled source names in registration order.
func (r *Registry) Names() []string {
	return r.names
}

// PostParse applies the adapter's PostParser hook when present.
func PostParse(adapter any, fields catalog.PaperFields) catalog.PaperFields {
	if pp, ok := adapter.(PostParser); ok {
		return pp.PostParse(fields)
	}
	return fields
}
