// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package source

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/fetch"
	"github.com/paperscope/paperscope/internal/logging"
)

// aclVenuesURL is the anthology index mapping venue acronyms to names.
const aclVenuesURL = "https://aclanthology.org/venues/"

// ACL scrapes an ACL Anthology event listing. Venue acronyms found on
// detail pages resolve to full venue names through the scraped taxonomy,
// cached across crawl cycles.
type ACL struct {
	entryPoint string
	categories *CategoryCache

	mu     sync.RWMutex
	venues map[string]string
}

// NewACL creates the anthology adapter starting from the given event URL.
func NewACL(entryPoint string, categories *CategoryCache) *ACL {
	return &ACL{entryPoint: entryPoint, categories: categories}
}

// Descriptor implements PagedAdapter.
func (a *ACL) Descriptor() Descriptor {
	return Descriptor{Name: "acl", EntryPoint: a.entryPoint, Kind: KindPagedRequests}
}

// ListCandidateURLs extracts paper detail URLs from the event listing and
// refreshes the venue taxonomy for the Parse phase.
func (a *ACL) ListCandidateURLs(ctx context.Context, f *fetch.Fetcher) ([]string, error) {
	if a.categories != nil {
		venues, err := a.categories.Resolve(ctx, "acl", func(ctx context.Context) (map[string]string, error) {
			return a.scrapeVenues(ctx, f)
		})
		if err != nil {
			// Venue names are an enrichment; the crawl proceeds without them.
			logging.Warn().Err(err).Msg("ACL venue taxonomy unavailable")
		} else {
			a.mu.Lock()
			a.venues = venues
			a.mu.Unlock()
		}
	}

	doc, err := f.Fetch(ctx, a.entryPoint)
	if err != nil {
		return nil, err
	}
	html, err := doc.HTML()
	if err != nil {
		return nil, fmt.Errorf("acl: failed to parse listing: %w", err)
	}

	urls, err := collectHrefs(html, "p.d-sm-flex a.align-middle", doc.URL)
	if err != nil {
		return nil, fmt.Errorf("acl: %w", err)
	}
	return urls, nil
}

// Parse extracts paper fields from one anthology detail page.
func (a *ACL) Parse(doc *fetch.Document) (catalog.PaperFields, error) {
	html, err := doc.HTML()
	if err != nil {
		return catalog.PaperFields{}, fmt.Errorf("acl: failed to parse page %s: %w", doc.URL, err)
	}

	fields := catalog.PaperFields{
		Title:    strings.TrimSpace(html.Find("h2#title").First().Text()),
		Abstract: strings.TrimSpace(html.Find("div.acl-abstract span").First().Text()),
		URL:      doc.URL,
	}

	html.Find("p.lead a").Each(func(_ int, s *goquery.Selection) {
		fields.Authors = append(fields.Authors, s.Text())
	})

	// Definition rows carry venue acronyms and anthology keywords.
	html.Find("dl dt").Each(func(_ int, dt *goquery.Selection) {
		label := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(dt.Text()), ":"))
		dd := dt.NextFiltered("dd")
		switch label {
		case "Venue", "Venues":
			dd.Find("a").Each(func(_ int, s *goquery.Selection) {
				fields.Categories = append(fields.Categories, a.venueName(strings.TrimSpace(s.Text())))
			})
		case "Keywords":
			for _, kw := range strings.Split(dd.Text(), ",") {
				if kw = strings.TrimSpace(kw); kw != "" {
					fields.Keywords = append(fields.Keywords, kw)
				}
			}
		}
	})

	return fields, nil
}

// PostParse collapses internal whitespace in author names.
func (a *ACL) PostParse(fields catalog.PaperFields) catalog.PaperFields {
	for i, author := range fields.Authors {
		fields.Authors[i] = strings.Join(strings.Fields(author), " ")
	}
	return fields
}

// venueName resolves an acronym to the full venue name when known.
func (a *ACL) venueName(acronym string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if name, ok := a.venues[acronym]; ok {
		return name
	}
	return acronym
}

// scrapeVenues builds the acronym-to-name map from the venues index.
func (a *ACL) scrapeVenues(ctx context.Context, f *fetch.Fetcher) (map[string]string, error) {
	doc, err := f.Fetch(ctx, aclVenuesURL)
	if err != nil {
		return nil, err
	}
	html, err := doc.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to parse venues index: %w", err)
	}

	venues := make(map[string]string)
	html.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		acronym := strings.TrimSpace(row.Find("td").First().Text())
		name := strings.TrimSpace(row.Find("td").Eq(1).Text())
		if acronym != "" && name != "" {
			venues[acronym] = name
		}
	})
	if len(venues) == 0 {
		return nil, fmt.Errorf("venues index yielded no entries")
	}
	return venues, nil
}
