// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/fetch"
)

// NeurIPS scrapes the conference schedule site. Each event card links to
// a detail page carrying title, authors, abstract, and outbound paper
// links; when an OpenReview link exists it wins over the publisher link.
type NeurIPS struct {
	entryPoint string
}

// NewNeurIPS creates the NeurIPS adapter starting from the given listing URL.
func NewNeurIPS(entryPoint string) *NeurIPS {
	return &NeurIPS{entryPoint: entryPoint}
}

// Descriptor implements PagedAdapter.
func (n *NeurIPS) Descriptor() Descriptor {
	return Descriptor{Name: "neurips", EntryPoint: n.entryPoint, Kind: KindPagedRequests}
}

// ListCandidateURLs extracts detail-page URLs from the schedule listing.
func (n *NeurIPS) ListCandidateURLs(ctx context.Context, f *fetch.Fetcher) ([]string, error) {
	doc, err := f.Fetch(ctx, n.entryPoint)
	if err != nil {
		return nil, err
	}
	html, err := doc.HTML()
	if err != nil {
		return nil, fmt.Errorf("neurips: failed to parse listing: %w", err)
	}

	urls, err := collectHrefs(html, "div.maincard a[href]", doc.URL)
	if err != nil {
		return nil, fmt.Errorf("neurips: %w", err)
	}
	return urls, nil
}

// Parse extracts paper fields from an event detail page.
func (n *NeurIPS) Parse(doc *fetch.Document) (catalog.PaperFields, error) {
	html, err := doc.HTML()
	if err != nil {
		return catalog.PaperFields{}, fmt.Errorf("neurips: failed to parse page %s: %w", doc.URL, err)
	}

	fields := catalog.PaperFields{
		Title:    strings.TrimSpace(html.Find("div.maincardBody").First().Text()),
		Abstract: strings.TrimSpace(html.Find("div.abstractContainer").First().Text()),
	}

	if footer := strings.TrimSpace(html.Find("div.maincardFooter").First().Text()); footer != "" {
		for _, author := range strings.Split(footer, " · ") {
			if author = strings.TrimSpace(author); author != "" {
				fields.Authors = append(fields.Authors, author)
			}
		}
	}

	links := attrValues(html, "div.maincard span a[href]", "href")
	fields.URL = preferOpenReview(links)
	if fields.URL == "" {
		fields.URL = doc.URL
	}
	return fields, nil
}

// preferOpenReview picks the last OpenReview link, else the first link.
func preferOpenReview(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	for i := len(urls) - 1; i >= 0; i-- {
		if strings.Contains(urls[i], "openreview") {
			return urls[i]
		}
	}
	return urls[0]
}
