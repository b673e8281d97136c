// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package source

import (
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// collectHrefs returns the absolute href of every element matching the
// selector, resolved against the page URL. Order follows document order;
// duplicates are kept for the orchestrator to dedup.
func collectHrefs(doc *goquery.Document, selector, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("bad page url %q: %w", pageURL, err)
	}

	var hrefs []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		hrefs = append(hrefs, base.ResolveReference(ref).String())
	})
	return hrefs, nil
}

// attrValues returns the named attribute of every matching element,
// skipping elements where the attribute is absent or empty.
func attrValues(doc *goquery.Document, selector, attr string) []string {
	var values []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok && v != "" {
			values = append(values, v)
		}
	})
	return values
}
