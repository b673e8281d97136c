// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/fetch"
)

// arxivCategories maps arXiv CS category codes to display names. Parsed
// category terms not in this map pass through unchanged.
var arxivCategories = map[string]string{
	"cs.AI": "Artificial Intelligence",
	"cs.AR": "Hardware Architecture",
	"cs.CC": "Computational Complexity",
	"cs.CE": "Computational Engineering, Finance, and Science",
	"cs.CG": "Computational Geometry",
	"cs.CL": "Computation and Language",
	"cs.CR": "Cryptography and Security",
	"cs.CV": "Computer Vision and Pattern Recognition",
	"cs.CY": "Computers and Society",
	"cs.DB": "Databases",
	"cs.DC": "Distributed, Parallel, and Cluster Computing",
	"cs.DL": "Digital Libraries",
	"cs.DM": "Discrete Mathematics",
	"cs.DS": "Data Structures and Algorithms",
	"cs.ET": "Emerging Technologies",
	"cs.FL": "Formal Languages and Automata Theory",
	"cs.GL": "General Literature",
	"cs.GR": "Graphics",
	"cs.GT": "Computer Science and Game Theory",
	"cs.HC": "Human-Computer Interaction",
	"cs.IR": "Information Retrieval",
	"cs.IT": "Information Theory",
	"cs.LG": "Learning",
	"cs.LO": "Logic in Computer Science",
	"cs.MA": "Multiagent Systems",
	"cs.MM": "Multimedia",
}

// atomFeed mirrors the subset of the Atom schema the arXiv export API
// returns.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
	Links   []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
	Authors []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

// Arxiv is the arXiv Atom feed adapter.
type Arxiv struct {
	entryPoint string
}

// NewArxiv creates the arXiv adapter reading the given feed URL.
func NewArxiv(entryPoint string) *Arxiv {
	return &Arxiv{entryPoint: entryPoint}
}

// Descriptor implements FeedAdapter.
func (a *Arxiv) Descriptor() Descriptor {
	return Descriptor{Name: "arxiv", EntryPoint: a.entryPoint, Kind: KindFeed}
}

// FetchEntries downloads and decodes the Atom feed.
func (a *Arxiv) FetchEntries(ctx context.Context, f *fetch.Fetcher) ([]FeedEntry, error) {
	doc, err := f.Fetch(ctx, a.entryPoint)
	if err != nil {
		return nil, err
	}

	var feed atomFeed
	if err := xml.Unmarshal(doc.Body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: failed to decode feed: %w", err)
	}

	entries := make([]FeedEntry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		entry := FeedEntry{
			Title:   strings.TrimSpace(e.Title),
			Summary: strings.TrimSpace(e.Summary),
		}
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				entry.Link = l.Href
				break
			}
		}
		if entry.Link == "" && len(e.Links) > 0 {
			entry.Link = e.Links[0].Href
		}
		for _, au := range e.Authors {
			// A single-author element may carry a comma-joined name list.
			for _, name := range strings.Split(au.Name, ", ") {
				if name = strings.TrimSpace(name); name != "" {
					entry.Authors = append(entry.Authors, name)
				}
			}
		}
		for _, c := range e.Categories {
			if c.Term != "" {
				entry.Categories = append(entry.Categories, c.Term)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ParseEntry maps a feed entry straight onto paper fields.
func (a *Arxiv) ParseEntry(entry FeedEntry) (catalog.PaperFields, error) {
	return catalog.PaperFields{
		Title:      entry.Title,
		Abstract:   entry.Summary,
		URL:        entry.Link,
		Authors:    entry.Authors,
		Categories: entry.Categories,
	}, nil
}

// PostParse replaces category codes with display names.
func (a *Arxiv) PostParse(fields catalog.PaperFields) catalog.PaperFields {
	for i, code := range fields.Categories {
		if name, ok := arxivCategories[code]; ok {
			fields.Categories[i] = name
		}
	}
	return fields
}
