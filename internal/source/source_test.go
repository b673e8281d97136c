// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/fetch"
)

func testFetcher(srv *httptest.Server) *fetch.Fetcher {
	cfg := config.FetchConfig{
		Timeout:                 5 * time.Second,
		RatePerHost:             1000,
		BurstPerHost:            1000,
		BreakerFailureThreshold: 100,
		BreakerCooldown:         time.Minute,
	}
	return fetch.New(cfg, srv.Client(), zerolog.Nop())
}

const arxivAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>Residual Learning for Image Recognition</title>
    <summary>We present a residual learning framework.</summary>
    <link rel="alternate" href="http://arxiv.org/abs/2501.01234v1"/>
    <author><name>Kaiming He, Xiangyu Zhang</name></author>
    <author><name>Shaoqing Ren</name></author>
    <category term="cs.CV"/>
    <category term="cs.XX"/>
  </entry>
</feed>`

func TestArxivFetchEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(arxivAtom))
	}))
	defer srv.Close()

	adapter := NewArxiv(srv.URL)
	entries, err := adapter.FetchEntries(context.Background(), testFetcher(srv))
	if err != nil {
		t.Fatalf("FetchEntries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("FetchEntries() returned %d entries, want 1", len(entries))
	}

	entry := entries[0]
	if entry.Title != "Residual Learning for Image Recognition" {
		t.Errorf("Title = %q", entry.Title)
	}
	if entry.Link != "http://arxiv.org/abs/2501.01234v1" {
		t.Errorf("Link = %q", entry.Link)
	}
	wantAuthors := []string{"Kaiming He", "Xiangyu Zhang", "Shaoqing Ren"}
	if !reflect.DeepEqual(entry.Authors, wantAuthors) {
		t.Errorf("Authors = %v, want %v", entry.Authors, wantAuthors)
	}

	fields, err := adapter.ParseEntry(entry)
	if err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}
	fields = PostParse(adapter, fields)

	// Known codes map to display names, unknown codes pass through.
	wantCategories := []string{"Computer Vision and Pattern Recognition", "cs.XX"}
	if !reflect.DeepEqual(fields.Categories, wantCategories) {
		t.Errorf("Categories = %v, want %v", fields.Categories, wantCategories)
	}
	if err := fields.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

const neuripsDetail = `<html><body>
<div class="maincard">
  <div class="maincardBody">Scaling Laws for Neural Language Models</div>
  <div class="maincardFooter">Jared Kaplan · Sam McCandlish</div>
  <span>
    <a href="https://papers.nips.cc/paper/123">proceedings</a>
    <a href="https://openreview.net/forum?id=abc">OpenReview</a>
  </span>
</div>
<div class="abstractContainer">We study empirical scaling laws.</div>
</body></html>`

func TestNeurIPSParse(t *testing.T) {
	adapter := NewNeurIPS("https://neurips.cc/virtual/2026/papers.html")

	doc := &fetch.Document{URL: "https://neurips.cc/virtual/2026/poster/123", Body: []byte(neuripsDetail)}
	fields, err := adapter.Parse(doc)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if fields.Title != "Scaling Laws for Neural Language Models" {
		t.Errorf("Title = %q", fields.Title)
	}
	if fields.Abstract != "We study empirical scaling laws." {
		t.Errorf("Abstract = %q", fields.Abstract)
	}
	wantAuthors := []string{"Jared Kaplan", "Sam McCandlish"}
	if !reflect.DeepEqual(fields.Authors, wantAuthors) {
		t.Errorf("Authors = %v, want %v", fields.Authors, wantAuthors)
	}
	// The OpenReview link wins over the proceedings link.
	if fields.URL != "https://openreview.net/forum?id=abc" {
		t.Errorf("URL = %q, want openreview link", fields.URL)
	}
}

func TestPreferOpenReview(t *testing.T) {
	tests := []struct {
		name string
		urls []string
		want string
	}{
		{"empty", nil, ""},
		{"no openreview", []string{"https://a.test", "https://b.test"}, "https://a.test"},
		{"openreview last wins", []string{"https://a.test", "https://openreview.net/x", "https://openreview.net/y"}, "https://openreview.net/y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preferOpenReview(tt.urls); got != tt.want {
				t.Errorf("preferOpenReview(%v) = %q, want %q", tt.urls, got, tt.want)
			}
		})
	}
}

const aclDetail = `<html><body>
<h2 id="title">Neural Machine Translation of Rare Words</h2>
<p class="lead"><a>Rico  Sennrich</a><a>Barry
Haddow</a></p>
<div class="acl-abstract"><span>We introduce subword units.</span></div>
<dl>
  <dt>Venue:</dt><dd><a>ACL</a></dd>
  <dt>Keywords:</dt><dd>subword, translation</dd>
</dl>
</body></html>`

func TestACLParseAndPostParse(t *testing.T) {
	adapter := NewACL("https://aclanthology.org/events/acl-2026/", nil)
	adapter.venues = map[string]string{"ACL": "Association for Computational Linguistics"}

	doc := &fetch.Document{URL: "https://aclanthology.org/2026.acl-long.1/", Body: []byte(aclDetail)}
	fields, err := adapter.Parse(doc)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	fields = PostParse(adapter, fields)

	if fields.Title != "Neural Machine Translation of Rare Words" {
		t.Errorf("Title = %q", fields.Title)
	}
	wantAuthors := []string{"Rico Sennrich", "Barry Haddow"}
	if !reflect.DeepEqual(fields.Authors, wantAuthors) {
		t.Errorf("Authors = %v, want whitespace-normalized %v", fields.Authors, wantAuthors)
	}
	wantCategories := []string{"Association for Computational Linguistics"}
	if !reflect.DeepEqual(fields.Categories, wantCategories) {
		t.Errorf("Categories = %v, want %v", fields.Categories, wantCategories)
	}
	wantKeywords := []string{"subword", "translation"}
	if !reflect.DeepEqual(fields.Keywords, wantKeywords) {
		t.Errorf("Keywords = %v, want %v", fields.Keywords, wantKeywords)
	}
	if fields.URL != doc.URL {
		t.Errorf("URL = %q, want page url", fields.URL)
	}
}

func TestRegistry(t *testing.T) {
	cfgs := []config.SourceConfig{
		{Name: "arxiv", Kind: "feed", EntryPoint: "http://export.arxiv.org/api/query?search_query=cat:cs.LG", Enabled: true},
		{Name: "neurips", Kind: "paged", EntryPoint: "https://neurips.cc/virtual/2026/papers.html", Enabled: true},
		{Name: "acl", Kind: "paged", EntryPoint: "https://aclanthology.org/events/acl-2026/", Enabled: false},
	}

	r, err := NewRegistry(cfgs, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"arxiv", "neurips"}) {
		t.Errorf("Names() = %v", got)
	}
	if len(r.Feeds()) != 1 || len(r.Paged()) != 1 {
		t.Errorf("adapters = %d feeds, %d paged, want 1 and 1", len(r.Feeds()), len(r.Paged()))
	}

	if _, err := NewRegistry([]config.SourceConfig{{Name: "nope", Enabled: true}}, nil); err == nil {
		t.Error("NewRegistry() with unknown source succeeded, want error")
	}
}
