// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package fetch provides the shared HTTP fetcher for source adapters.
//
// The fetcher performs exactly one GET per call and classifies failures
// as transport or http-status; retry policy belongs to the caller. Each
// origin host gets a token-bucket rate limiter and a circuit breaker so
// a dead origin fails fast instead of stalling a whole crawl cycle.
package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/metrics"
)

// maxBodyBytes bounds response bodies; listing and detail pages are small.
const maxBodyBytes = 8 << 20

// Document is a fetched page. The goquery document is built lazily so
// feed adapters that parse XML never pay for HTML parsing.
type Document struct {
	// URL is the final URL after redirects.
	URL string

	// Body is the raw response body.
	Body []byte

	htmlOnce sync.Once
	htmlDoc  *goquery.Document
	htmlErr  error
}

// HTML parses the body as an HTML document (memoized).
func (d *Document) HTML() (*goquery.Document, error) {
	d.htmlOnce.Do(func() {
		d.htmlDoc, d.htmlErr = goquery.NewDocumentFromReader(bytes.NewReader(d.Body))
	})
	return d.htmlDoc, d.htmlErr
}

// Fetcher performs rate-limited, breaker-protected GETs.
type Fetcher struct {
	client    *http.Client
	cfg       config.FetchConfig
	logger    zerolog.Logger
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	breakers  map[string]*gobreaker.CircuitBreaker[*Document]
	userAgent string
}

// New creates a fetcher from config. A nil client gets a default with the
// configured timeout.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg config.FetchConfig, client *http.Client, logger zerolog.Logger) *Fetcher {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "paperscope/1.0"
	}

	return &Fetcher{
		client:    client,
		cfg:       cfg,
		logger:    logger.With().Str("component", "fetch").Logger(),
		limiters:  make(map[string]*rate.Limiter),
		breakers:  make(map[string]*gobreaker.CircuitBreaker[*Document]),
		userAgent: userAgent,
	}
}

// Fetch performs one GET. Failures are returned as *FetchError; the
// caller decides whether to skip the URL or abort.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	host := hostOf(rawURL)

	if err := f.limiter(host).Wait(ctx); err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: err}
	}

	start := time.Now()
	doc, err := f.breaker(host).Execute(func() (*Document, error) {
		return f.doGet(ctx, rawURL)
	})
	metrics.FetchDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())

	if err != nil {
		var fe *FetchError
		switch {
		case isBreakerErr(err):
			fe = &FetchError{Kind: KindRejected, URL: rawURL, Err: err}
			metrics.FetchRequests.WithLabelValues(host, "rejected").Inc()
		default:
			fe = asFetchError(err, rawURL)
			metrics.FetchRequests.WithLabelValues(host, string(fe.Kind)).Inc()
		}
		return nil, fe
	}

	metrics.FetchRequests.WithLabelValues(host, "success").Inc()
	return doc, nil
}

// doGet executes the request inside the breaker.
func (f *Fetcher) doGet(ctx context.Context, rawURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // close after full read is not actionable

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &FetchError{Kind: KindHTTPStatus, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: err}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Document{URL: finalURL, Body: body}, nil
}

// limiter returns the per-host rate limiter, creating it on first use.
func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.limiters[host]; ok {
		return l
	}

	perHost := f.cfg.RatePerHost
	if perHost <= 0 {
		perHost = 2.0
	}
	burst := f.cfg.BurstPerHost
	if burst <= 0 {
		burst = 4
	}

	l := rate.NewLimiter(rate.Limit(perHost), burst)
	f.limiters[host] = l
	return l
}

// breaker returns the per-host circuit breaker, creating it on first use.
func (f *Fetcher) breaker(host string) *gobreaker.CircuitBreaker[*Document] {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[host]; ok {
		return cb
	}

	threshold := f.cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cooldown := f.cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	logger := f.logger
	cb := gobreaker.NewCircuitBreaker[*Document](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("host", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("fetch breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	f.breakers[host] = cb
	return cb
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func isBreakerErr(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

// asFetchError normalizes breaker-wrapped errors back to *FetchError.
func asFetchError(err error, rawURL string) *FetchError {
	if fe, ok := err.(*FetchError); ok {
		return fe
	}
	return &FetchError{Kind: KindTransport, URL: rawURL, Err: err}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
