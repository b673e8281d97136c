// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package fetch

import "fmt"

// ErrorKind classifies fetch failures so callers can decide skip-vs-abort
// without string matching.
type ErrorKind string

const (
	// KindTransport covers DNS, dial, TLS, and body-read failures.
	KindTransport ErrorKind = "transport"
	// KindHTTPStatus covers non-2xx responses.
	KindHTTPStatus ErrorKind = "http-status"
	// KindRejected covers requests refused locally (open breaker).
	KindRejected ErrorKind = "rejected"
)

// FetchError is a classified fetch failure. Raw transport errors never
// escape the fetcher.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
