// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package catalog

import "errors"

// Validation errors for parsed paper fields. Callers treat these as
// skip-and-continue conditions, not batch failures.
var (
	ErrMissingTitle    = errors.New("paper fields missing title")
	ErrMissingAbstract = errors.New("paper fields missing abstract")
	ErrMissingURL      = errors.New("paper fields missing url")
)
