// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package recommend trains and serves the paper recommender.
//
// Feedback events become confidence-weighted interactions; paper
// embeddings and user subscription keywords become optional side
// features. Hyperparameters are chosen by a two-stage grid search
// evaluated on a seeded user-level holdout split, and the winning model
// is persisted as a versioned artifact.
package recommend

import (
	"errors"
	"sort"

	"github.com/paperscope/paperscope/internal/catalog"
)

// ErrInsufficientData signals too little feedback to train or evaluate.
var ErrInsufficientData = errors.New("not enough feedback for a training run")

// ErrNotConverged signals a grid candidate whose factors diverged.
var ErrNotConverged = errors.New("factorization did not converge")

// ErrNoArtifact signals that no trained model artifact exists yet.
var ErrNoArtifact = errors.New("no model artifact available")

// Interaction is one confidence-weighted user-item pair. Repeated
// feedback events for the same pair are summed before weighting.
type Interaction struct {
	UserID     int64
	ItemID     int64
	Confidence float64
}

// FeatureVariant selects which side features a candidate fit uses.
type FeatureVariant string

const (
	VariantNone     FeatureVariant = "none"
	VariantItem     FeatureVariant = "item"
	VariantUser     FeatureVariant = "user"
	VariantItemUser FeatureVariant = "item+user"
)

// Features carries the optional fixed side features per entity.
type Features struct {
	// Item maps item id to a dense feature vector (abstract embedding).
	// All vectors must share one width.
	Item map[int64][]float64

	// User maps user id to a bias feature vector built from subscription
	// keywords. All vectors must share one width.
	User map[int64][]float64
}

// BuildInteractions collapses the feedback log into weighted
// interactions. Event weights for one (user, item) pair accumulate.
func BuildInteractions(events []catalog.Feedback) []Interaction {
	type pair struct{ u, i int64 }
	acc := make(map[pair]float64)
	order := make([]pair, 0)
	for _, ev := range events {
		p := pair{ev.UserID, ev.PaperID}
		if _, ok := acc[p]; !ok {
			order = append(order, p)
		}
		acc[p] += ev.Kind.Weight()
	}

	// Deterministic order regardless of map iteration.
	sort.Slice(order, func(a, b int) bool {
		if order[a].u != order[b].u {
			return order[a].u < order[b].u
		}
		return order[a].i < order[b].i
	})

	interactions := make([]Interaction, 0, len(order))
	for _, p := range order {
		interactions = append(interactions, Interaction{UserID: p.u, ItemID: p.i, Confidence: acc[p]})
	}
	return interactions
}

// BuildUserFeatures derives keyword bias features from subscriptions.
// The feature space is the sorted union of all subscription keywords;
// each user's vector is a binary membership row.
func BuildUserFeatures(users []catalog.User) map[int64][]float64 {
	keywordSet := make(map[string]struct{})
	for _, u := range users {
		for _, kw := range u.Subscriptions {
			keywordSet[kw] = struct{}{}
		}
	}
	if len(keywordSet) == 0 {
		return nil
	}

	keywords := make([]string, 0, len(keywordSet))
	for kw := range keywordSet {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	index := make(map[string]int, len(keywords))
	for i, kw := range keywords {
		index[kw] = i
	}

	features := make(map[int64][]float64, len(users))
	for _, u := range users {
		if len(u.Subscriptions) == 0 {
			continue
		}
		vec := make([]float64, len(keywords))
		for _, kw := range u.Subscriptions {
			vec[index[kw]] = 1
		}
		features[u.ID] = vec
	}
	return features
}
