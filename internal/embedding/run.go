// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package embedding

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/logging"
	"github.com/paperscope/paperscope/internal/metrics"
)

// ErrInsufficientData signals that the catalog holds fewer abstracts
// than the configured sample size. The run fails fast instead of
// training on a skewed corpus.
var ErrInsufficientData = errors.New("not enough abstracts for embedding run")

// Store is the catalog surface the trainer needs.
type Store interface {
	ReadAbstracts(ctx context.Context) (map[int64]string, error)
	WriteEmbedding(ctx context.Context, paperID int64, vec []float64) error
}

// Runner executes embedding runs over the catalog.
type Runner struct {
	store Store
	cfg   config.EmbeddingConfig
}

// NewRunner creates a runner with the given store and config.
func NewRunner(store Store, cfg config.EmbeddingConfig) *Runner {
	return &Runner{store: store, cfg: cfg}
}

// Run samples abstracts, trains the model, and writes a vector back for
// every paper in the catalog. All vectors of one run share the
// configured dimension exactly.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()

	abstracts, err := r.store.ReadAbstracts(ctx)
	if err != nil {
		return err
	}
	if len(abstracts) < r.cfg.SampleSize {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(abstracts), r.cfg.SampleSize)
	}

	// Deterministic sample: sort ids, then a seeded shuffle.
	ids := make([]int64, 0, len(abstracts))
	for id := range abstracts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rng := rand.New(rand.NewSource(r.cfg.Seed))
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	sample := ids[:r.cfg.SampleSize]

	docs := make([][]string, len(sample))
	for i, id := range sample {
		docs[i] = Tokenize(abstracts[id])
	}

	model := Train(docs, r.cfg.Dim, r.cfg.Epochs, r.cfg.MinTokenCount, r.cfg.Seed)
	logging.Info().
		Int("sample", len(sample)).
		Int("vocab", len(model.Vocab)).
		Int("dim", r.cfg.Dim).
		Msg("Embedding model trained")

	// Re-embed the full catalog, not just the sample.
	written := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vec := model.Infer(abstracts[id], r.cfg.Epochs)
		if err := r.store.WriteEmbedding(ctx, id, vec); err != nil {
			return err
		}
		written++
	}

	metrics.TrainingDuration.WithLabelValues("embedding").Observe(time.Since(start).Seconds())
	logging.Info().Int("papers", written).Dur("elapsed", time.Since(start)).Msg("Embedding run complete")
	return nil
}
