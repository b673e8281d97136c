// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package recommend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/logging"
	"github.com/paperscope/paperscope/internal/metrics"
)

// evalCutoffs are the ks every candidate is scored at.
var evalCutoffs = []int{1, 5, 10}

// TrainStore is the data surface a training run reads.
type TrainStore interface {
	ReadFeedback(ctx context.Context) ([]catalog.Feedback, error)
	ReadEmbeddings(ctx context.Context) (map[int64][]float64, error)
	ListUsers(ctx context.Context) ([]catalog.User, error)
}

// Candidate is one evaluated grid point.
type Candidate struct {
	Config  ALSConfig
	Metrics map[string]float64
}

// rankKey orders candidates by MAP@10 descending, ties broken by
// Serendipity@10 descending.
func rankCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		mi, mj := cands[i].Metrics["map@10"], cands[j].Metrics["map@10"]
		if mi != mj {
			return mi > mj
		}
		return cands[i].Metrics["serendipity@10"] > cands[j].Metrics["serendipity@10"]
	})
}

// Trainer runs the two-stage hyperparameter search and persists the
// winning model.
type Trainer struct {
	store     TrainStore
	artifacts *ArtifactStore
	cfg       config.RecommendConfig
}

// NewTrainer creates a trainer writing artifacts to the given store.
func NewTrainer(store TrainStore, artifacts *ArtifactStore, cfg config.RecommendConfig) *Trainer {
	return &Trainer{store: store, artifacts: artifacts, cfg: cfg}
}

// Run executes a full training cycle: build interactions, split, search
// the grid in two stages, retrain the winner on all data, and save a new
// artifact version. Returns the winning metadata.
func (t *Trainer) Run(ctx context.Context) (*Metadata, error) {
	start := time.Now()

	events, err := t.store.ReadFeedback(ctx)
	if err != nil {
		return nil, err
	}
	if len(events) < t.cfg.MinInteractions {
		metrics.TrainingFailures.WithLabelValues("recommend", "insufficient_data").Inc()
		return nil, fmt.Errorf("%w: have %d events, need %d", ErrInsufficientData, len(events), t.cfg.MinInteractions)
	}

	interactions := BuildInteractions(events)
	split, err := NewSplit(interactions, t.cfg.HoldoutFraction, t.cfg.MinUsers, t.cfg.Seed)
	if err != nil {
		metrics.TrainingFailures.WithLabelValues("recommend", "holdout_split").Inc()
		return nil, err
	}

	feats, err := t.loadFeatures(ctx)
	if err != nil {
		return nil, err
	}

	// Stage A: latent-only grid over {factors, alpha, regularization}.
	stageA := t.stageACandidates()
	winners := t.search(ctx, "A", stageA, split, feats)
	if len(winners) == 0 {
		metrics.TrainingFailures.WithLabelValues("recommend", "empty_grid").Inc()
		return nil, fmt.Errorf("stage A produced no converged candidates")
	}
	bestA := winners[0]

	// Stage B: feature variants around the stage-A winner's alpha and
	// regularization, over the smaller factors grid.
	stageB := t.stageBCandidates(bestA.Config)
	winnersB := t.search(ctx, "B", stageB, split, feats)
	if len(winnersB) == 0 {
		metrics.TrainingFailures.WithLabelValues("recommend", "empty_grid").Inc()
		return nil, fmt.Errorf("stage B produced no converged candidates")
	}
	best := winnersB[0]

	// Retrain the winner on the full interaction set.
	final := NewALS(best.Config)
	if err := final.Train(ctx, interactions, feats); err != nil {
		metrics.TrainingFailures.WithLabelValues("recommend", "final_fit").Inc()
		return nil, fmt.Errorf("final fit failed: %w", err)
	}

	meta, err := t.artifacts.Save(final.Export(), Metadata{
		Factors:             best.Config.Factors,
		Alpha:               best.Config.Alpha,
		Regularization:      best.Config.Regularization,
		Variant:             best.Config.Variant,
		FitFeaturesTogether: best.Config.FitFeaturesTogether,
		Metrics:             best.Metrics,
		Interactions:        len(interactions),
		TrainedAt:           time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	metrics.TrainingDuration.WithLabelValues("recommend").Observe(time.Since(start).Seconds())
	logging.Info().
		Int("version", meta.Version).
		Int("factors", meta.Factors).
		Float64("alpha", meta.Alpha).
		Float64("reg", meta.Regularization).
		Str("variant", string(meta.Variant)).
		Bool("fit_together", meta.FitFeaturesTogether).
		Float64("map@10", meta.Metrics["map@10"]).
		Dur("elapsed", time.Since(start)).
		Msg("Training cycle complete")
	return &meta, nil
}

// loadFeatures assembles the side features from the catalog.
func (t *Trainer) loadFeatures(ctx context.Context) (Features, error) {
	embeddings, err := t.store.ReadEmbeddings(ctx)
	if err != nil {
		return Features{}, err
	}
	users, err := t.store.ListUsers(ctx)
	if err != nil {
		return Features{}, err
	}
	return Features{Item: embeddings, User: BuildUserFeatures(users)}, nil
}

// stageACandidates spans the latent-only grid.
func (t *Trainer) stageACandidates() []ALSConfig {
	var grid []ALSConfig
	for _, factors := range t.cfg.StageAFactors {
		for _, alpha := range t.cfg.StageAAlphas {
			for _, reg := range t.cfg.StageARegs {
				grid = append(grid, ALSConfig{
					Factors:        factors,
					Iterations:     t.cfg.Iterations,
					Regularization: reg,
					Alpha:          alpha,
					Variant:        VariantNone,
				})
			}
		}
	}
	return grid
}

// stageBCandidates spans feature variants times the smaller factors grid
// times the fit-together switch, inheriting alpha and regularization
// from the stage-A winner.
func (t *Trainer) stageBCandidates(base ALSConfig) []ALSConfig {
	variants := []FeatureVariant{VariantNone, VariantItem, VariantUser, VariantItemUser}
	var grid []ALSConfig
	for _, variant := range variants {
		for _, factors := range t.cfg.StageBFactors {
			fits := []bool{false}
			if variant != VariantNone {
				fits = []bool{false, true}
			}
			for _, together := range fits {
				grid = append(grid, ALSConfig{
					Factors:             factors,
					Iterations:          t.cfg.Iterations,
					Regularization:      base.Regularization,
					Alpha:               base.Alpha,
					Variant:             variant,
					FitFeaturesTogether: together,
				})
			}
		}
	}
	return grid
}

// search fits and evaluates every candidate, dropping failures, and
// returns the survivors ranked best-first.
func (t *Trainer) search(ctx context.Context, stage string, grid []ALSConfig, split *Split, feats Features) []Candidate {
	popularity := itemPopularity(split.Train)
	trainUsers := make(map[int64]struct{})
	trainByUser := make(map[int64]map[int64]struct{})
	for _, inter := range split.Train {
		trainUsers[inter.UserID] = struct{}{}
		if trainByUser[inter.UserID] == nil {
			trainByUser[inter.UserID] = make(map[int64]struct{})
		}
		trainByUser[inter.UserID][inter.ItemID] = struct{}{}
	}

	var survivors []Candidate
	for _, cfg := range grid {
		if ctx.Err() != nil {
			return survivors
		}
		model := NewALS(cfg)
		if err := model.Train(ctx, split.Train, feats); err != nil {
			metrics.GridCandidates.WithLabelValues(stage, "failed").Inc()
			logging.Warn().Err(err).
				Str("stage", stage).
				Int("factors", cfg.Factors).
				Float64("alpha", cfg.Alpha).
				Float64("reg", cfg.Regularization).
				Str("variant", string(cfg.Variant)).
				Msg("Grid candidate excluded")
			continue
		}

		ev := Evaluation{
			Recommended: make(map[int64][]int64, len(split.Holdout)),
			Holdout:     split.Holdout,
			Popularity:  popularity,
			NumUsers:    len(trainUsers),
		}
		exported := model.Export()
		maxK := evalCutoffs[len(evalCutoffs)-1]
		for user := range split.Holdout {
			ev.Recommended[user] = exported.TopK(user, maxK, trainByUser[user])
		}

		cand := Candidate{Config: cfg, Metrics: make(map[string]float64, 3*len(evalCutoffs))}
		for _, k := range evalCutoffs {
			cand.Metrics[fmt.Sprintf("map@%d", k)] = MAP(ev, k)
			cand.Metrics[fmt.Sprintf("miuf@%d", k)] = MIUF(ev, k)
			cand.Metrics[fmt.Sprintf("serendipity@%d", k)] = Serendipity(ev, k)
		}
		metrics.GridCandidates.WithLabelValues(stage, "scored").Inc()
		survivors = append(survivors, cand)
	}

	rankCandidates(survivors)
	return survivors
}
