// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package recommend

import (
	"context"

	"github.com/paperscope/paperscope/internal/catalog"
)

// FeedbackReader supplies interaction history for exclusion lists.
type FeedbackReader interface {
	ReadFeedback(ctx context.Context) ([]catalog.Feedback, error)
}

// Server scores recommendation requests against the latest artifact.
// The artifact is loaded once per call batch, so a digest dispatch for
// many users reads the model a single time.
type Server struct {
	artifacts *ArtifactStore
	history   FeedbackReader
}

// NewServer creates a server over the artifact store.
func NewServer(artifacts *ArtifactStore, history FeedbackReader) *Server {
	return &Server{artifacts: artifacts, history: history}
}

// Recommend returns the top-k scored papers per requested user,
// excluding papers the user already interacted with. Users unknown to
// the model map to an empty list. ErrNoArtifact when no model has been
// trained.
func (s *Server) Recommend(ctx context.Context, userIDs []int64, k int) (map[int64][]ScoredPaper, error) {
	model, _, err := s.artifacts.Latest()
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]map[int64]struct{})
	if s.history != nil {
		events, err := s.history.ReadFeedback(ctx)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if seen[ev.UserID] == nil {
				seen[ev.UserID] = make(map[int64]struct{})
			}
			seen[ev.UserID][ev.PaperID] = struct{}{}
		}
	}

	out := make(map[int64][]ScoredPaper, len(userIDs))
	for _, user := range userIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[user] = model.TopKScored(user, k, seen[user])
	}
	return out, nil
}

// LatestMetadata exposes the current artifact's metadata for the ops
// endpoint. ErrNoArtifact when none exists.
func (s *Server) LatestMetadata() (*Metadata, error) {
	return s.artifacts.LatestMetadata()
}
