// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package digest turns ranked recommendations into per-user digests and
// delivers them over pluggable channels.
//
// The manager asks the recommender for each user's ranked papers first;
// when no model artifact exists the whole dispatch aborts before any
// rendering or delivery happens, so users never receive an empty digest.
package digest

import (
	"context"
	"errors"
	"fmt"

	"github.com/paperscope/paperscope/internal/catalog"
	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/logging"
	"github.com/paperscope/paperscope/internal/metrics"
	"github.com/paperscope/paperscope/internal/recommend"
)

// Recommender is the scoring surface the digest needs.
type Recommender interface {
	Recommend(ctx context.Context, userIDs []int64, k int) (map[int64][]recommend.ScoredPaper, error)
}

// Catalog resolves recommended paper ids to their display metadata.
type Catalog interface {
	GetPapers(ctx context.Context, ids []int64) ([]catalog.Paper, error)
	ListUsers(ctx context.Context) ([]catalog.User, error)
}

// Digest is one rendered message ready for delivery.
type Digest struct {
	User    catalog.User
	Subject string
	Body    string
	Papers  []catalog.Paper
}

// ErrorClass separates retryable delivery failures from permanent ones.
type ErrorClass string

const (
	ErrorNone      ErrorClass = ""
	ErrorTransient ErrorClass = "transient"
	ErrorPermanent ErrorClass = "permanent"
)

// DeliveryResult reports one send attempt on one channel.
type DeliveryResult struct {
	Channel string
	Success bool
	Class   ErrorClass
	Err     error
}

// Channel delivers a rendered digest to its user.
type Channel interface {
	// Name identifies the channel in logs and metrics.
	Name() string

	// Send delivers one digest. The result classifies failures so the
	// caller can decide about retries.
	Send(ctx context.Context, d *Digest) *DeliveryResult
}

// Manager resolves, renders, and dispatches digests.
type Manager struct {
	recommender Recommender
	cat         Catalog
	renderer    *Renderer
	channels    []Channel
	cfg         config.DigestConfig
}

// NewManager wires the digest pipeline. Channels may be empty, which
// makes dispatch a no-op after resolution.
func NewManager(recommender Recommender, cat Catalog, channels []Channel, cfg config.DigestConfig) (*Manager, error) {
	renderer, err := NewRenderer(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		recommender: recommender,
		cat:         cat,
		renderer:    renderer,
		channels:    channels,
		cfg:         cfg,
	}, nil
}

// Dispatch builds and delivers digests for the given users, or for every
// registered user when userIDs is empty. Per-user delivery failures are
// logged; a missing model aborts everything up front.
func (m *Manager) Dispatch(ctx context.Context, userIDs []int64) error {
	users, err := m.resolveUsers(ctx, userIDs)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}

	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	recs, err := m.recommender.Recommend(ctx, ids, m.cfg.MaxItems)
	if err != nil {
		if errors.Is(err, recommend.ErrNoArtifact) {
			// Nothing trained yet: abort before rendering so no empty
			// digests go out.
			return fmt.Errorf("digest dispatch aborted: %w", err)
		}
		return err
	}

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		ranked := recs[user.ID]
		if len(ranked) == 0 {
			logging.Debug().Int64("user", user.ID).Msg("No recommendations for user, digest skipped")
			continue
		}
		paperIDs := make([]int64, len(ranked))
		for i, r := range ranked {
			paperIDs[i] = r.PaperID
		}

		d, err := m.build(ctx, user, paperIDs)
		if err != nil {
			logging.Error().Err(err).Int64("user", user.ID).Msg("Digest build failed")
			continue
		}
		m.deliver(ctx, d)
	}
	return nil
}

// resolveUsers loads the addressed users, or all users when unaddressed.
func (m *Manager) resolveUsers(ctx context.Context, userIDs []int64) ([]catalog.User, error) {
	all, err := m.cat.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return all, nil
	}

	want := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}
	var users []catalog.User
	for _, u := range all {
		if _, ok := want[u.ID]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

// build joins recommendation ids with catalog metadata and renders.
func (m *Manager) build(ctx context.Context, user catalog.User, paperIDs []int64) (*Digest, error) {
	papers, err := m.cat.GetPapers(ctx, paperIDs)
	if err != nil {
		return nil, err
	}
	if len(papers) == 0 {
		return nil, fmt.Errorf("no catalog records for user %d recommendations", user.ID)
	}
	if len(papers) > m.cfg.MaxItems {
		papers = papers[:m.cfg.MaxItems]
	}

	subject, body, err := m.renderer.Render(user, papers)
	if err != nil {
		return nil, err
	}
	return &Digest{User: user, Subject: subject, Body: body, Papers: papers}, nil
}

// deliver fans one digest out to every channel.
func (m *Manager) deliver(ctx context.Context, d *Digest) {
	for _, ch := range m.channels {
		res := ch.Send(ctx, d)
		status := "success"
		if !res.Success {
			status = string(res.Class)
			logging.Warn().Err(res.Err).
				Str("channel", ch.Name()).
				Int64("user", d.User.ID).
				Str("class", string(res.Class)).
				Msg("Digest delivery failed")
		}
		metrics.DigestDeliveries.WithLabelValues(ch.Name(), status).Inc()
	}
}
