// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package api serves the operational HTTP surface: liveness, Prometheus
// metrics, and pipeline status. There is no user-facing API here.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/recommend"
)

// Pinger is the database health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Counter reports catalog sizes for the status endpoint.
type Counter interface {
	CountPapers(ctx context.Context) (int, error)
	CountFeedback(ctx context.Context) (int, error)
}

// ModelInfo exposes the newest artifact's metadata.
type ModelInfo interface {
	LatestMetadata() (*recommend.Metadata, error)
}

// Server is the ops HTTP endpoint.
type Server struct {
	cfg    config.ServerConfig
	db     Pinger
	counts Counter
	model  ModelInfo
	logger zerolog.Logger
	http   *http.Server
}

// NewServer wires routes and middleware.
func NewServer(cfg config.ServerConfig, db Pinger, counts Counter, model ModelInfo, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		db:     db,
		counts: counts,
		model:  model,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if cfg.RateLimitReqs > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, window))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}
	return s
}

// Serve runs the listener until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("Ops server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the /status body.
type statusResponse struct {
	Papers   int                 `json:"papers"`
	Feedback int                 `json:"feedback"`
	Model    *recommend.Metadata `json:"model,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	papers, err := s.counts.CountPapers(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	feedback, err := s.counts.CountFeedback(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := statusResponse{Papers: papers, Feedback: feedback}
	meta, err := s.model.LatestMetadata()
	switch {
	case err == nil:
		resp.Model = meta
	case errors.Is(err, recommend.ErrNoArtifact):
		// No model trained yet; status still reports catalog counts.
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
