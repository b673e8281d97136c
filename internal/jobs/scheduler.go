// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/paperscope/paperscope/internal/config"
)

// Scheduler publishes bare trigger messages on the configured job
// topics at fixed intervals. Nothing runs unless a schedule names it.
type Scheduler struct {
	publisher message.Publisher
	schedules []config.ScheduleConfig
	logger    zerolog.Logger
}

// NewScheduler builds the scheduler from the configured entries.
func NewScheduler(publisher message.Publisher, schedules []config.ScheduleConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		publisher: publisher,
		schedules: schedules,
		logger:    logger,
	}
}

// Serve runs one ticker per schedule until the context is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sched := range s.schedules {
		wg.Add(1)
		go func(sched config.ScheduleConfig) {
			defer wg.Done()
			s.tick(ctx, sched)
		}(sched)
	}
	wg.Wait()
	return ctx.Err()
}

// tick publishes on the schedule's topic until ctx ends. The first
// trigger fires after one full interval, not at startup, so restarts
// do not immediately re-run heavy cycles.
func (s *Scheduler) tick(ctx context.Context, sched config.ScheduleConfig) {
	ticker := time.NewTicker(sched.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Str("schedule", sched.Name).
		Str("job", sched.Job).
		Dur("interval", sched.Interval).
		Msg("Schedule active")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(sched)
		}
	}
}

func (s *Scheduler) trigger(sched config.ScheduleConfig) {
	msg, err := newMessage(struct{}{})
	if err != nil {
		s.logger.Error().Err(err).Str("schedule", sched.Name).Msg("Failed to build trigger message")
		return
	}
	if err := s.publisher.Publish(sched.Job, msg); err != nil {
		s.logger.Error().Err(err).
			Str("schedule", sched.Name).
			Str("job", sched.Job).
			Msg("Failed to publish job trigger")
		return
	}
	s.logger.Debug().Str("schedule", sched.Name).Str("job", sched.Job).Msg("Job triggered")
}
