// Package jobs runs periodic background work.
package jobs

import (
	"context"
	"time"

	"moment-backend/internal/services"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically finalizes timed-out pending Moments. Each run is a
// single conditional update, so overlapping runs (or a concurrent call to
// the process-expired endpoint) expire each Moment at most once.
type Sweeper struct {
	cron    *cron.Cron
	moments *services.MomentService
}

// NewSweeper creates a sweeper on the given cron schedule (with seconds).
func NewSweeper(moments *services.MomentService, schedule string) (*Sweeper, error) {
	c := cron.New(cron.WithSeconds())
	s := &Sweeper{cron: c, moments: moments}

	if _, err := c.AddFunc(schedule, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	log.Info().Msg("Moment sweeper started")
}

// Stop halts the schedule and waits briefly for a running sweep.
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Moment sweeper stop timed out")
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.moments.ExpireDue(ctx); err != nil {
		log.Error().Err(err).Msg("Moment sweep failed")
	}
}
