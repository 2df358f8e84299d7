package auth

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ewers-io/ewers/pkg/observability"
)

// ExpiryStore is the store surface the sweeper needs. Implemented by the
// credential store.
type ExpiryStore interface {
	// ExpireAPIKeysBefore flips active keys whose expiry precedes cutoff to
	// expired. Returns the number of keys transitioned.
	ExpireAPIKeysBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically expires keys whose expiry has passed. The gate already
// expires keys lazily on validation; the sweeper keeps owner-facing list views
// honest for keys that are never presented again.
type Sweeper struct {
	store    ExpiryStore
	logger   *observability.Logger
	schedule string
	cron     *cron.Cron
}

// NewSweeper creates a sweeper running on the given cron schedule
// (e.g. "@every 10m").
func NewSweeper(store ExpiryStore, logger *observability.Logger, schedule string) *Sweeper {
	if schedule == "" {
		schedule = "@every 10m"
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		s.SweepOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.WithField("schedule", s.schedule).Info("API key sweeper started")
	return nil
}

// Stop stops the scheduler, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// SweepOnce runs a single sweep pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := s.store.ExpireAPIKeysBefore(ctx, time.Now().UTC())
	if err != nil {
		s.logger.WithError(err).Error("API key sweep failed")
		return
	}
	if n > 0 {
		s.logger.WithField("expired", n).Info("expired API keys swept")
	}
}
