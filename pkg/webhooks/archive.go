package webhooks

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ewers-io/ewers/pkg/observability"
)

// LogArchiver persists a batch of delivery logs to long-term storage.
// Implemented by the postgres store's S3 archive path.
type LogArchiver interface {
	ArchiveDeliveryLogs(ctx context.Context, logs []*DeliveryLog) error
}

// ArchiveJob periodically drains the in-memory delivery log backlog into
// the archiver, so delivery outcomes survive LRU eviction and restarts.
type ArchiveJob struct {
	logs     *DeliveryLogStore
	archiver LogArchiver
	logger   *observability.Logger
	schedule string
	cron     *cron.Cron
}

// NewArchiveJob creates an archive job running on the given cron schedule
// (e.g. "@every 15m").
func NewArchiveJob(logs *DeliveryLogStore, archiver LogArchiver, logger *observability.Logger, schedule string) *ArchiveJob {
	if schedule == "" {
		schedule = "@every 15m"
	}
	return &ArchiveJob{
		logs:     logs,
		archiver: archiver,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the flush job and starts the scheduler.
func (j *ArchiveJob) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(j.schedule, func() {
		j.FlushOnce(ctx)
	})
	if err != nil {
		return err
	}
	j.cron = c
	c.Start()
	j.logger.WithField("schedule", j.schedule).Info("delivery log archive job started")
	return nil
}

// Stop stops the scheduler, waiting for a running flush to finish.
func (j *ArchiveJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// FlushOnce drains the backlog and ships it as one batch. On archiver
// failure the batch is requeued for the next flush.
func (j *ArchiveJob) FlushOnce(ctx context.Context) {
	batch := j.logs.DrainPending()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := j.archiver.ArchiveDeliveryLogs(ctx, batch); err != nil {
		j.logger.WithError(err).WithField("batch", len(batch)).Error("delivery log archive failed")
		j.logs.requeue(batch)
		return
	}
	j.logger.WithField("archived", len(batch)).Info("delivery logs archived")
}
