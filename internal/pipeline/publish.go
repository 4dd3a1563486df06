package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
	"github.com/couchcryptid/civic-map-etl/internal/observability"
)

// Publisher writes the unified table to a downstream destination.
type Publisher interface {
	Publish(ctx context.Context, records []domain.Record, publishedAt time.Time) error
}

const (
	publishAttempts   = 3
	initialBackoff    = 200 * time.Millisecond
	maxPublishBackoff = 5 * time.Second
)

// PublishJob loads the configured sources and hands the unified table to a
// Publisher.
type PublishJob struct {
	loader    *Loader
	defs      []domain.SourceDefinition
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewPublishJob creates a job that publishes the records of defs.
func NewPublishJob(loader *Loader, defs []domain.SourceDefinition, p Publisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *PublishJob {
	return &PublishJob{
		loader:    loader,
		defs:      defs,
		publisher: p,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// RunOnce performs one load and publish cycle. Publish failures are retried
// with exponential backoff before giving up.
func (j *PublishJob) RunOnce(ctx context.Context) error {
	snap, err := j.loader.Load(ctx, j.defs)
	if err != nil {
		return err
	}
	if len(snap.Records) == 0 {
		j.logger.Warn("nothing to publish", "failed_sources", snap.Failed())
		return nil
	}

	publishedAt := j.clock.Now().UTC()
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err = j.publisher.Publish(ctx, snap.Records, publishedAt)
		if err == nil {
			break
		}
		j.metrics.PublishErrors.Inc()
		j.logger.Error("publish failed", "attempt", attempt, "records", len(snap.Records), "error", err)
		if attempt == publishAttempts {
			return fmt.Errorf("publish records: %w", err)
		}
		if !sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, maxPublishBackoff)
	}

	j.metrics.RecordsPublished.Add(float64(len(snap.Records)))
	j.logger.Info("records published",
		"records", len(snap.Records),
		"failed_sources", snap.Failed(),
		"published_at", publishedAt,
	)
	return nil
}

// Run schedules RunOnce on schedule (standard cron syntax or a descriptor such as
// "@every 15m") and blocks until ctx is cancelled.
func (j *PublishJob) Run(ctx context.Context, schedule string, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("publish job failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule publish job: %w", err)
	}

	c.Start()
	j.logger.Info("publish job started", "schedule", schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("publish job stopped")
	return nil
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
