package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
	"github.com/couchcryptid/civic-map-etl/internal/pipeline"
)

type mockPublisher struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	published [][]domain.Record
	at        []time.Time
}

func (m *mockPublisher) Publish(_ context.Context, records []domain.Record, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failFirst {
		return errors.New("broker unavailable")
	}
	m.published = append(m.published, records)
	m.at = append(m.at, publishedAt)
	return nil
}

func (m *mockPublisher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestPublishJob_RunOnce(t *testing.T) {
	f := &mockFetcher{tables: map[string]domain.RawTable{
		"A": projectTable(row("a1", "2024-05-01")),
		"B": projectTable(row("b1", "2024-05-02")),
	}}
	metrics := newTestMetrics()
	loader := pipeline.NewLoader(f, pipeline.Options{}, discardLogger(), metrics)
	pub := &mockPublisher{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC))

	job := pipeline.NewPublishJob(loader, []domain.SourceDefinition{projectDef("A"), projectDef("B")}, pub, clock, discardLogger(), metrics)
	require.NoError(t, job.RunOnce(context.Background()))

	require.Len(t, pub.published, 1)
	assert.Equal(t, []string{"a1", "b1"}, names(pub.published[0]))
	assert.Equal(t, clock.Now(), pub.at[0])
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RecordsPublished), 0)
}

func TestPublishJob_RunOnce_RetriesThenSucceeds(t *testing.T) {
	f := &mockFetcher{tables: map[string]domain.RawTable{"A": projectTable(row("a1", "2024-05-01"))}}
	metrics := newTestMetrics()
	loader := pipeline.NewLoader(f, pipeline.Options{}, discardLogger(), metrics)
	pub := &mockPublisher{failFirst: 1}

	job := pipeline.NewPublishJob(loader, []domain.SourceDefinition{projectDef("A")}, pub, clockwork.NewRealClock(), discardLogger(), metrics)
	require.NoError(t, job.RunOnce(context.Background()))

	assert.Equal(t, 2, pub.callCount())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PublishErrors), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RecordsPublished), 0)
}

func TestPublishJob_RunOnce_GivesUp(t *testing.T) {
	f := &mockFetcher{tables: map[string]domain.RawTable{"A": projectTable(row("a1", "2024-05-01"))}}
	metrics := newTestMetrics()
	loader := pipeline.NewLoader(f, pipeline.Options{}, discardLogger(), metrics)
	pub := &mockPublisher{failFirst: 10}

	job := pipeline.NewPublishJob(loader, []domain.SourceDefinition{projectDef("A")}, pub, clockwork.NewRealClock(), discardLogger(), metrics)
	err := job.RunOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, 3, pub.callCount())
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.PublishErrors), 0)
}

func TestPublishJob_RunOnce_NothingToPublish(t *testing.T) {
	f := &mockFetcher{errs: map[string]error{"A": errors.New("down")}}
	metrics := newTestMetrics()
	loader := pipeline.NewLoader(f, pipeline.Options{}, discardLogger(), metrics)
	pub := &mockPublisher{}

	job := pipeline.NewPublishJob(loader, []domain.SourceDefinition{projectDef("A")}, pub, clockwork.NewRealClock(), discardLogger(), metrics)
	require.NoError(t, job.RunOnce(context.Background()))
	assert.Zero(t, pub.callCount())
}

func TestPublishJob_Run_Schedules(t *testing.T) {
	f := &mockFetcher{tables: map[string]domain.RawTable{"A": projectTable(row("a1", "2024-05-01"))}}
	metrics := newTestMetrics()
	loader := pipeline.NewLoader(f, pipeline.Options{}, discardLogger(), metrics)
	pub := &mockPublisher{}
	job := pipeline.NewPublishJob(loader, []domain.SourceDefinition{projectDef("A")}, pub, clockwork.NewRealClock(), discardLogger(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Run(ctx, "@every 1s", time.UTC) }()

	require.Eventually(t, func() bool { return pub.callCount() >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publish job did not stop")
	}
}

func TestPublishJob_Run_InvalidSchedule(t *testing.T) {
	loader := pipeline.NewLoader(&mockFetcher{}, pipeline.Options{}, discardLogger(), newTestMetrics())
	job := pipeline.NewPublishJob(loader, nil, &mockPublisher{}, clockwork.NewRealClock(), discardLogger(), newTestMetrics())

	err := job.Run(context.Background(), "not a schedule", nil)
	assert.Error(t, err)
}
