// Package pipeline fetches, normalizes and aggregates sources into the
// unified table, and publishes it on a schedule.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
	"github.com/couchcryptid/civic-map-etl/internal/observability"
)

// TableFetcher retrieves the raw table for a source.
type TableFetcher interface {
	Fetch(ctx context.Context, def domain.SourceDefinition) (domain.RawTable, error)
}

// Options configures a Loader.
type Options struct {
	// Geocoder fills missing coordinates for definitions that ask for it.
	// Nil disables geocoding.
	Geocoder domain.Geocoder
	// Location is used to parse dates without a zone. Nil means UTC.
	Location *time.Location
	// Concurrency bounds the number of sources fetched at once.
	Concurrency int
}

// SourceStatus reports how one source fared during a load.
type SourceStatus struct {
	Name     string `json:"name"`
	Records  int    `json:"records"`
	Excluded int    `json:"excluded"`
	Skipped  int    `json:"skipped"`
	Geocoded int    `json:"geocoded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Snapshot is the unified table produced by one load.
type Snapshot struct {
	Records  []domain.Record
	Sources  []SourceStatus
	Warnings []string
}

// Failed returns the number of sources that contributed nothing because of
// a fetch or schema error.
func (s Snapshot) Failed() int {
	n := 0
	for _, st := range s.Sources {
		if st.Error != "" {
			n++
		}
	}
	return n
}

// Loader runs the fetch, normalize and aggregate steps for a set of sources.
// Each source is its own failure boundary.
type Loader struct {
	fetcher TableFetcher
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// NewLoader creates a Loader.
func NewLoader(f TableFetcher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Loader{fetcher: f, opts: opts, logger: logger, metrics: metrics}
}

// CheckReadiness returns nil once a load has produced records from at least
// one source.
func (l *Loader) CheckReadiness(_ context.Context) error {
	if !l.ready.Load() {
		return errors.New("no source has been loaded yet")
	}
	return nil
}

type sourceResult struct {
	records  []domain.Record
	status   SourceStatus
	warnings []string
}

// Load fetches every definition concurrently and aggregates the normalized
// records in definition order. Source failures become warnings; only a
// cancelled context fails the load.
func (l *Loader) Load(ctx context.Context, defs []domain.SourceDefinition) (Snapshot, error) {
	start := time.Now()
	results := make([]sourceResult, len(defs))

	var g errgroup.Group
	g.SetLimit(l.opts.Concurrency)
	for i, def := range defs {
		g.Go(func() error {
			results[i] = l.loadSource(ctx, def)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("load sources: %w", err)
	}

	snap := Snapshot{Sources: make([]SourceStatus, len(defs))}
	tables := make([][]domain.Record, len(defs))
	loaded := false
	for i, r := range results {
		tables[i] = r.records
		snap.Sources[i] = r.status
		snap.Warnings = append(snap.Warnings, r.warnings...)
		if r.status.Error == "" {
			loaded = true
		}
	}
	snap.Records = domain.Aggregate(tables...)

	if loaded && len(snap.Records) > 0 {
		l.ready.Store(true)
		l.metrics.Ready.Set(1)
	}
	l.metrics.LoadDuration.Observe(time.Since(start).Seconds())
	l.logger.Info("sources loaded",
		"sources", len(defs),
		"failed", snap.Failed(),
		"records", len(snap.Records),
		"duration", time.Since(start),
	)
	return snap, nil
}

func (l *Loader) loadSource(ctx context.Context, def domain.SourceDefinition) sourceResult {
	res := sourceResult{status: SourceStatus{Name: def.Name}}

	table, err := l.fetcher.Fetch(ctx, def)
	if err != nil {
		l.logger.Warn("source fetch failed", "source", def.Name, "url", def.URL, "error", err)
		res.status.Error = err.Error()
		res.warnings = append(res.warnings, err.Error())
		return res
	}

	table, res.status.Geocoded = domain.FillCoordinates(ctx, table, def, l.opts.Geocoder, l.logger)

	norm, err := domain.Normalize(table, def, l.opts.Location)
	if err != nil {
		l.logger.Warn("source schema mismatch", "source", def.Name, "error", err)
		res.status.Error = err.Error()
		res.warnings = append(res.warnings, err.Error())
		return res
	}

	dateErrors := 0
	for _, skipped := range norm.Skipped {
		reason := skipReason(skipped)
		l.metrics.RowsSkipped.WithLabelValues(def.Name, reason).Inc()
		switch reason {
		case "date":
			dateErrors++
			l.logger.Warn("row dropped", "source", def.Name, "error", skipped)
		case "info_box":
			l.logger.Warn("row dropped", "source", def.Name, "error", skipped)
		default:
			l.logger.Debug("row dropped", "source", def.Name, "error", skipped)
		}
	}
	if dateErrors > 0 {
		res.warnings = append(res.warnings,
			fmt.Sprintf("%s: %d rows with unparsable dates dropped", def.Name, dateErrors))
	}

	l.metrics.RowsNormalized.WithLabelValues(def.Name).Add(float64(len(norm.Records)))
	l.metrics.RowsExcluded.WithLabelValues(def.Name).Add(float64(norm.Excluded))

	res.records = norm.Records
	res.status.Records = len(norm.Records)
	res.status.Excluded = norm.Excluded
	res.status.Skipped = len(norm.Skipped)
	return res
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrDateParse):
		return "date"
	case errors.Is(err, domain.ErrMalformedInfoBox):
		return "info_box"
	default:
		return "invalid"
	}
}
