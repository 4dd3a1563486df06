// Command snapshot loads the source catalog once and writes the unified
// table as CSV, JSON or GeoJSON.
//
// Usage:
//
//	go run ./cmd/snapshot --format csv --out projects.csv
//	go run ./cmd/snapshot --catalog crime --source Larceny --format geojson
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/civic-map-etl/internal/adapter/export"
	"github.com/couchcryptid/civic-map-etl/internal/adapter/fetch"
	"github.com/couchcryptid/civic-map-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/civic-map-etl/internal/catalog"
	"github.com/couchcryptid/civic-map-etl/internal/config"
	"github.com/couchcryptid/civic-map-etl/internal/domain"
	"github.com/couchcryptid/civic-map-etl/internal/observability"
	"github.com/couchcryptid/civic-map-etl/internal/pipeline"
)

// errAllFailed signals that no source produced data.
var errAllFailed = errors.New("every source failed")

type options struct {
	format      string
	out         string
	group       string
	source      string
	sourcesFile string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "snapshot",
		Short:         "Load the civic sources once and write the unified table",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.format, "format", "csv", "output format: csv, json or geojson")
	cmd.Flags().StringVar(&opts.out, "out", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&opts.group, "catalog", domain.DefaultGroup, "catalog group to load")
	cmd.Flags().StringVar(&opts.source, "source", domain.AllSources, "source name or tag to keep")
	cmd.Flags().StringVar(&opts.sourcesFile, "sources", "", "source catalog YAML (overrides SOURCES_FILE)")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.sourcesFile != "" {
		cfg.SourcesFile = opts.sourcesFile
	}

	stderr := cmd.ErrOrStderr()
	logger := observability.NewLoggerTo(stderr, cfg)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())

	cat, err := catalog.Load(cfg.SourcesFile)
	if err != nil {
		return err
	}
	defs := cat.Group(opts.group)
	if len(defs) == 0 {
		return fmt.Errorf("catalog %q has no sources", opts.group)
	}
	filterByTag := opts.source != domain.AllSources
	if def, ok := cat.Lookup(opts.source); ok && def.GroupOrDefault() == opts.group {
		defs = []domain.SourceDefinition{def}
		filterByTag = false
	}

	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		cached, err := mapbox.NewCachedGeocoder(
			mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics),
			cfg.MapboxCacheSize, metrics)
		if err != nil {
			return err
		}
		geocoder = cached
	}

	client := fetch.NewClient(fetch.Options{
		Timeout: cfg.FetchTimeout,
		Retries: cfg.FetchRetries,
		Rate:    cfg.FetchRate,
	}, logger, metrics)
	loader := pipeline.NewLoader(fetch.NewFetcher(client), pipeline.Options{
		Geocoder:    geocoder,
		Location:    cfg.Location,
		Concurrency: cfg.FetchConcurrency,
	}, logger, metrics)

	snap, err := loader.Load(cmd.Context(), defs)
	if err != nil {
		return err
	}
	for _, w := range snap.Warnings {
		fmt.Fprintln(stderr, "warning:", w)
	}
	if snap.Failed() == len(defs) {
		return errAllFailed
	}

	records := snap.Records
	if filterByTag {
		records = domain.FilterBySource(records, opts.source)
	}

	out, closeOut, err := openOutput(cmd.OutOrStdout(), opts.out)
	if err != nil {
		return err
	}
	if err := export.Write(out, format, records); err != nil {
		_ = closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	logger.Info("snapshot written", "records", len(records), "format", format, "out", opts.out)
	return nil
}

func openOutput(stdout io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}
