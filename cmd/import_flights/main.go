// Command import_flights bulk-loads flight CSV files into per-year
// Elasticsearch indices.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/elastic/search-workshop/importer/internal/config"
	"github.com/elastic/search-workshop/importer/internal/esclient"
	"github.com/elastic/search-workshop/importer/internal/flights"
	"github.com/elastic/search-workshop/importer/internal/logging"
	"github.com/elastic/search-workshop/importer/internal/lookup"
	"github.com/elastic/search-workshop/importer/internal/metrics"
	"github.com/elastic/search-workshop/importer/internal/objstore"
)

func main() {
	started := time.Now()
	err := newRootCmd().Execute()
	logging.PrintElapsed(os.Stdout, time.Since(started))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultOptions()

	cmd := &cobra.Command{
		Use:           "import_flights [files...]",
		Short:         "Import flight CSV data into Elasticsearch",
		Long:          "Reads flight records from .csv, .csv.gz or .zip files (local or s3://) and bulk-loads them into flights-<year> indices.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.finalize(args); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Config, "config", "c", opts.Config, "Path to Elasticsearch config YAML")
	f.StringVarP(&opts.Mapping, "mapping", "m", opts.Mapping, "Path to mappings JSON")
	f.StringVarP(&opts.DataDir, "data-dir", "d", opts.DataDir, "Directory containing data files")
	f.StringVarP(&opts.File, "file", "f", opts.File, "Only import the specified file (local path or s3://bucket/key)")
	f.BoolVarP(&opts.All, "all", "a", opts.All, "Import all files found in the data directory")
	f.StringVarP(&opts.Glob, "glob", "g", opts.Glob, "Import files matching the glob pattern")
	f.StringVar(&opts.Index, "index", opts.Index, "Override index name prefix")
	f.IntVar(&opts.BatchSize, "batch-size", opts.BatchSize, "Number of documents per bulk request")
	f.BoolVar(&opts.Refresh, "refresh", opts.Refresh, "Request an index refresh after each bulk request")
	f.BoolVar(&opts.Status, "status", opts.Status, "Test connection and print cluster health status")
	f.BoolVar(&opts.DeleteIndex, "delete-index", opts.DeleteIndex, "Delete indices matching the index pattern and exit")
	f.BoolVar(&opts.DeleteAll, "delete-all", opts.DeleteAll, "Delete all flights-* indices and exit")
	f.BoolVar(&opts.Sample, "sample", opts.Sample, "Print the first document and exit")
	f.StringVar(&opts.AirportsFile, "airports-file", opts.AirportsFile, "Path to airports CSV file")
	f.StringVar(&opts.CancellationsFile, "cancellations-file", opts.CancellationsFile, "Path to cancellations CSV file")
	f.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "Log format: text or json")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "Serve Prometheus metrics on this address during the import (e.g. :9102)")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	logger, err := logging.New(opts.LogLevel, opts.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// Config is loaded lazily: --sample only needs it for s3:// inputs.
	var cfg *config.Config
	loadConfig := func() (config.Config, error) {
		if cfg != nil {
			return *cfg, nil
		}
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return config.Config{}, fmt.Errorf("loading config: %w", err)
		}
		cfg = &loaded
		return loaded, nil
	}
	fetch := func(ctx context.Context, url string) ([]string, error) {
		c, err := loadConfig()
		if err != nil {
			return nil, err
		}
		fetcher, err := objstore.New(c.ObjectStore, logger)
		if err != nil {
			return nil, err
		}
		return fetcher.Fetch(ctx, url)
	}

	if opts.Sample {
		return sampleDocument(ctx, opts, logger, fetch)
	}

	c, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := esclient.New(c, logger)
	if err != nil {
		return fmt.Errorf("creating Elasticsearch client: %w", err)
	}
	logger.Infof("Using Elasticsearch at %s", client.Endpoint())

	switch {
	case opts.Status:
		return client.ReportStatus(ctx)
	case opts.DeleteIndex:
		return deleteIndicesByPattern(ctx, client, logger, opts.Index)
	case opts.DeleteAll:
		return deleteIndicesByPattern(ctx, client, logger, "flights-*")
	}

	mapping, err := config.LoadMapping(opts.Mapping)
	if err != nil {
		return err
	}

	m := metrics.NewImport("flights")
	if opts.MetricsAddr != "" {
		stopMetrics := m.Serve(ctx, opts.MetricsAddr, logger)
		defer stopMetrics()
	}

	loader, err := newLoader(client, mapping, opts, logger, m)
	if err != nil {
		return err
	}

	files, err := filesToProcess(ctx, opts, fetch)
	if err != nil {
		return fmt.Errorf("determining files to process: %w", err)
	}

	if _, err := loader.ImportFiles(ctx, files); err != nil {
		return fmt.Errorf("importing files: %w", err)
	}
	return nil
}

// newLoader wires the lookup tables into a FlightLoader. client may be nil
// for offline use.
func newLoader(client flights.Client, mapping map[string]any, opts *options, logger *zap.SugaredLogger, m *metrics.Import) (*flights.FlightLoader, error) {
	airports, err := lookup.NewAirportLookup(config.ResolvePath(opts.AirportsFile), logger)
	if err != nil {
		return nil, fmt.Errorf("loading airports: %w", err)
	}
	cancellations, err := lookup.NewCancellationLookup(config.ResolvePath(opts.CancellationsFile), logger)
	if err != nil {
		return nil, fmt.Errorf("loading cancellations: %w", err)
	}

	refresh := ""
	if opts.Refresh {
		refresh = "true"
	}

	return flights.NewFlightLoader(client, flights.Options{
		IndexPrefix:   opts.Index,
		Mapping:       mapping,
		BatchSize:     opts.BatchSize,
		Refresh:       refresh,
		Airports:      airports,
		Cancellations: cancellations,
		Logger:        logger,
		Metrics:       m,
		ProgressOut:   os.Stdout,
	}), nil
}

func sampleDocument(ctx context.Context, opts *options, logger *zap.SugaredLogger, fetch fetchFunc) error {
	loader, err := newLoader(nil, nil, opts, logger, nil)
	if err != nil {
		return err
	}

	files, err := filesToProcess(ctx, opts, fetch)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no files found to sample")
	}

	doc, err := loader.SampleDocument(files[0])
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.New("no document found in file")
	}

	return printSample(os.Stdout, doc)
}

// printSample writes the compacted document as indented JSON.
func printSample(w io.Writer, doc *flights.Document) error {
	fields, err := doc.Compact()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func deleteIndicesByPattern(ctx context.Context, client *esclient.Client, logger *zap.SugaredLogger, pattern string) error {
	withWildcard := pattern
	if !strings.HasSuffix(pattern, "*") {
		withWildcard = pattern + "-*"
	}

	logger.Infof("Searching for indices matching pattern: %s", withWildcard)

	deleted, err := client.DeleteIndicesByPattern(ctx, withWildcard)
	if err != nil {
		return fmt.Errorf("failed to delete indices matching pattern '%s': %w", pattern, err)
	}

	if len(deleted) == 0 {
		logger.Infof("No indices found matching pattern: %s", withWildcard)
	} else {
		logger.Infof("Deleted %d index(es): %s", len(deleted), strings.Join(deleted, ", "))
	}
	return nil
}
