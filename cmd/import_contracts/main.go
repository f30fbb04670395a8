// Command import_contracts sets up the PDF ingest pipeline and contracts
// index, then indexes airline contract PDFs through it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elastic/search-workshop/importer/internal/config"
	"github.com/elastic/search-workshop/importer/internal/contracts"
	"github.com/elastic/search-workshop/importer/internal/esclient"
	"github.com/elastic/search-workshop/importer/internal/logging"
	"github.com/elastic/search-workshop/importer/internal/metrics"
)

type options struct {
	Config            string
	Mapping           string
	PDFPath           string
	SetupOnly         bool
	IngestOnly        bool
	InferenceEndpoint string
	Status            bool
	LogLevel          string
	LogFormat         string
	MetricsAddr       string
}

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
	opts := &options{
		Config:    "config/elasticsearch.yml",
		Mapping:   "config/mappings-contracts.json",
		LogLevel:  "info",
		LogFormat: "text",
	}

	cmd := &cobra.Command{
		Use:           "import_contracts",
		Short:         "Index airline contract PDFs into Elasticsearch",
		Long:          "Creates the pdf_pipeline ingest pipeline and the contracts index (semantic_text via ELSER), then indexes PDF files through the pipeline.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.SetupOnly && opts.IngestOnly {
				return errors.New("cannot use --setup-only and --ingest-only together")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Config, "config", "c", opts.Config, "Path to Elasticsearch config YAML")
	f.StringVarP(&opts.Mapping, "mapping", "m", opts.Mapping, "Path to mappings JSON")
	f.StringVar(&opts.PDFPath, "pdf-path", opts.PDFPath, "Path to PDF file or directory containing PDFs (default: data)")
	f.BoolVar(&opts.SetupOnly, "setup-only", opts.SetupOnly, "Only setup infrastructure (pipeline and index), skip PDF ingestion")
	f.BoolVar(&opts.IngestOnly, "ingest-only", opts.IngestOnly, "Skip setup, only ingest PDFs (assumes infrastructure exists)")
	f.StringVar(&opts.InferenceEndpoint, "inference-endpoint", opts.InferenceEndpoint, "Inference endpoint ID (default: .elser-2-elastic, will auto-detect if not found)")
	f.BoolVar(&opts.Status, "status", opts.Status, "Test connection and print cluster health status")
	f.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "Log format: text or json")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "Serve Prometheus metrics on this address during the import")

	return cmd
}

func run(ctx context.Context, opts *options) error {
	logger, err := logging.New(opts.LogLevel, opts.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := esclient.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating Elasticsearch client: %w", err)
	}
	logger.Infof("Using Elasticsearch at %s", client.Endpoint())

	if opts.Status {
		return client.ReportStatus(ctx)
	}

	mapping, err := config.LoadMapping(opts.Mapping)
	if err != nil {
		return err
	}

	m := metrics.NewImport("contracts")
	if opts.MetricsAddr != "" {
		stopMetrics := m.Serve(ctx, opts.MetricsAddr, logger)
		defer stopMetrics()
	}

	loader := contracts.NewContractLoader(client, mapping, contracts.Options{
		InferenceEndpoint: opts.InferenceEndpoint,
		Logger:            logger,
		Metrics:           m,
		ProgressOut:       os.Stdout,
		VerifyDelay:       time.Second,
	})

	if err := loader.CheckElasticsearch(ctx); err != nil {
		return fmt.Errorf("cannot connect to Elasticsearch: %w", err)
	}

	if !opts.IngestOnly {
		if err := loader.CheckInferenceEndpoint(ctx); err != nil {
			logger.Errorf("Please deploy ELSER via Kibana or API before continuing.")
			logger.Errorf("See: Management → Machine Learning → Trained Models → ELSER → Deploy")
			return err
		}
		if err := loader.CreatePipeline(ctx); err != nil {
			return err
		}
		if err := loader.CreateIndex(ctx); err != nil {
			return err
		}
	}

	if opts.SetupOnly {
		return nil
	}

	pdfPath := opts.PDFPath
	if pdfPath == "" {
		pdfPath = config.ResolvePath("data")
	}

	ingestStarted := time.Now()
	if err := loader.IngestPDFs(ctx, pdfPath); err != nil {
		return err
	}
	logger.Infof("Total ingestion time: %.2f seconds", time.Since(ingestStarted).Seconds())

	loader.VerifyIngestion(ctx)
	return nil
}
