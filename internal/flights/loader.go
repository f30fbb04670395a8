package flights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elastic/search-workshop/importer/internal/esclient"
	"github.com/elastic/search-workshop/importer/internal/logging"
	"github.com/elastic/search-workshop/importer/internal/metrics"
)

// DefaultBatchSize is the number of documents per bulk request.
const DefaultBatchSize = 500

// maxLoggedItemErrors bounds the bulk item errors logged before aborting.
const maxLoggedItemErrors = 5

// ErrBulkIndexing aborts a run when the cluster rejects any document of a batch.
var ErrBulkIndexing = errors.New("bulk indexing reported errors")

// Client is the part of the Elasticsearch API the loader needs.
type Client interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, mapping map[string]any) error
	DeleteIndex(ctx context.Context, name string) (bool, error)
	Bulk(ctx context.Context, payload string, refresh string) (*esclient.BulkResponse, error)
}

type Options struct {
	IndexPrefix   string
	Mapping       map[string]any
	BatchSize     int
	Refresh       string
	Airports      AirportResolver
	Cancellations ReasonResolver
	Logger        *zap.SugaredLogger
	Metrics       *metrics.Import
	// ProgressOut receives the \r progress line; nil discards it.
	ProgressOut io.Writer
}

// Result summarises an ImportFiles run.
type Result struct {
	Loaded    int64
	Total     int64
	Processed int64
	Indices   []string
}

// FlightLoader streams flight CSV files into per-year or per-month indices.
// It is not safe for concurrent use; files and rows are handled in order.
type FlightLoader struct {
	client      Client
	mapping     map[string]any
	router      Router
	transformer *Transformer
	batchSize   int
	refresh     string
	logger      *zap.SugaredLogger
	metrics     *metrics.Import
	progress    *Progress

	// ensured lists indices created during this run. They are not checked
	// against the cluster again.
	ensured map[string]bool
	created []string
}

// NewFlightLoader builds a loader. client may be nil for sampling, in which
// case no index is ever touched.
func NewFlightLoader(client Client, opts Options) *FlightLoader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.IndexPrefix == "" {
		opts.IndexPrefix = "flights"
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewImport("flights")
	}

	return &FlightLoader{
		client:      client,
		mapping:     opts.Mapping,
		router:      Router{Prefix: opts.IndexPrefix},
		transformer: NewTransformer(opts.Airports, opts.Cancellations),
		batchSize:   opts.BatchSize,
		refresh:     opts.Refresh,
		logger:      opts.Logger.With("run_id", uuid.NewString()),
		metrics:     opts.Metrics,
		progress:    NewProgress(opts.ProgressOut),
		ensured:     make(map[string]bool),
	}
}

// EnsureIndex recreates indexName the first time it is seen in this run:
// an existing index is deleted, then the index is created with the mapping.
func (f *FlightLoader) EnsureIndex(ctx context.Context, indexName string) error {
	if f.client == nil || f.ensured[indexName] {
		return nil
	}

	exists, err := f.client.IndexExists(ctx, indexName)
	if err != nil {
		return err
	}

	if exists {
		f.logger.Infof("Deleting existing index '%s' before import", indexName)
		deleted, err := f.client.DeleteIndex(ctx, indexName)
		if err != nil {
			f.logger.Warnf("Failed to delete index '%s': %v", indexName, err)
		} else if deleted {
			f.logger.Infof("Index '%s' deleted", indexName)
		}
	}

	f.logger.Infof("Creating index: %s", indexName)
	if err := f.client.CreateIndex(ctx, indexName, f.mapping); err != nil {
		return fmt.Errorf("creating index %s: %w", indexName, err)
	}

	f.ensured[indexName] = true
	f.created = append(f.created, indexName)
	f.metrics.IndicesCreated.Inc()
	f.logger.Infof("Successfully created index: %s", indexName)
	return nil
}

// ImportFiles estimates the row total, then imports files in order. The
// first failing file aborts the run.
func (f *FlightLoader) ImportFiles(ctx context.Context, files []string) (Result, error) {
	f.logger.Infof("Counting records in %d file(s)...", len(files))
	f.progress.SetTotal(CountTotalRecords(files, f.logger))
	f.logger.Infof("Total records to import: %s", FormatNumber(f.progress.Total()))
	f.logger.Infof("Importing %d file(s)...", len(files))

	for _, filePath := range files {
		if err := f.ImportFile(ctx, filePath); err != nil {
			return f.result(), err
		}
	}

	fmt.Fprintln(f.progress.out)
	f.logger.Infof("Import complete: %s of %s records loaded", FormatNumber(f.progress.Loaded()), FormatNumber(f.progress.Total()))
	return f.result(), nil
}

func (f *FlightLoader) result() Result {
	return Result{
		Loaded:    f.progress.Loaded(),
		Total:     f.progress.Total(),
		Processed: f.progress.Processed(),
		Indices:   append([]string(nil), f.created...),
	}
}

// ImportFile streams one file through transform, routing and batching.
// Buffers live for the duration of the file.
func (f *FlightLoader) ImportFile(ctx context.Context, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		f.logger.Infof("Skipping %s (not a regular file)", filePath)
		return nil
	}

	f.logger.Infof("Importing %s", filePath)
	fileYear, fileMonth := YearMonthFromFilename(filePath)

	rc, err := OpenDataReader(filePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	rows, err := NewRowReader(rc)
	if err != nil {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	f.checkHeaders(rows.Headers())

	pending := make(buffers)
	indexedDocs := 0
	processedRows := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := rows.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filePath, err)
		}

		processedRows++
		f.progress.AddProcessed(1)
		f.metrics.RowsProcessed.Inc()

		doc := f.transformer.Transform(row)
		indexName, ok := f.router.IndexName(doc.Timestamp, fileYear, fileMonth)
		if !ok {
			f.metrics.RowsSkipped.Inc()
			f.logger.Warnf("Skipping document - missing or invalid timestamp. Raw value: %q. Row %d: Origin=%s, Dest=%s, Airline=%s",
				rawTimestamp(row), processedRows, row["Origin"], row["Dest"], row["Reporting_Airline"])
			continue
		}

		if err := f.EnsureIndex(ctx, indexName); err != nil {
			return err
		}

		buffer := pending.get(indexName)
		if err := buffer.add(indexName, doc); err != nil {
			return fmt.Errorf("encoding document for %s: %w", indexName, err)
		}

		if buffer.count >= f.batchSize {
			flushed, err := f.flush(ctx, indexName, buffer)
			if err != nil {
				return err
			}
			indexedDocs += flushed
		}
	}

	for _, indexName := range pending.pending() {
		flushed, err := f.flush(ctx, indexName, pending[indexName])
		if err != nil {
			return err
		}
		indexedDocs += flushed
	}

	f.logger.Infof("Finished %s (rows processed: %d, documents indexed: %d)", filePath, processedRows, indexedDocs)
	return nil
}

func (f *FlightLoader) checkHeaders(headers []string) {
	for _, h := range headers {
		if h == "@timestamp" || h == "FlightDate" {
			return
		}
	}
	shown := headers
	if len(shown) > 10 {
		shown = shown[:10]
	}
	f.logger.Warnf("CSV headers don't include '@timestamp' or 'FlightDate'. Available headers: %s", strings.Join(shown, ", "))
}

func rawTimestamp(row RawRow) string {
	if ts := row["@timestamp"]; ts != "" {
		return ts
	}
	return row["FlightDate"]
}

// flush sends a buffer to the bulk endpoint and empties it. Any item-level
// error fails the whole batch.
func (f *FlightLoader) flush(ctx context.Context, indexName string, buffer *indexBuffer) (int, error) {
	if f.client == nil {
		buffer.reset()
		return 0, nil
	}

	started := time.Now()
	res, err := f.client.Bulk(ctx, buffer.payload(), f.refresh)
	if err == nil && res.Errors {
		err = f.bulkItemErrors(indexName, res)
	}
	f.metrics.ObserveRequest("bulk", started, err)
	if err != nil {
		return 0, err
	}

	docCount := len(buffer.lines) / 2
	buffer.reset()

	f.progress.AddLoaded(int64(docCount))
	f.metrics.DocumentsLoaded.WithLabelValues(indexName).Add(float64(docCount))
	f.progress.Print()

	return docCount, nil
}

func (f *FlightLoader) bulkItemErrors(indexName string, res *esclient.BulkResponse) error {
	failed := res.FailedItems()
	for i, item := range failed {
		if i >= maxLoggedItemErrors {
			break
		}
		f.logger.Errorf("Bulk item error for %s: %v", indexName, item.Error)
	}
	return fmt.Errorf("%w for %s (%d failed item(s)); aborting", ErrBulkIndexing, indexName, len(failed))
}

// SampleDocument transforms the first data row of filePath without sending
// anything. It returns nil when the file has no data rows.
func (f *FlightLoader) SampleDocument(filePath string) (*Document, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.logger.Infof("Skipping %s (not a regular file)", filePath)
		return nil, nil
	}

	f.logger.Infof("Sampling first document from %s", filePath)

	rc, err := OpenDataReader(filePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rows, err := NewRowReader(rc)
	if err != nil {
		return nil, err
	}

	row, err := rows.Next()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	doc := f.transformer.Transform(row)
	return &doc, nil
}
