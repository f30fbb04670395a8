package contracts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elastic/search-workshop/importer/internal/esclient"
	"github.com/elastic/search-workshop/importer/internal/logging"
	"github.com/elastic/search-workshop/importer/internal/metrics"
)

const (
	IndexName                = "contracts"
	PipelineName             = "pdf_pipeline"
	DefaultInferenceEndpoint = ".elser-2-elastic"
)

// ErrInferenceEndpoint means no usable ELSER endpoint is deployed.
var ErrInferenceEndpoint = errors.New("ELSER inference endpoint not found")

// Client is the part of the Elasticsearch API the contract loader needs.
type Client interface {
	ClusterHealth(ctx context.Context) (*esclient.Health, error)
	InferenceEndpoints(ctx context.Context) ([]esclient.InferenceEndpoint, error)
	PutPipeline(ctx context.Context, name string, pipeline map[string]any) error
	IndexExists(ctx context.Context, name string) (bool, error)
	DeleteIndex(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, mapping map[string]any) error
	IndexDocument(ctx context.Context, index string, document map[string]any, pipeline string) error
	CountDocuments(ctx context.Context, index string) (int64, error)
}

type Options struct {
	InferenceEndpoint string
	Logger            *zap.SugaredLogger
	Metrics           *metrics.Import
	ProgressOut       io.Writer
	// VerifyDelay is how long to wait before counting indexed documents.
	VerifyDelay time.Duration
}

// ContractLoader sets up the PDF ingest pipeline and index and feeds PDF
// files through it one document at a time.
type ContractLoader struct {
	client            Client
	mapping           map[string]any
	inferenceEndpoint string
	logger            *zap.SugaredLogger
	metrics           *metrics.Import
	out               io.Writer
	verifyDelay       time.Duration
	indexedCount      int
}

func NewContractLoader(client Client, mapping map[string]any, opts Options) *ContractLoader {
	if opts.InferenceEndpoint == "" {
		opts.InferenceEndpoint = DefaultInferenceEndpoint
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewImport("contracts")
	}
	if opts.ProgressOut == nil {
		opts.ProgressOut = io.Discard
	}
	return &ContractLoader{
		client:            client,
		mapping:           mapping,
		inferenceEndpoint: opts.InferenceEndpoint,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		out:               opts.ProgressOut,
		verifyDelay:       opts.VerifyDelay,
	}
}

func (l *ContractLoader) InferenceEndpoint() string { return l.inferenceEndpoint }

func (l *ContractLoader) CheckElasticsearch(ctx context.Context) error {
	health, err := l.client.ClusterHealth(ctx)
	if err != nil {
		return err
	}

	clusterName := health.ClusterName
	if clusterName == "" {
		clusterName = "unknown"
	}
	status := health.Status
	if status == "" {
		status = "unknown"
	}

	l.logger.Infof("Cluster: %s", clusterName)
	l.logger.Infof("Status: %s", status)
	return nil
}

// CheckInferenceEndpoint confirms the configured endpoint exists, falling
// back to any ELSER endpoint (preferring ELSER v2). If listing fails the
// check is skipped and the configured endpoint is kept.
func (l *ContractLoader) CheckInferenceEndpoint(ctx context.Context) error {
	endpoints, err := l.client.InferenceEndpoints(ctx)
	if err != nil {
		l.logger.Warnf("Error checking inference endpoint: %v", err)
		l.logger.Warnf("Continuing anyway...")
		return nil
	}

	var elser, preferred []string
	for _, ep := range endpoints {
		if ep.InferenceID == l.inferenceEndpoint {
			l.logger.Infof("Found inference endpoint: %s", l.inferenceEndpoint)
			return nil
		}
		if strings.Contains(strings.ToLower(ep.InferenceID), "elser") {
			elser = append(elser, ep.InferenceID)
			if strings.Contains(ep.InferenceID, ".elser-2-") || strings.Contains(ep.InferenceID, ".elser_model_2") {
				preferred = append(preferred, ep.InferenceID)
			}
		}
	}

	switch {
	case len(preferred) > 0:
		l.inferenceEndpoint = preferred[0]
	case len(elser) > 0:
		l.inferenceEndpoint = elser[0]
	default:
		l.logger.Errorf("Inference endpoint '%s' not found", l.inferenceEndpoint)
		l.logger.Infof("Available endpoints:")
		for _, ep := range endpoints {
			l.logger.Infof("  - %s", ep.InferenceID)
		}
		return fmt.Errorf("%w: %s", ErrInferenceEndpoint, l.inferenceEndpoint)
	}

	l.logger.Infof("Specified endpoint not found, using auto-detected: %s", l.inferenceEndpoint)
	return nil
}

// PipelineDefinition extracts text from the base64 "data" field and copies it
// into semantic_content, which handles chunking and embeddings.
func PipelineDefinition() map[string]any {
	return map[string]any{
		"description": "Extract text from PDF - semantic_text field handles chunking and embeddings",
		"processors": []map[string]any{
			{"attachment": map[string]any{
				"field":         "data",
				"target_field":  "attachment",
				"remove_binary": true,
			}},
			{"set": map[string]any{
				"field":              "semantic_content",
				"copy_from":          "attachment.content",
				"ignore_empty_value": true,
			}},
			{"remove": map[string]any{
				"field":          "data",
				"ignore_missing": true,
			}},
			{"set": map[string]any{
				"field": "upload_date",
				"value": "{{ _ingest.timestamp }}",
			}},
		},
	}
}

func (l *ContractLoader) CreatePipeline(ctx context.Context) error {
	if err := l.client.PutPipeline(ctx, PipelineName, PipelineDefinition()); err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}
	return nil
}

// CreateIndex drops and recreates the contracts index with the detected
// inference endpoint patched into the semantic_content mapping.
func (l *ContractLoader) CreateIndex(ctx context.Context) error {
	exists, err := l.client.IndexExists(ctx, IndexName)
	if err != nil {
		return fmt.Errorf("checking index existence: %w", err)
	}

	if exists {
		l.logger.Infof("Deleting existing index '%s' before import", IndexName)
		deleted, err := l.client.DeleteIndex(ctx, IndexName)
		switch {
		case err != nil:
			l.logger.Warnf("Failed to delete index '%s': %v", IndexName, err)
		case deleted:
			l.logger.Infof("Index '%s' deleted", IndexName)
		}
	}

	mapping, err := withInferenceID(l.mapping, l.inferenceEndpoint)
	if err != nil {
		return fmt.Errorf("preparing mapping: %w", err)
	}

	l.logger.Infof("Creating index: %s", IndexName)
	if err := l.client.CreateIndex(ctx, IndexName, mapping); err != nil {
		return fmt.Errorf("creating index: %w", err)
	}
	l.metrics.IndicesCreated.Inc()
	l.logger.Infof("Successfully created index: %s", IndexName)
	return nil
}

// withInferenceID returns a deep copy of mapping with
// mappings.properties.semantic_content.inference_id set.
func withInferenceID(mapping map[string]any, inferenceID string) (map[string]any, error) {
	copied, err := deepCopyMap(mapping)
	if err != nil {
		return nil, err
	}
	if mappings, ok := copied["mappings"].(map[string]any); ok {
		if properties, ok := mappings["properties"].(map[string]any); ok {
			if semanticContent, ok := properties["semantic_content"].(map[string]any); ok {
				semanticContent["inference_id"] = inferenceID
			}
		}
	}
	return copied, nil
}

func deepCopyMap(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ExtractAirlineName guesses the airline from keywords in a file name.
func ExtractAirlineName(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.Contains(lower, "american"):
		return "American Airlines"
	case strings.Contains(lower, "southwest"):
		return "Southwest"
	case strings.Contains(lower, "united"):
		return "United"
	case strings.Contains(lower, "delta"), strings.Contains(lower, "dl-"):
		return "Delta"
	}
	return "Unknown"
}

// PDFFiles lists *.pdf files in path (non-recursive) or returns path itself
// when it names a PDF.
func (l *ContractLoader) PDFFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		l.logger.Warnf("Path '%s' does not exist", path)
		return nil, nil
	}

	if !info.IsDir() {
		if strings.HasSuffix(strings.ToLower(path), ".pdf") {
			return []string{path}, nil
		}
		l.logger.Warnf("'%s' is not a PDF file", path)
		return nil, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var pdfFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {
			pdfFiles = append(pdfFiles, filepath.Join(path, entry.Name()))
		}
	}
	if len(pdfFiles) == 0 {
		l.logger.Warnf("No PDF files found in directory '%s'", path)
	}
	return pdfFiles, nil
}

func (l *ContractLoader) IndexPDF(ctx context.Context, pdfPath string) error {
	filename := filepath.Base(pdfPath)

	pdfData, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}

	document := map[string]any{
		"data":     base64.StdEncoding.EncodeToString(pdfData),
		"filename": filename,
		"airline":  ExtractAirlineName(filename),
	}

	started := time.Now()
	err = l.client.IndexDocument(ctx, IndexName, document, PipelineName)
	l.metrics.ObserveRequest("index_document", started, err)
	if err != nil {
		return fmt.Errorf("processing %s: %w", filename, err)
	}

	l.indexedCount++
	l.metrics.DocumentsLoaded.WithLabelValues(IndexName).Inc()
	return nil
}

// IngestPDFs indexes every PDF under pdfPath. Individual failures are logged
// and counted; the returned error reports how many files failed.
func (l *ContractLoader) IngestPDFs(ctx context.Context, pdfPath string) error {
	pdfFiles, err := l.PDFFiles(pdfPath)
	if err != nil {
		return fmt.Errorf("listing PDF files: %w", err)
	}
	if len(pdfFiles) == 0 {
		return errors.New("no PDF files to process")
	}

	total := len(pdfFiles)
	l.logger.Infof("Processing %d PDF file(s)...", total)

	failed := 0
	for i, pdfFile := range pdfFiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.IndexPDF(ctx, pdfFile); err != nil {
			l.logger.Errorf("Error %v", err)
			failed++
		}

		processed := i + 1
		fmt.Fprintf(l.out, "\r%d of %d files processed (%.1f%%)", processed, total, float64(processed)/float64(total)*100)
	}
	fmt.Fprintln(l.out)

	l.logger.Infof("Indexed %d of %d file(s)", total-failed, total)
	if failed > 0 {
		l.logger.Warnf("Failed: %d", failed)
		return fmt.Errorf("PDF ingestion had errors: %d of %d file(s) failed", failed, total)
	}
	return nil
}

// VerifyIngestion logs the document count of the contracts index.
func (l *ContractLoader) VerifyIngestion(ctx context.Context) {
	if l.verifyDelay > 0 {
		select {
		case <-time.After(l.verifyDelay):
		case <-ctx.Done():
			return
		}
	}

	count, err := l.client.CountDocuments(ctx, IndexName)
	if err != nil {
		l.logger.Warnf("Could not verify document count: %v", err)
		return
	}

	l.logger.Infof("Index '%s' contains %d document(s)", IndexName, count)
	if count == 0 && l.indexedCount > 0 {
		l.logger.Warnf("Expected %d document(s) but count shows 0. Documents may have failed during pipeline processing.", l.indexedCount)
	}
}
