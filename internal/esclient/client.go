package esclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"go.uber.org/zap"

	"github.com/elastic/search-workshop/importer/internal/config"
)

var (
	// ErrConnection means the cluster could not be reached at all.
	ErrConnection = errors.New("cannot connect to Elasticsearch")
	// ErrIndexAdmin wraps index create/delete failures other than the
	// benign already-exists and not-found cases.
	ErrIndexAdmin = errors.New("index admin request failed")
)

// Client is a thin wrapper over the official client exposing only the calls
// the importers make.
type Client struct {
	es       *elasticsearch.Client
	endpoint string
	logger   *zap.SugaredLogger
}

// New builds a client from cfg. Authentication prefers the API key over
// basic auth. ssl_verify=false disables certificate checks, ca_file adds a
// trusted root.
func New(cfg config.Config, logger *zap.SugaredLogger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	esCfg := elasticsearch.Config{
		Addresses: []string{cfg.Endpoint},
	}

	if cfg.APIKey != "" {
		esCfg.APIKey = cfg.APIKey
	} else if cfg.User != "" && cfg.Password != "" {
		esCfg.Username = cfg.User
		esCfg.Password = cfg.Password
	}

	if len(cfg.Headers) > 0 {
		esCfg.Header = make(http.Header)
		for k, v := range cfg.Headers {
			esCfg.Header.Set(k, v)
		}
	}

	if !cfg.SSLVerify {
		esCfg.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	} else if cfg.CAFile != "" {
		cert, err := os.ReadFile(config.ResolvePath(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("%w: cannot read ca_file: %v", config.ErrConfig, err)
		}
		esCfg.CACert = cert
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &Client{
		es:       es,
		endpoint: cfg.Endpoint,
		logger:   logger,
	}, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) connErr(err error) error {
	return fmt.Errorf("%w at %s: %v. Please check your endpoint configuration and network connectivity", ErrConnection, c.endpoint, err)
}

func (c *Client) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, c.connErr(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("error checking index %s: %s", name, res.String())
	}
	return true, nil
}

// CreateIndex creates name with the given mapping body. An index that already
// exists is logged and treated as success.
func (c *Client) CreateIndex(ctx context.Context, name string, mapping map[string]any) error {
	res, err := c.es.Indices.Create(name,
		c.es.Indices.Create.WithBody(esutil.NewJSONReader(mapping)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return c.connErr(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if alreadyExists(res.StatusCode, body) {
			c.logger.Infof("Index '%s' already exists (conflict)", name)
			return nil
		}
		return fmt.Errorf("%w: creating %s: %s", ErrIndexAdmin, name, string(body))
	}

	c.logger.Infof("Index '%s' created", name)
	return nil
}

func alreadyExists(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	return status == http.StatusBadRequest && strings.Contains(string(body), "resource_already_exists_exception")
}

// DeleteIndex reports whether the index existed.
func (c *Client) DeleteIndex(ctx context.Context, name string) (bool, error) {
	res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return false, c.connErr(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == http.StatusNotFound {
			return false, nil
		}
		body, _ := io.ReadAll(res.Body)
		return false, fmt.Errorf("%w: deleting %s: %s", ErrIndexAdmin, name, string(body))
	}
	return true, nil
}

// BulkItem is the per-action result of a bulk request.
type BulkItem struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Error  map[string]any `json:"error,omitempty"`
}

// BulkResponse is the decoded body of a _bulk call. Each item maps the
// action name ("index") to its result.
type BulkResponse struct {
	Took   int                   `json:"took"`
	Errors bool                  `json:"errors"`
	Items  []map[string]BulkItem `json:"items"`
}

// FailedItems returns the items that carry an error, in response order.
func (r *BulkResponse) FailedItems() []BulkItem {
	var failed []BulkItem
	for _, item := range r.Items {
		for _, result := range item {
			if result.Error != nil {
				failed = append(failed, result)
			}
		}
	}
	return failed
}

// Bulk sends an NDJSON payload. refresh is passed through as the refresh
// policy ("true", "false" or "wait_for").
func (c *Client) Bulk(ctx context.Context, payload string, refresh string) (*BulkResponse, error) {
	opts := []func(*esapi.BulkRequest){c.es.Bulk.WithContext(ctx)}
	if refresh != "" {
		opts = append(opts, c.es.Bulk.WithRefresh(refresh))
	}

	res, err := c.es.Bulk(strings.NewReader(payload), opts...)
	if err != nil {
		return nil, fmt.Errorf("bulk request failed: %w", c.connErr(err))
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("bulk request failed: %s", string(body))
	}

	var result BulkResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	return &result, nil
}

// Health is the subset of _cluster/health the tools report.
type Health struct {
	ClusterName   string `json:"cluster_name"`
	Status        string `json:"status"`
	ActiveShards  int    `json:"active_shards"`
	NumberOfNodes int    `json:"number_of_nodes"`
}

func (c *Client) ClusterHealth(ctx context.Context) (*Health, error) {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return nil, c.connErr(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("%w: cluster health request failed: %s", ErrConnection, string(body))
	}

	var health Health
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode cluster health response: %w", err)
	}
	return &health, nil
}

func (c *Client) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	res, err := c.es.Cat.Indices(
		c.es.Cat.Indices.WithIndex(pattern),
		c.es.Cat.Indices.WithFormat("json"),
		c.es.Cat.Indices.WithContext(ctx),
	)
	if err != nil {
		return nil, c.connErr(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("failed to list indices: %s", string(body))
	}

	var indices []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return nil, fmt.Errorf("failed to decode indices response: %w", err)
	}

	var result []string
	for _, idx := range indices {
		if idx.Index != "" {
			result = append(result, idx.Index)
		}
	}
	return result, nil
}

// DeleteIndicesByPattern deletes every index matching pattern and returns the
// names that were removed. It stops at the first failure.
func (c *Client) DeleteIndicesByPattern(ctx context.Context, pattern string) ([]string, error) {
	indices, err := c.ListIndices(ctx, pattern)
	if err != nil {
		return nil, err
	}

	deleted := []string{}
	for _, name := range indices {
		ok, err := c.DeleteIndex(ctx, name)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	return deleted, nil
}

// ReportStatus logs cluster health for the --status flag of both importers.
func (c *Client) ReportStatus(ctx context.Context) error {
	health, err := c.ClusterHealth(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve cluster status: %w", err)
	}

	c.logger.Infof("Cluster status: %s", health.Status)
	c.logger.Infof("Active shards: %d, node count: %d", health.ActiveShards, health.NumberOfNodes)
	return nil
}
