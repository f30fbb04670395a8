package esclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// Calls used by the contracts importer.

func (c *Client) PutPipeline(ctx context.Context, name string, pipeline map[string]any) error {
	req := esapi.IngestPutPipelineRequest{
		PipelineID: name,
		Body:       esutil.NewJSONReader(pipeline),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return c.connErr(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("pipeline creation failed: %s", string(body))
	}

	c.logger.Infof("Pipeline '%s' created/updated", name)
	return nil
}

// IndexDocument indexes a single document through pipeline and waits for the
// refresh so the document is searchable on return.
func (c *Client) IndexDocument(ctx context.Context, index string, document map[string]any, pipeline string) error {
	req := esapi.IndexRequest{
		Index:    index,
		Body:     esutil.NewJSONReader(document),
		Pipeline: pipeline,
		Refresh:  "wait_for",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return c.connErr(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("document indexing failed: %s", string(body))
	}

	var result map[string]any
	if err := json.NewDecoder(res.Body).Decode(&result); err == nil {
		if errVal, ok := result["error"]; ok {
			return fmt.Errorf("document indexing failed: %v", errVal)
		}
	}
	return nil
}

// InferenceEndpoint is one entry of GET _inference/_all.
type InferenceEndpoint struct {
	InferenceID string `json:"inference_id"`
	TaskType    string `json:"task_type"`
	Service     string `json:"service"`
}

// InferenceEndpoints lists deployed inference endpoints. The typed API does
// not cover this call, so it goes through Perform, which still applies auth
// and custom headers.
func (c *Client) InferenceEndpoints(ctx context.Context) ([]InferenceEndpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/_inference/_all", nil)
	if err != nil {
		return nil, err
	}

	res, err := c.es.Perform(req)
	if err != nil {
		return nil, c.connErr(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get inference endpoints: HTTP %d", res.StatusCode)
	}

	var result struct {
		Endpoints []InferenceEndpoint `json:"endpoints"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode inference endpoints response: %w", err)
	}
	return result.Endpoints, nil
}

func (c *Client) CountDocuments(ctx context.Context, index string) (int64, error) {
	res, err := c.es.Count(c.es.Count.WithIndex(index), c.es.Count.WithContext(ctx))
	if err != nil {
		return 0, c.connErr(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("failed to count documents: HTTP %d", res.StatusCode)
	}

	var result struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return 0, err
	}
	return result.Count, nil
}
