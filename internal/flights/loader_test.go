package flights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/search-workshop/importer/internal/esclient"
	"github.com/elastic/search-workshop/importer/internal/metrics"
)

type bulkCall struct {
	lines   []string
	refresh string
}

// fakeClient records index admin and bulk calls in order.
type fakeClient struct {
	existing  map[string]bool
	events    []string
	bulks     []bulkCall
	createErr error
	// respond builds the bulk response; nil means success.
	respond func(lines []string) *esclient.BulkResponse
}

func newFakeClient() *fakeClient {
	return &fakeClient{existing: map[string]bool{}}
}

func (c *fakeClient) IndexExists(_ context.Context, name string) (bool, error) {
	return c.existing[name], nil
}

func (c *fakeClient) CreateIndex(_ context.Context, name string, _ map[string]any) error {
	if c.createErr != nil {
		return c.createErr
	}
	c.events = append(c.events, "create:"+name)
	c.existing[name] = true
	return nil
}

func (c *fakeClient) DeleteIndex(_ context.Context, name string) (bool, error) {
	c.events = append(c.events, "delete:"+name)
	existed := c.existing[name]
	delete(c.existing, name)
	return existed, nil
}

func (c *fakeClient) Bulk(_ context.Context, payload string, refresh string) (*esclient.BulkResponse, error) {
	lines := strings.Split(strings.TrimSuffix(payload, "\n"), "\n")
	c.bulks = append(c.bulks, bulkCall{lines: lines, refresh: refresh})

	var action bulkAction
	if err := json.Unmarshal([]byte(lines[0]), &action); err != nil {
		return nil, err
	}
	c.events = append(c.events, "bulk:"+action.Index.Index)

	if c.respond != nil {
		return c.respond(lines), nil
	}
	return &esclient.BulkResponse{}, nil
}

func (c *fakeClient) creates() []string {
	var names []string
	for _, e := range c.events {
		if strings.HasPrefix(e, "create:") {
			names = append(names, strings.TrimPrefix(e, "create:"))
		}
	}
	return names
}

func newTestLoader(client Client, batchSize int) (*FlightLoader, *bytes.Buffer) {
	var out bytes.Buffer
	loader := NewFlightLoader(client, Options{
		IndexPrefix: "flights",
		Mapping:     map[string]any{"mappings": map[string]any{}},
		BatchSize:   batchSize,
		Refresh:     "false",
		Metrics:     metrics.NewImport("flights"),
		ProgressOut: &out,
	})
	return loader, &out
}

func docsIn(t *testing.T, call bulkCall) []Document {
	t.Helper()
	require.Equal(t, 0, len(call.lines)%2, "lines come in action/document pairs")
	var docs []Document
	for i := 1; i < len(call.lines); i += 2 {
		var doc Document
		require.NoError(t, json.Unmarshal([]byte(call.lines[i]), &doc))
		docs = append(docs, doc)
	}
	return docs
}

func TestImportRoutesByTimestampYear(t *testing.T) {
	path := writePlain(t, t.TempDir(), "flights.csv",
		"FlightDate,Reporting_Airline,Flight_Number_Reporting_Airline,Origin,Dest\n"+
			"2022-05-01,AA,1,JFK,LAX\n"+
			"2023-06-01,DL,2,ATL,SEA\n"+
			"2022-07-01,UA,3,SFO,ORD\n")

	client := newFakeClient()
	loader, _ := newTestLoader(client, DefaultBatchSize)

	result, err := loader.ImportFiles(context.Background(), []string{path})
	require.NoError(t, err)

	assert.Equal(t, []string{"flights-2022", "flights-2023"}, client.creates())
	assert.Equal(t, []string{"flights-2022", "flights-2023"}, result.Indices)
	require.Len(t, client.bulks, 2)

	first := docsIn(t, client.bulks[0])
	require.Len(t, first, 2)
	assert.Equal(t, "AA", first[0].ReportingAirline)
	assert.Equal(t, "UA", first[1].ReportingAirline)
	assert.Equal(t, `{"index":{"_index":"flights-2022"}}`, client.bulks[0].lines[0])

	second := docsIn(t, client.bulks[1])
	require.Len(t, second, 1)
	assert.Equal(t, "DL", second[0].ReportingAirline)
	assert.Equal(t, `{"index":{"_index":"flights-2023"}}`, client.bulks[1].lines[0])
	assert.Equal(t, "false", client.bulks[1].refresh)

	assert.EqualValues(t, 3, result.Loaded)
	assert.EqualValues(t, 3, result.Total)
	assert.EqualValues(t, 3, result.Processed)
}

func TestImportFilenameHintWins(t *testing.T) {
	dir := t.TempDir()
	monthly := writePlain(t, dir, "flights-2024-03.csv", "FlightDate,Origin\n2019-01-01,JFK\n")
	yearly := writeGzip(t, dir, "flights-2021.csv.gz", "FlightDate,Origin\n2019-01-01,JFK\n")

	client := newFakeClient()
	loader, _ := newTestLoader(client, 10)

	_, err := loader.ImportFiles(context.Background(), []string{monthly, yearly})
	require.NoError(t, err)
	assert.Equal(t, []string{"flights-2024-03", "flights-2021"}, client.creates())
}

func TestImportSkipsRowsWithoutYear(t *testing.T) {
	path := writePlain(t, t.TempDir(), "flights.csv",
		"FlightDate,Origin,Dest\n"+
			",JFK,LAX\n"+
			"not-a-date,ATL,SEA\n"+
			"2024-01-02,SFO,ORD\n")

	client := newFakeClient()
	m := metrics.NewImport("flights")
	var out bytes.Buffer
	loader := NewFlightLoader(client, Options{BatchSize: 10, Metrics: m, ProgressOut: &out})

	result, err := loader.ImportFiles(context.Background(), []string{path})
	require.NoError(t, err)

	assert.EqualValues(t, 3, result.Processed, "skipped rows still count as processed")
	assert.EqualValues(t, 1, result.Loaded)
	require.Len(t, client.bulks, 1)
	docs := docsIn(t, client.bulks[0])
	require.Len(t, docs, 1)
	assert.Equal(t, "SFO", docs[0].Origin)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsSkipped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsProcessed))
}

func TestImportNoRoutableRows(t *testing.T) {
	path := writePlain(t, t.TempDir(), "flights.csv", "Origin,Dest\nJFK,LAX\nATL,SEA\n")

	client := newFakeClient()
	loader, _ := newTestLoader(client, 10)

	result, err := loader.ImportFiles(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Empty(t, client.events, "no index is created and nothing is sent")
	assert.EqualValues(t, 2, result.Processed)
	assert.Zero(t, result.Loaded)
}

func TestFlushAtBatchThreshold(t *testing.T) {
	var csv strings.Builder
	csv.WriteString("FlightDate,Flight_Number_Reporting_Airline\n")
	for i := 1; i <= 501; i++ {
		fmt.Fprintf(&csv, "2024-01-01,%d\n", i)
	}
	path := writePlain(t, t.TempDir(), "flights.csv", csv.String())

	client := newFakeClient()
	loader, _ := newTestLoader(client, 500)

	result, err := loader.ImportFiles(context.Background(), []string{path})
	require.NoError(t, err)

	require.Len(t, client.bulks, 2)
	assert.Len(t, client.bulks[0].lines, 1000)
	assert.Len(t, client.bulks[1].lines, 2)
	assert.Equal(t, "501", docsIn(t, client.bulks[1])[0].FlightNumber)
	assert.EqualValues(t, 501, result.Loaded)
}

func TestExactBatchFlushesOnce(t *testing.T) {
	var csv strings.Builder
	csv.WriteString("FlightDate\n")
	for i := 0; i < 4; i++ {
		csv.WriteString("2024-01-01\n")
	}
	path := writePlain(t, t.TempDir(), "flights.csv", csv.String())

	client := newFakeClient()
	loader, _ := newTestLoader(client, 4)

	_, err := loader.ImportFiles(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, client.bulks, 1, "no empty end-of-file flush")
}

func TestIndexEnsuredOncePerRun(t *testing.T) {
	dir := t.TempDir()
	a := writePlain(t, dir, "a.csv", "FlightDate\n2024-01-01\n2024-02-01\n")
	b := writePlain(t, dir, "b.csv", "FlightDate\n2024-03-01\n")

	client := newFakeClient()
	client.existing["flights-2024"] = true
	loader, _ := newTestLoader(client, 1)

	_, err := loader.ImportFiles(context.Background(), []string{a, b})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"delete:flights-2024",
		"create:flights-2024",
		"bulk:flights-2024",
		"bulk:flights-2024",
		"bulk:flights-2024",
	}, client.events)
}

func TestCreateFailureAborts(t *testing.T) {
	path := writePlain(t, t.TempDir(), "flights.csv", "FlightDate\n2024-01-01\n")

	client := newFakeClient()
	client.createErr = fmt.Errorf("%w: boom", esclient.ErrIndexAdmin)
	loader, _ := newTestLoader(client, 10)

	_, err := loader.ImportFiles(context.Background(), []string{path})
	require.Error(t, err)
	assert.ErrorIs(t, err, esclient.ErrIndexAdmin)
	assert.Empty(t, client.bulks)
}

func TestBulkItemErrorsAbortRun(t *testing.T) {
	dir := t.TempDir()
	first := writePlain(t, dir, "flights-2023.csv", "FlightDate\n2023-01-01\n2023-01-02\n")
	second := writePlain(t, dir, "flights-2024.csv", "FlightDate\n2024-01-01\n")

	client := newFakeClient()
	client.respond = func(lines []string) *esclient.BulkResponse {
		return &esclient.BulkResponse{
			Errors: true,
			Items: []map[string]esclient.BulkItem{
				{"index": {Index: "flights-2023", Status: 201}},
				{"index": {Index: "flights-2023", Status: 400, Error: map[string]any{"type": "mapper_parsing_exception"}}},
			},
		}
	}
	loader, _ := newTestLoader(client, 10)

	result, err := loader.ImportFiles(context.Background(), []string{first, second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBulkIndexing))
	assert.Contains(t, err.Error(), "1 failed item")
	assert.Zero(t, result.Loaded)
	assert.Len(t, client.bulks, 1, "second file is never read")
}

func TestLoadedCountsHalfTheLines(t *testing.T) {
	path := writePlain(t, t.TempDir(), "flights-2024.csv", "FlightDate\n2024-01-01\n2024-01-02\n2024-01-03\n")

	client := newFakeClient()
	loader, out := newTestLoader(client, 2)

	result, err := loader.ImportFiles(context.Background(), []string{path})
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.Loaded)
	assert.Contains(t, out.String(), "\r2 of 3 records loaded (66.7%)")
	assert.Contains(t, out.String(), "\r3 of 3 records loaded (100.0%)")
}

func TestImportSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()
	loader, _ := newTestLoader(client, 10)

	result, err := loader.ImportFiles(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Empty(t, client.events)
}

func TestImportMissingFile(t *testing.T) {
	loader, _ := newTestLoader(newFakeClient(), 10)
	_, err := loader.ImportFiles(context.Background(), []string{filepath.Join(t.TempDir(), "missing.csv")})
	assert.Error(t, err)
}

func TestImportCancelled(t *testing.T) {
	path := writePlain(t, t.TempDir(), "flights.csv", "FlightDate\n2024-01-01\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader, _ := newTestLoader(newFakeClient(), 10)
	_, err := loader.ImportFiles(ctx, []string{path})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSampleDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeZip(t, dir, "flights-2024.zip", "data.csv", "FlightDate,Origin,DepDelay\n2024-01-01,JFK,3.6\n2024-01-02,LAX,1\n")

	loader := NewFlightLoader(nil, Options{})
	doc, err := loader.SampleDocument(path)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "JFK", doc.Origin)
	require.NotNil(t, doc.DepDelayMin)
	assert.Equal(t, 4, *doc.DepDelayMin)

	empty := writePlain(t, dir, "empty.csv", "FlightDate\n")
	doc, err = loader.SampleDocument(empty)
	require.NoError(t, err)
	assert.Nil(t, doc)
}
