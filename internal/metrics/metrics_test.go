package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportCounters(t *testing.T) {
	m := NewImport("flights")

	m.RowsProcessed.Add(3)
	m.RowsSkipped.Inc()
	m.DocumentsLoaded.WithLabelValues("flights-2024").Add(2)
	m.ObserveRequest("bulk", time.Now(), nil)
	m.ObserveRequest("bulk", time.Now(), errors.New("boom"))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RowsSkipped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsLoaded.WithLabelValues("flights-2024")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("bulk", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("bulk", "failure")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["flights_rows_processed_total"])
	assert.True(t, names["flights_request_duration_seconds"])
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewImport("flights")
	b := NewImport("flights")
	a.RowsProcessed.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RowsProcessed))
}
