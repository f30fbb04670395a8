package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Import holds the collectors for one import run. Each run owns its own
// registry so tests and the two binaries never share global state.
type Import struct {
	registry *prometheus.Registry

	RowsProcessed   prometheus.Counter
	RowsSkipped     prometheus.Counter
	DocumentsLoaded *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	IndicesCreated  prometheus.Counter
}

// NewImport registers collectors under namespace ("flights", "contracts").
func NewImport(namespace string) *Import {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Import{
		registry: registry,
		RowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Input rows read, including rows that were skipped.",
		}),
		RowsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Input rows dropped because no destination index could be derived.",
		}),
		DocumentsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_loaded_total",
			Help:      "Documents acknowledged by the cluster.",
		}, []string{"index"}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Indexing requests by operation and outcome.",
		}, []string{"operation", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of indexing requests.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
		IndicesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indices_created_total",
			Help:      "Indices (re)created during the run.",
		}),
	}
}

func (m *Import) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest records one request outcome and its latency.
func (m *Import) ObserveRequest(operation string, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.Requests.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled or the returned stop
// function is called.
func (m *Import) Serve(ctx context.Context, addr string, logger *zap.SugaredLogger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warnf("Metrics server stopped: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return func() { close(done) }
}
