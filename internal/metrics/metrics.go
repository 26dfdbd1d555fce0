// Package metrics defines the Prometheus metrics exported by the catalog.
//
// Metrics:
//   - catalog_batch_operations_total{op, result} (Counter): batched write operations by outcome
//   - catalog_batch_submissions_total{result} (Counter): store batch calls by outcome
//   - catalog_batch_duration_seconds (Histogram): end-to-end duration of a batch request
//   - catalog_conditional_updates_total{result} (Counter): ETag-guarded updates by outcome
//   - catalog_page_records_skipped_total (Counter): stored records dropped from list pages as invalid
//   - catalog_http_requests_total{route, method, status} (Counter): HTTP requests served
//   - catalog_http_request_duration_seconds{route, method} (Histogram): HTTP request latency
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_batch_operations_total",
			Help: "Batched write operations by kind and result",
		},
		[]string{"op", "result"},
	)

	BatchSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_batch_submissions_total",
			Help: "Partition batches submitted to the store by result (committed, rejected, unknown)",
		},
		[]string{"result"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_batch_duration_seconds",
			Help:    "Duration of a batch request across all partitions",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConditionalUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_conditional_updates_total",
			Help: "ETag-guarded updates by result",
		},
		[]string{"result"},
	)

	PageRecordsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_page_records_skipped_total",
			Help: "Stored records skipped while building list pages because they failed validation",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
