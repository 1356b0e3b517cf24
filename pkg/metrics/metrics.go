// Package metrics provides the Prometheus registry reference for the
// registry client. Metrics are defined in their respective packages
// (client, pacing) via promauto to maintain modularity; this package
// documents the full set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - afip_requests_total{service, status} (Counter): Requests by service and HTTP status
//   - afip_request_duration_seconds{service} (Histogram): Request duration by service
//   - afip_errors_total{class} (Counter): Call errors by class (auth, client, server, network, empty)
//   - afip_token_refreshes_total (Counter): Token refresh attempts
//
// Retry Metrics (pkg/client):
//   - afip_retries_total{service} (Counter): Retry attempts by service
//   - afip_retry_backoff_seconds{service} (Histogram): Backoff durations by service
//   - afip_retry_exhausted_total{service} (Counter): Chunks that exhausted all attempts
//
// Pacing Metrics (pkg/pacing):
//   - afip_consecutive_calls (Gauge): Calls since the last forced pause
//   - afip_pauses_total (Counter): Forced pauses taken
//   - afip_paused_seconds_total (Counter): Wall-clock time spent paused
//
// Example Prometheus Queries:
//
//   # Retry rate
//   rate(afip_retries_total[5m])
//
//   # Exhaustion ratio
//   rate(afip_retry_exhausted_total[5m]) / rate(afip_requests_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(afip_request_duration_seconds_bucket[5m]))
