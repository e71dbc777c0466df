package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbpp",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total system HTTP control surface requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cbpp",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "System HTTP control surface request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	jobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbpp",
			Subsystem: "job",
			Name:      "completed_total",
			Help:      "Jobs that finished running, by outcome.",
		},
		[]string{"outcome"},
	)
	jobRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cbpp",
			Subsystem: "job",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock time a job body spent running, including time parked in Yield.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, jobsCompleted, jobRunDuration)
	})
}

// RecordHTTPRequest records one completed admin HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordJobRun records one job body's run. outcome is "ok", "retry", or
// "fatal".
func RecordJobRun(outcome string, duration time.Duration) {
	RegisterMetrics()
	jobsCompleted.WithLabelValues(outcome).Inc()
	jobRunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
