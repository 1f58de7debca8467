// Package metrics collects and exposes Prometheus metrics for the
// collaboration server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the stores and the HTTP layer.
type Recorder interface {
	RecordTokenIssued()
	RecordTokenAuthenticated()
	RecordTokensSwept(count int)
	RecordLockRequest(granted bool)
	RecordLockRelease()
	RecordFileWrite(size int)
	RecordPoll(modified bool)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

var _ Recorder = (*Collector)(nil)

// Collector records metrics into Prometheus collectors.
type Collector struct {
	tokensIssued        prometheus.Counter
	tokensAuthenticated prometheus.Counter
	tokensSwept         prometheus.Counter
	lockRequests        *prometheus.CounterVec
	lockReleases        prometheus.Counter
	fileWrites          prometheus.Counter
	fileWriteBytes      prometheus.Histogram
	polls               *prometheus.CounterVec
	httpStatus          *prometheus.CounterVec
	requestLatency      prometheus.Histogram
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_tokens_issued_total",
			Help: "Authentication tokens issued.",
		}),
		tokensAuthenticated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_tokens_authenticated_total",
			Help: "Tokens bound to an identity.",
		}),
		tokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_tokens_swept_total",
			Help: "Expired tokens removed from the token store.",
		}),
		lockRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_lock_requests_total",
			Help: "Lock requests by outcome.",
		}, []string{"outcome"}),
		lockReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_lock_releases_total",
			Help: "Successful lock releases.",
		}),
		fileWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collab_file_writes_total",
			Help: "Successful file writes.",
		}),
		fileWriteBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collab_file_write_bytes",
			Help:    "Size of written file contents.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_polls_total",
			Help: "File polls by result.",
		}, []string{"modified"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collab_http_request_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.tokensAuthenticated,
		c.tokensSwept,
		c.lockRequests,
		c.lockReleases,
		c.fileWrites,
		c.fileWriteBytes,
		c.polls,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

func (c *Collector) RecordTokenAuthenticated() {
	c.tokensAuthenticated.Inc()
}

func (c *Collector) RecordTokensSwept(count int) {
	c.tokensSwept.Add(float64(count))
}

// RecordLockRequest counts a lock request as granted or busy.
func (c *Collector) RecordLockRequest(granted bool) {
	outcome := "busy"
	if granted {
		outcome = "granted"
	}
	c.lockRequests.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordLockRelease() {
	c.lockReleases.Inc()
}

func (c *Collector) RecordFileWrite(size int) {
	c.fileWrites.Inc()
	c.fileWriteBytes.Observe(float64(size))
}

func (c *Collector) RecordPoll(modified bool) {
	c.polls.WithLabelValues(strconv.FormatBool(modified)).Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) RecordTokenIssued()                 {}
func (Nop) RecordTokenAuthenticated()          {}
func (Nop) RecordTokensSwept(int)              {}
func (Nop) RecordLockRequest(bool)             {}
func (Nop) RecordLockRelease()                 {}
func (Nop) RecordFileWrite(int)                {}
func (Nop) RecordPoll(bool)                    {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
