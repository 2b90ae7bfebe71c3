// Package metrics defines the Prometheus collectors exposed on /metrics.
//
// Collectors are registered with the default registry via promauto so any
// package can record observations without plumbing a registry around.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hometuner_http_requests_total",
		Help: "HTTP requests by method, route pattern and status code",
	}, []string{"method", "route", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hometuner_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	streamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hometuner_streams_active",
		Help: "Streams currently being relayed to clients",
	})

	streamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hometuner_stream_bytes_total",
		Help: "Total MPEG-TS bytes relayed to clients",
	})

	streamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hometuner_stream_requests_total",
		Help: "Stream gateway requests by outcome",
	}, []string{"outcome"}) // outcome=ok|bad_url|busy|no_streams|resolver_error

	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hometuner_resolve_duration_seconds",
		Help:    "Time spent resolving a source URL to a playable stream",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"outcome"}) // outcome=success|failure

	catalogRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hometuner_catalog_refresh_total",
		Help: "Catalog parse/write cycles by outcome",
	}, []string{"outcome"}) // outcome=success|parse_error|write_error

	catalogChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hometuner_catalog_channels",
		Help: "Channels in the active catalog",
	})

	catalogLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hometuner_catalog_last_success_timestamp_seconds",
		Help: "Unix time of the last successful catalog refresh",
	})

	ssdpAnnouncementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hometuner_ssdp_announcements_total",
		Help: "SSDP alive announcements sent",
	})

	nativeDiscoverRepliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hometuner_native_discover_replies_total",
		Help: "Discovery replies sent on the native UDP protocol",
	})

	nativeControlRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hometuner_native_control_requests_total",
		Help: "Get/set requests handled on the native TCP control channel",
	})
)

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// StreamOpened marks a relay as active and returns a func that ends it.
func StreamOpened() func() {
	streamsActive.Inc()
	return streamsActive.Dec
}

// AddStreamBytes accumulates relayed payload bytes.
func AddStreamBytes(n int) { streamBytesTotal.Add(float64(n)) }

// IncStreamRequest records the outcome of a stream gateway request.
func IncStreamRequest(outcome string) { streamRequestsTotal.WithLabelValues(outcome).Inc() }

// ObserveResolve records how long URL resolution took.
func ObserveResolve(outcome string, elapsed time.Duration) {
	resolveDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordCatalogRefresh records one catalog rebuild attempt. On success the
// channel count and last-success timestamp are updated as well.
func RecordCatalogRefresh(outcome string, channels int) {
	catalogRefreshTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		catalogChannels.Set(float64(channels))
		catalogLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// IncSSDPAnnouncement counts one SSDP alive broadcast.
func IncSSDPAnnouncement() { ssdpAnnouncementsTotal.Inc() }

// IncDiscoverReply counts one native-protocol discovery reply.
func IncDiscoverReply() { nativeDiscoverRepliesTotal.Inc() }

// IncControlRequest counts one native-protocol control request.
func IncControlRequest() { nativeControlRequestsTotal.Inc() }
