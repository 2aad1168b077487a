// Package metrics holds the Prometheus collectors for event publishing,
// stream dispatch and archiving.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cafe_events_published_total",
		Help: "Events appended to the log by topic and outcome.",
	}, []string{"topic", "outcome"})
	StreamConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cafe_stream_connections",
		Help: "Number of open event stream connections.",
	})
	StreamFramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cafe_stream_frames_sent_total",
		Help: "Frames written to stream connections by frame type.",
	}, []string{"type"})
	StreamEntriesFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cafe_stream_entries_filtered_total",
		Help: "Log entries read by a dispatcher but not delivered to its connection.",
	})
	StreamPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cafe_stream_poll_errors_total",
		Help: "Failed log reads by stream dispatchers.",
	})
	StreamPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cafe_stream_poll_duration_seconds",
		Help:    "Duration of dispatcher log reads, including blocking waits.",
		Buckets: prometheus.DefBuckets,
	})
	StreamRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cafe_stream_rejected_total",
		Help: "Stream connection attempts rejected at connect time by reason.",
	}, []string{"reason"})
	ArchivedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cafe_archived_entries_total",
		Help: "Log entries exported by the archiver by topic.",
	}, []string{"topic"})
	ArchiveRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cafe_archive_runs_total",
		Help: "Archive runs by outcome.",
	}, []string{"outcome"})
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
