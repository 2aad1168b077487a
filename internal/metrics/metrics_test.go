package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistered(t *testing.T) {
	// CounterVec metrics are not gathered until at least one label set exists.
	EventsPublished.WithLabelValues("order-created", "ok")
	StreamFramesSent.WithLabelValues("order_updated")
	StreamRejected.WithLabelValues("forbidden")
	ArchivedEntries.WithLabelValues("order-created")
	ArchiveRuns.WithLabelValues("ok")

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expected := map[string]bool{
		"cafe_events_published_total":        false,
		"cafe_stream_connections":            false,
		"cafe_stream_frames_sent_total":      false,
		"cafe_stream_entries_filtered_total": false,
		"cafe_stream_poll_errors_total":      false,
		"cafe_stream_poll_duration_seconds":  false,
		"cafe_stream_rejected_total":         false,
		"cafe_archived_entries_total":        false,
		"cafe_archive_runs_total":            false,
	}
	for _, mf := range mfs {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestHandler(t *testing.T) {
	StreamConnections.Set(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cafe_stream_connections 3") {
		t.Fatalf("gauge missing from exposition:\n%s", rec.Body.String())
	}
}
