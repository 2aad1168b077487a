package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
)

// handleTopicEntries handles GET /v1/topics/{topic}/entries?from=&to=&limit=.
func (s *CafeServer) handleTopicEntries(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	q := r.URL.Query()

	var from, to eventlog.EntryID
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = eventlog.ParseEntryID(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = eventlog.ParseEntryID(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	entries, err := s.log.ReadRange(r.Context(), topic, from, to, limit)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic, "entries": entries})
}

// parseLimit reads a page size in 1..DefaultRangeLimit. Empty means the
// server default.
func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > eventlog.DefaultRangeLimit {
		return 0, fmt.Errorf("limit %d out of range", n)
	}
	return n, nil
}

// handleTopicLatest handles GET /v1/topics/{topic}/latest.
func (s *CafeServer) handleTopicLatest(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	e, err := s.log.ReadLatest(r.Context(), topic)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "topic is empty")
		return
	}
	writeJSON(w, http.StatusOK, e)
}
