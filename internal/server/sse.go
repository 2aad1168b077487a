package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alfredjeanlab/cafestream/internal/auth"
	"github.com/alfredjeanlab/cafestream/internal/dispatch"
	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/events"
	"github.com/alfredjeanlab/cafestream/internal/metrics"
	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/store"
)

var orderTopics = []string{events.TopicOrderCreated, events.TopicOrderStatusChanged}

// sseWriter writes dispatcher frames in the text/event-stream format and
// flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func newSSEWriter(w http.ResponseWriter, timeout time.Duration) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w), timeout: timeout}
}

func (s *sseWriter) WriteFrame(f dispatch.Frame) error {
	var buf bytes.Buffer
	if f.ID != "" {
		fmt.Fprintf(&buf, "id:%s\n", f.ID)
	}
	fmt.Fprintf(&buf, "event:%s\n", f.Type)
	for _, line := range bytes.Split(f.Data, []byte("\n")) {
		fmt.Fprintf(&buf, "data:%s\n", line)
	}
	buf.WriteByte('\n')
	return s.send(buf.Bytes())
}

func (s *sseWriter) WriteKeepalive() error {
	return s.send([]byte(":keepalive\n\n"))
}

func (s *sseWriter) writeRetry(d time.Duration) error {
	return s.send([]byte(fmt.Sprintf("retry:%d\n\n", d.Milliseconds())))
}

func (s *sseWriter) send(b []byte) error {
	if s.timeout > 0 {
		err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleUserOrderStream handles GET /v1/stream/users/{userID}/orders.
func (s *CafeServer) handleUserOrderStream(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.serveStream(w, r, auth.Scope{Kind: auth.ScopeUserOrders, UserID: userID}, orderTopics, dispatch.ByUser(userID))
}

// handleOrderStream handles GET /v1/stream/orders/{orderID}.
func (s *CafeServer) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	s.serveStream(w, r, auth.Scope{Kind: auth.ScopeOrder, OrderID: orderID},
		[]string{events.TopicOrderStatusChanged}, dispatch.ByOrder(orderID))
}

// handleAllOrdersStream handles GET /v1/stream/orders.
func (s *CafeServer) handleAllOrdersStream(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, auth.Scope{Kind: auth.ScopeAllOrders}, orderTopics, dispatch.AllEntries())
}

// handleLowStockStream handles GET /v1/stream/alerts/low-stock.
func (s *CafeServer) handleLowStockStream(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, auth.Scope{Kind: auth.ScopeLowStock},
		[]string{events.TopicLowStockAlert}, dispatch.AllEntries())
}

// serveStream authorizes the scope, seeds a cursor, and runs a dispatcher on
// the response until the client disconnects. Nothing is written to the
// response before authorization and seeding have succeeded.
func (s *CafeServer) serveStream(w http.ResponseWriter, r *http.Request, scope auth.Scope, topics []string, filter dispatch.Filter) {
	ctx := r.Context()
	id := auth.IdentityFrom(ctx)

	if err := auth.Authorize(ctx, id, scope, s.orders); err != nil {
		metrics.StreamRejected.WithLabelValues(rejectReason(err)).Inc()
		s.logger.Info("stream rejected", "scope", scope.String(), "user", userOf(id), "err", err)
		writeServiceError(w, r, s.logger, err)
		return
	}

	var (
		sub *dispatch.Subscription
		err error
	)
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		from, perr := eventlog.ParseCursor(last)
		if perr != nil {
			s.logger.Debug("ignoring malformed Last-Event-ID", "value", last, "err", perr)
		}
		sub, err = dispatch.Resume(ctx, s.log, topics, filter, from)
	} else {
		sub, err = dispatch.Seed(ctx, s.log, topics, filter)
	}
	if err != nil {
		metrics.StreamRejected.WithLabelValues("unavailable").Inc()
		s.logger.Warn("seeding stream cursor", "scope", scope.String(), "err", err)
		writeError(w, http.StatusServiceUnavailable, "event log unavailable")
		return
	}

	sw := newSSEWriter(w, s.cfg.WriteTimeout)
	defer sw.rc.SetWriteDeadline(time.Time{}) //nolint:errcheck

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	if err := sw.writeRetry(s.cfg.Retry); err != nil {
		return
	}

	d := dispatch.New(s.log, sub, sw, s.cfg.Stream, s.logger.With("scope", scope.String()))
	if !s.track(d) {
		return
	}
	defer s.untrack(d)
	_ = d.Run(ctx)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	}
	return "error"
}

func userOf(id *model.Identity) string {
	if id == nil {
		return ""
	}
	return id.UserID
}
