package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alfredjeanlab/cafestream/internal/auth"
	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/metrics"
	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/orders"
	"github.com/alfredjeanlab/cafestream/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered. Every
// route except health and metrics requires a resolvable token.
func (s *CafeServer) NewHTTPHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/v1/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/v1/stream", func(r chi.Router) {
			r.Get("/users/{userID}/orders", s.handleUserOrderStream)
			r.Get("/orders/{orderID}", s.handleOrderStream)
			r.Get("/orders", s.handleAllOrdersStream)
			r.Get("/alerts/low-stock", s.handleLowStockStream)
		})

		r.Route("/v1/orders", func(r chi.Router) {
			r.Post("/", s.handleCreateOrder)
			r.Get("/", s.handleListOrders)
			r.Get("/{id}", s.handleGetOrder)
			r.With(requirePrivileged).Post("/{id}/status", s.handleUpdateStatus)
		})

		r.Route("/v1/products", func(r chi.Router) {
			r.Get("/", s.handleListProducts)
			r.With(requirePrivileged).Post("/", s.handleAddProduct)
			r.With(requirePrivileged).Post("/{id}/restock", s.handleRestock)
		})

		r.Route("/v1/topics/{topic}", func(r chi.Router) {
			r.Use(requirePrivileged)
			r.Get("/entries", s.handleTopicEntries)
			r.Get("/latest", s.handleTopicLatest)
		})
	})
	return r
}

// handleHealth handles GET /v1/health.
func (s *CafeServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps domain errors to status codes. Anything unrecognised
// is logged and reported as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, orders.ErrUnknownProduct):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, eventlog.ErrInvalidTopic):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrOutOfStock),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
