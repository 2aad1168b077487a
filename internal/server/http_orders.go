package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alfredjeanlab/cafestream/internal/auth"
	"github.com/alfredjeanlab/cafestream/internal/model"
)

type createOrderRequest struct {
	// UserID lets staff place an order on a customer's behalf. Customers may
	// omit it or pass their own ID.
	UserID string            `json:"user_id"`
	Items  []model.OrderItem `json:"items"`
}

// handleCreateOrder handles POST /v1/orders.
func (s *CafeServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := auth.IdentityFrom(r.Context())
	if req.UserID == "" {
		req.UserID = id.UserID
	}
	if req.UserID != id.UserID && !id.Privileged() {
		writeError(w, http.StatusForbidden, "cannot order for another user")
		return
	}
	// Prices come from the menu, never from the request.
	for i := range req.Items {
		req.Items[i].UnitPriceCents = 0
	}

	order, err := s.orders.PlaceOrder(r.Context(), req.UserID, req.Items)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// handleListOrders handles GET /v1/orders. Customers only ever see their own.
func (s *CafeServer) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.OrderFilter{UserID: q.Get("user_id")}
	if v := q.Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			filter.Status = append(filter.Status, model.OrderStatus(strings.ToUpper(strings.TrimSpace(st))))
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if id := auth.IdentityFrom(r.Context()); !id.Privileged() {
		filter.UserID = id.UserID
	}

	list, total, err := s.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	if list == nil {
		list = []*model.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list, "total": total})
}

// handleGetOrder handles GET /v1/orders/{id}.
func (s *CafeServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if err := auth.Authorize(r.Context(), auth.IdentityFrom(r.Context()),
		auth.Scope{Kind: auth.ScopeOrder, OrderID: orderID}, s.orders); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	order, err := s.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// handleUpdateStatus handles POST /v1/orders/{id}/status.
func (s *CafeServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status := model.OrderStatus(strings.ToUpper(req.Status))
	order, err := s.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// handleListProducts handles GET /v1/products.
func (s *CafeServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.orders.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	if products == nil {
		products = []*model.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// handleAddProduct handles POST /v1/products.
func (s *CafeServer) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var p model.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := s.orders.AddProduct(r.Context(), &p)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// handleRestock handles POST /v1/products/{id}/restock.
func (s *CafeServer) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := s.orders.Restock(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
