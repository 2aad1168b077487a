package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/model"
)

// HTTPClient implements Client using the cafestream HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client targeting baseURL (e.g.
// "http://localhost:8080"). When token is non-empty it is sent as a bearer
// token on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// --- Orders ---

func (c *HTTPClient) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*model.Order, error) {
	var order model.Order
	if err := c.doJSON(ctx, http.MethodPost, "/v1/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *HTTPClient) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	if err := c.doJSON(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(id), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *HTTPClient) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	params := url.Values{}
	if req != nil {
		if req.UserID != "" {
			params.Set("user_id", req.UserID)
		}
		if len(req.Status) > 0 {
			params.Set("status", strings.Join(req.Status, ","))
		}
		if req.Limit > 0 {
			params.Set("limit", strconv.Itoa(req.Limit))
		}
		if req.Offset > 0 {
			params.Set("offset", strconv.Itoa(req.Offset))
		}
	}
	path := "/v1/orders"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp ListOrdersResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) UpdateStatus(ctx context.Context, id string, status model.OrderStatus) (*model.Order, error) {
	var order model.Order
	body := map[string]string{"status": string(status)}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/orders/"+url.PathEscape(id)+"/status", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// --- Products ---

func (c *HTTPClient) ListProducts(ctx context.Context) ([]*model.Product, error) {
	var products []*model.Product
	if err := c.doJSON(ctx, http.MethodGet, "/v1/products", nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *HTTPClient) AddProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	var out model.Product
	if err := c.doJSON(ctx, http.MethodPost, "/v1/products", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Restock(ctx context.Context, productID string, quantity int) (*model.Product, error) {
	var out model.Product
	body := map[string]int{"quantity": quantity}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/products/"+url.PathEscape(productID)+"/restock", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- History ---

func (c *HTTPClient) TopicEntries(ctx context.Context, topic string, req *TopicEntriesRequest) ([]eventlog.Entry, error) {
	params := url.Values{}
	if req != nil {
		if req.From > 0 {
			params.Set("from", req.From.String())
		}
		if req.To > 0 {
			params.Set("to", req.To.String())
		}
		if req.Limit > 0 {
			params.Set("limit", strconv.Itoa(req.Limit))
		}
	}
	path := "/v1/topics/" + url.PathEscape(topic) + "/entries"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp struct {
		Entries []eventlog.Entry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// TopicLatest returns the newest entry of topic, or nil when it is empty.
func (c *HTTPClient) TopicLatest(ctx context.Context, topic string) (*eventlog.Entry, error) {
	var e eventlog.Entry
	err := c.doJSON(ctx, http.MethodGet, "/v1/topics/"+url.PathEscape(topic)+"/latest", nil, &e)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}
