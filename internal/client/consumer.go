package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/events"
	"github.com/alfredjeanlab/cafestream/internal/notify"
)

// Status is the connection state of a StreamConsumer.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

const (
	DefaultInitialRetry = time.Second
	DefaultMaxRetry     = 30 * time.Second
)

// ErrAlreadyConnected is returned by Connect on a consumer that was started.
var ErrAlreadyConnected = errors.New("stream consumer already connected")

var errStreamEnded = errors.New("stream ended")

// Event is one decoded stream frame. Type is the payload's type field,
// falling back to the frame's event name. Fields holds the payload's string
// values.
type Event struct {
	Type   string
	ID     string
	Fields map[string]string
	Data   json.RawMessage
}

// Handler receives decoded events. Handlers run on the consumer goroutine.
type Handler func(ctx context.Context, ev Event)

// Option configures a StreamConsumer.
type Option func(*StreamConsumer)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *StreamConsumer) { c.token = token }
}

// WithHTTPClient sets the client used for stream requests. It must not have
// a total request timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *StreamConsumer) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *StreamConsumer) { c.logger = l }
}

// WithNotifier sets where order transitions and low-stock alerts are sent.
func WithNotifier(n notify.Notifier) Option {
	return func(c *StreamConsumer) { c.notifier = n }
}

// WithHandler registers h for events of type typ. Several handlers may be
// registered per type; they run in registration order.
func WithHandler(typ string, h Handler) Option {
	return func(c *StreamConsumer) { c.handlers[typ] = append(c.handlers[typ], h) }
}

// WithRetry sets the initial and maximum reconnect delays.
func WithRetry(initial, ceiling time.Duration) Option {
	return func(c *StreamConsumer) {
		if initial > 0 {
			c.initialRetry = initial
		}
		if ceiling > 0 {
			c.maxRetry = ceiling
		}
	}
}

// WithResume sends the last seen event ID on reconnect so the server
// replays what was missed. Without it every reconnect starts at the tail.
func WithResume(resume bool) Option {
	return func(c *StreamConsumer) { c.resume = resume }
}

// StreamConsumer keeps one subscription to a stream endpoint open,
// reconnecting with exponential backoff until Disconnect is called or the
// server rejects the credentials.
type StreamConsumer struct {
	url          string
	token        string
	httpClient   *http.Client
	logger       *slog.Logger
	notifier     notify.Notifier
	handlers     map[string][]Handler
	initialRetry time.Duration
	maxRetry     time.Duration
	resume       bool

	mu          sync.Mutex
	status      Status
	started     bool
	cancel      context.CancelFunc
	done        chan struct{}
	err         error
	lastEventID string
}

// NewStreamConsumer creates a consumer for the stream at url.
func NewStreamConsumer(url string, opts ...Option) *StreamConsumer {
	c := &StreamConsumer{
		url:          url,
		httpClient:   &http.Client{},
		logger:       slog.Default(),
		handlers:     make(map[string][]Handler),
		initialRetry: DefaultInitialRetry,
		maxRetry:     DefaultMaxRetry,
		status:       StatusClosed,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.maxRetry < c.initialRetry {
		c.maxRetry = c.initialRetry
	}
	return c
}

// Connect starts the consumer loop and returns immediately. The loop ends
// when ctx is cancelled, Disconnect is called, or the server answers 401 or
// 403.
func (c *StreamConsumer) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyConnected
	}
	c.started = true
	c.status = StatusConnecting
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// Disconnect stops the consumer and waits for its loop to exit. It is safe
// to call more than once, and before Connect.
func (c *StreamConsumer) Disconnect() {
	c.mu.Lock()
	if !c.started {
		c.started = true
		c.status = StatusClosed
		close(c.done)
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-c.done
}

// Status returns the current connection state.
func (c *StreamConsumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Done is closed once the consumer has stopped.
func (c *StreamConsumer) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the consumer, or nil if it was stopped
// by its context or Disconnect.
func (c *StreamConsumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *StreamConsumer) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *StreamConsumer) run(ctx context.Context) {
	defer close(c.done)
	defer c.setStatus(StatusClosed)

	base := c.initialRetry
	attempt := 0
	for {
		c.setStatus(StatusConnecting)
		opened, err := c.stream(ctx, &base)
		if ctx.Err() != nil {
			return
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			c.logger.Error("stream rejected", "url", c.url, "status", apiErr.StatusCode, "err", apiErr.Message)
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		if opened {
			attempt = 0
		}
		delay := backoff(base, c.maxRetry, attempt)
		attempt++
		c.logger.Warn("stream disconnected", "url", c.url, "err", err, "retry_in", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// backoff doubles base per attempt, capped at ceiling.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// stream runs one connection until it ends. opened reports whether the
// server accepted it. A retry field from the server replaces *base.
func (c *StreamConsumer) stream(ctx context.Context, base *time.Duration) (opened bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Lock()
	if c.resume && c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, decodeAPIError(resp.StatusCode, body)
	}

	// Each connection is a fresh subscription with its own dedup memory.
	tracker := NewStatusTracker()
	c.mu.Lock()
	c.status = StatusOpen
	c.mu.Unlock()
	c.logger.Info("stream open", "url", c.url)

	sc := newSSEScanner(resp.Body)
	for {
		ev, err := sc.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true, errStreamEnded
			}
			return true, fmt.Errorf("reading stream: %w", err)
		}
		if ev.Retry > 0 {
			*base = ev.Retry
		}
		if ev.ID != "" {
			c.mu.Lock()
			c.lastEventID = ev.ID
			c.mu.Unlock()
		}
		if ev.Data == nil {
			continue
		}
		c.handle(ctx, ev, tracker)
	}
}

func (c *StreamConsumer) handle(ctx context.Context, raw sseEvent, tracker *StatusTracker) {
	var payload map[string]any
	if err := json.Unmarshal(raw.Data, &payload); err != nil {
		c.logger.Warn("dropping malformed frame", "event", raw.Type, "err", err)
		return
	}
	ev := Event{ID: raw.ID, Data: json.RawMessage(raw.Data), Fields: make(map[string]string, len(payload))}
	for k, v := range payload {
		if s, ok := v.(string); ok {
			ev.Fields[k] = s
		}
	}
	ev.Type = ev.Fields["type"]
	if ev.Type == "" {
		ev.Type = raw.Type
	}

	switch ev.Type {
	case events.FrameOrderCreated:
		if id := ev.Fields[events.FieldOrderID]; id != "" {
			tracker.Observe(id, ev.Fields[events.FieldStatus])
		}
	case events.FrameOrderUpdated:
		id, status := ev.Fields[events.FieldOrderID], ev.Fields[events.FieldStatus]
		if id == "" || status == "" {
			break
		}
		if prev, changed := tracker.Observe(id, status); changed {
			c.notify(ctx, notify.Notification{
				Kind:           notify.KindOrderUpdate,
				OrderID:        id,
				Status:         status,
				PreviousStatus: prev,
				Timestamp:      parseTimestamp(ev.Fields[events.FieldTimestamp]),
			})
		}
	case events.FrameLowStockAlert:
		alert, err := events.ParseLowStockAlert(ev.Fields)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "event", ev.Type, "err", err)
			return
		}
		c.notify(ctx, notify.Notification{
			Kind:          notify.KindLowStock,
			ProductID:     alert.ProductID,
			ProductName:   alert.ProductName,
			StockQuantity: alert.StockQuantity,
			Threshold:     alert.Threshold,
			Timestamp:     alert.Timestamp,
		})
	}

	for _, h := range c.handlers[ev.Type] {
		h(ctx, ev)
	}
}

func (c *StreamConsumer) notify(ctx context.Context, n notify.Notification) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Send(ctx, n); err != nil {
		c.logger.Warn("failed to send notification", "provider", c.notifier.Name(), "err", err)
	}
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
