package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/auth"
	"github.com/alfredjeanlab/cafestream/internal/dispatch"
	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/events"
	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/orders"
	"github.com/alfredjeanlab/cafestream/internal/store"
)

const serviceToken = "svc-token"

type testEnv struct {
	srv    *CafeServer
	ts     *httptest.Server
	store  *store.Memory
	log    *eventlog.Memory
	tokens map[string]string
}

// newTestEnv starts a server over in-memory backends with products p1 (stock
// 6, threshold 5) and p2, and sessions for customers u1 and u2 and one barista.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	log := eventlog.NewMemory(0)
	svc := orders.New(st, events.NewLogPublisher(log, nil), nil)

	for _, p := range []*model.Product{
		{ID: "p1", Name: "Oat milk", PriceCents: 60, StockQuantity: 6, LowStockThreshold: 5},
		{ID: "p2", Name: "Espresso", PriceCents: 300, StockQuantity: 50, LowStockThreshold: 5},
	} {
		if err := st.UpsertProduct(ctx, p); err != nil {
			t.Fatalf("UpsertProduct: %v", err)
		}
	}

	env := &testEnv{store: st, log: log, tokens: map[string]string{"service": serviceToken}}
	for name, role := range map[string]model.Role{"u1": model.RoleCustomer, "u2": model.RoleCustomer, "barista": model.RoleStaff} {
		tok, _, err := auth.IssueSession(ctx, st, name, role, time.Hour)
		if err != nil {
			t.Fatalf("IssueSession: %v", err)
		}
		env.tokens[name] = tok
	}

	resolver := auth.ChainResolver{&auth.StaticResolver{Token: serviceToken}, &auth.StoreResolver{Store: st}}
	cfg := Config{
		Stream: dispatch.Config{PollInterval: 10 * time.Millisecond, KeepaliveInterval: time.Hour},
		Retry:  1500 * time.Millisecond,
	}
	env.srv = NewCafeServer(svc, log, resolver, cfg, nil)
	env.ts = httptest.NewServer(env.srv.NewHTTPHandler())
	t.Cleanup(func() {
		env.srv.CloseStreams()
		env.ts.Close()
	})
	return env
}

// do sends a JSON request as user and decodes the JSON response into out.
func (e *testEnv) do(t *testing.T, method, path, user string, body any, out any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[user])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

// sseEventParsed represents a single parsed SSE event from the stream.
type sseEventParsed struct {
	ID    string
	Event string
	Data  string
}

func (e sseEventParsed) fields(t *testing.T) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal([]byte(e.Data), &m); err != nil {
		t.Fatalf("event data %q: %v", e.Data, err)
	}
	return m
}

// sseReader reads SSE events from an HTTP response body and sends them to the
// returned channel, which is closed when the body ends.
func sseReader(resp *http.Response) <-chan sseEventParsed {
	ch := make(chan sseEventParsed, 32)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		var current sseEventParsed
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "id:"):
				current.ID = strings.TrimPrefix(line, "id:")
			case strings.HasPrefix(line, "event:"):
				current.Event = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				current.Data = strings.TrimPrefix(line, "data:")
			case line == "":
				if current.Event != "" || current.Data != "" {
					ch <- current
					current = sseEventParsed{}
				}
			}
		}
	}()
	return ch
}

// openStream connects to path as user and returns the response without
// reading it. The connection is closed when the test ends.
func (e *testEnv) openStream(t *testing.T, path, user string, header http.Header) *http.Response {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, "GET", e.ts.URL+path, nil)
	if err != nil {
		cancel()
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[user])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("connect %s: %v", path, err)
	}
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return resp
}

// startSSEClient opens a stream and waits for its connected frame, so that
// anything published afterwards is guaranteed to be delivered.
func (e *testEnv) startSSEClient(t *testing.T, path, user string) <-chan sseEventParsed {
	t.Helper()
	resp := e.openStream(t, path, user, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s as %s: status %d", path, user, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	ch := sseReader(resp)
	waitForEvent(t, ch, "connected", 2*time.Second)
	return ch
}

// waitForEvent reads until an event of the given type arrives.
func waitForEvent(t *testing.T, ch <-chan sseEventParsed, eventType string, timeout time.Duration) sseEventParsed {
	t.Helper()
	timer := time.After(timeout)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("SSE channel closed before receiving event %q", eventType)
			}
			if evt.Event == eventType {
				return evt
			}
		case <-timer:
			t.Fatalf("timed out waiting for SSE event %q", eventType)
		}
	}
}

// expectNoEvent fails if any event arrives within d.
func expectNoEvent(t *testing.T, ch <-chan sseEventParsed, d time.Duration) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %q: %s", evt.Event, evt.Data)
		}
	case <-time.After(d):
	}
}
