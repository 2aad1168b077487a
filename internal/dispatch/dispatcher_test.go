package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/events"
)

// recordingWriter captures frames and fails the test if two writes overlap.
type recordingWriter struct {
	mu         sync.Mutex
	frames     []Frame
	keepalives int
	inWrite    atomic.Bool
	overlap    atomic.Bool
	failAfter  int // fail every write once this many frames were written; 0 = never
	writeDelay time.Duration
}

func (w *recordingWriter) enter() {
	if !w.inWrite.CompareAndSwap(false, true) {
		w.overlap.Store(true)
	}
	if w.writeDelay > 0 {
		time.Sleep(w.writeDelay)
	}
}

func (w *recordingWriter) leave() { w.inWrite.Store(false) }

func (w *recordingWriter) WriteFrame(f Frame) error {
	w.enter()
	defer w.leave()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter > 0 && len(w.frames) >= w.failAfter {
		return errors.New("broken pipe")
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *recordingWriter) WriteKeepalive() error {
	w.enter()
	defer w.leave()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter > 0 && len(w.frames) >= w.failAfter {
		return errors.New("broken pipe")
	}
	w.keepalives++
	return nil
}

// payloads decodes every non-connected frame.
func (w *recordingWriter) payloads(t *testing.T) []map[string]string {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []map[string]string
	for _, f := range w.frames {
		if f.Type == events.FrameConnected {
			continue
		}
		var m map[string]string
		if err := json.Unmarshal(f.Data, &m); err != nil {
			t.Fatalf("frame %q is not JSON: %v", f.Data, err)
		}
		out = append(out, m)
	}
	return out
}

func (w *recordingWriter) frameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func (w *recordingWriter) keepaliveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.keepalives
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

var fastConfig = Config{PollInterval: 10 * time.Millisecond, KeepaliveInterval: time.Hour, BatchSize: 100}

// startDispatcher seeds a subscription and runs a dispatcher until the test ends.
func startDispatcher(t *testing.T, log eventlog.Log, topics []string, filter Filter, cfg Config) (*Dispatcher, *recordingWriter) {
	t.Helper()
	sub, err := Seed(context.Background(), log, topics, filter)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	w := &recordingWriter{}
	d := New(log, sub, w, cfg, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Run(context.Background()); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	t.Cleanup(func() {
		d.Cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after Cancel")
		}
	})
	waitFor(t, time.Second, func() bool { return d.State() == Streaming })
	return d, w
}

func appendStatus(t *testing.T, log eventlog.Log, orderID, userID, status string) eventlog.EntryID {
	t.Helper()
	id, err := log.Append(context.Background(), events.TopicOrderStatusChanged, map[string]string{
		"orderId": orderID, "userId": userID, "status": status,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return id
}

func TestDispatcher_ConnectedFrameFirst(t *testing.T) {
	log := eventlog.NewMemory(0)
	d, w := startDispatcher(t, log, []string{events.TopicOrderStatusChanged}, AllEntries(), fastConfig)

	waitFor(t, time.Second, func() bool { return w.frameCount() >= 1 })
	w.mu.Lock()
	first := w.frames[0]
	w.mu.Unlock()
	if first.Type != "connected" {
		t.Fatalf("first frame type = %q, want connected", first.Type)
	}
	var m map[string]any
	if err := json.Unmarshal(first.Data, &m); err != nil {
		t.Fatalf("connected frame: %v", err)
	}
	if m["connectionId"] != d.ID() {
		t.Fatalf("connectionId = %v, want %s", m["connectionId"], d.ID())
	}
}

func TestDispatcher_DeliversInAppendOrder(t *testing.T) {
	log := eventlog.NewMemory(0)
	_, w := startDispatcher(t, log, []string{events.TopicOrderStatusChanged}, AllEntries(), fastConfig)

	statuses := []string{"PENDING", "PREPARING", "READY", "COMPLETED"}
	for _, s := range statuses {
		appendStatus(t, log, "o1", "u1", s)
	}

	waitFor(t, 2*time.Second, func() bool { return len(w.payloads(t)) == len(statuses) })
	for i, p := range w.payloads(t) {
		if p["status"] != statuses[i] {
			t.Fatalf("frame %d status = %q, want %q", i, p["status"], statuses[i])
		}
		if p["type"] != "order_updated" {
			t.Fatalf("frame %d type = %q", i, p["type"])
		}
	}
}

func TestDispatcher_EndToEndUserScopes(t *testing.T) {
	log := eventlog.NewMemory(0)
	topics := []string{events.TopicOrderStatusChanged}
	_, w1 := startDispatcher(t, log, topics, ByUser("u1"), fastConfig)
	d2, w2 := startDispatcher(t, log, topics, ByUser("u2"), fastConfig)

	appendStatus(t, log, "o1", "u1", "PENDING")
	last := appendStatus(t, log, "o1", "u1", "PREPARING")

	waitFor(t, 2*time.Second, func() bool { return len(w1.payloads(t)) == 2 })
	got := w1.payloads(t)
	if got[0]["status"] != "PENDING" || got[1]["status"] != "PREPARING" {
		t.Fatalf("u1 received %+v", got)
	}
	for _, p := range got {
		if p["type"] != "order_updated" || p["orderId"] != "o1" {
			t.Fatalf("u1 frame %+v", p)
		}
	}

	// u2 must have read past both entries without delivering either.
	waitFor(t, 2*time.Second, func() bool { return d2.Cursor()[events.TopicOrderStatusChanged] == last })
	if n := len(w2.payloads(t)); n != 0 {
		t.Fatalf("u2 received %d frames, want 0", n)
	}
}

func TestDispatcher_FilterNeverLeaksOtherUsers(t *testing.T) {
	log := eventlog.NewMemory(0)
	topics := []string{events.TopicOrderCreated, events.TopicOrderStatusChanged}
	_, w := startDispatcher(t, log, topics, ByUser("alice"), fastConfig)

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob", "carol"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				topic := events.TopicOrderCreated
				if i%2 == 1 {
					topic = events.TopicOrderStatusChanged
				}
				if _, err := log.Append(context.Background(), topic, map[string]string{"userId": user, "orderId": user}); err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		}(user)
	}
	wg.Wait()

	waitFor(t, 2*time.Second, func() bool { return len(w.payloads(t)) == 20 })
	for _, p := range w.payloads(t) {
		if p["userId"] != "alice" {
			t.Fatalf("leaked frame for %q", p["userId"])
		}
	}
}

func TestDispatcher_ByOrder(t *testing.T) {
	log := eventlog.NewMemory(0)
	_, w := startDispatcher(t, log, []string{events.TopicOrderStatusChanged}, ByOrder("o2"), fastConfig)

	appendStatus(t, log, "o1", "u1", "PREPARING")
	appendStatus(t, log, "o2", "u1", "PREPARING")
	appendStatus(t, log, "o1", "u1", "READY")

	waitFor(t, 2*time.Second, func() bool { return len(w.payloads(t)) == 1 })
	time.Sleep(30 * time.Millisecond)
	if p := w.payloads(t); len(p) != 1 || p[0]["orderId"] != "o2" {
		t.Fatalf("got %+v", p)
	}
}

func TestDispatcher_DoesNotReplayHistory(t *testing.T) {
	log := eventlog.NewMemory(0)
	appendStatus(t, log, "old", "u1", "PENDING")
	appendStatus(t, log, "old", "u1", "READY")

	_, w := startDispatcher(t, log, []string{events.TopicOrderStatusChanged}, AllEntries(), fastConfig)
	appendStatus(t, log, "new", "u1", "PENDING")

	waitFor(t, 2*time.Second, func() bool { return len(w.payloads(t)) >= 1 })
	time.Sleep(30 * time.Millisecond)
	p := w.payloads(t)
	if len(p) != 1 || p[0]["orderId"] != "new" {
		t.Fatalf("got %+v, want only the post-connect entry", p)
	}
}

func TestDispatcher_LowStockAlertToPrivileged(t *testing.T) {
	log := eventlog.NewMemory(0)
	_, w := startDispatcher(t, log, []string{events.TopicLowStockAlert}, AllEntries(), fastConfig)

	alert := events.LowStockAlert{ProductID: "p1", ProductName: "Oat milk", StockQuantity: 3, Threshold: 5}
	if _, err := log.Append(context.Background(), alert.Topic(), alert.Fields()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(w.payloads(t)) == 1 })
	p := w.payloads(t)[0]
	if p["type"] != "low_stock_alert" || p["productId"] != "p1" || p["stockQuantity"] != "3" || p["threshold"] != "5" {
		t.Fatalf("got %+v", p)
	}
}

// staleLog re-returns everything from the start of the topic on every read,
// regardless of the cursor, the way a misbehaving backend might.
type staleLog struct {
	eventlog.Log
}

func (s staleLog) ReadSince(ctx context.Context, topics []string, after []eventlog.EntryID, limit int, block time.Duration) (map[string][]eventlog.Entry, error) {
	zero := make([]eventlog.EntryID, len(after))
	return s.Log.ReadSince(ctx, topics, zero, limit, 0)
}

func TestDispatcher_NeverRedeliversBehindCursor(t *testing.T) {
	mem := eventlog.NewMemory(0)
	log := staleLog{Log: mem}
	d, w := startDispatcher(t, log, []string{events.TopicOrderStatusChanged}, AllEntries(), fastConfig)

	appendStatus(t, mem, "o1", "u1", "PENDING")
	last := appendStatus(t, mem, "o1", "u1", "PREPARING")

	waitFor(t, 2*time.Second, func() bool { return d.Cursor()[events.TopicOrderStatusChanged] == last })
	// Let several more cycles re-read the same entries.
	time.Sleep(100 * time.Millisecond)
	if n := len(w.payloads(t)); n != 2 {
		t.Fatalf("delivered %d frames, want 2", n)
	}
}

// flakyLog fails the first n ReadSince calls.
type flakyLog struct {
	eventlog.Log
	failures atomic.Int32
}

func (f *flakyLog) ReadSince(ctx context.Context, topics []string, after []eventlog.EntryID, limit int, block time.Duration) (map[string][]eventlog.Entry, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("network partition")
	}
	return f.Log.ReadSince(ctx, topics, after, limit, block)
}

func TestDispatcher_PollFailureKeepsConnection(t *testing.T) {
	mem := eventlog.NewMemory(0)
	log := &flakyLog{Log: mem}
	log.failures.Store(3)
	d, w := startDispatcher(t, log, []string{events.TopicOrderStatusChanged}, AllEntries(), fastConfig)

	appendStatus(t, mem, "o1", "u1", "PENDING")

	waitFor(t, 2*time.Second, func() bool { return len(w.payloads(t)) == 1 })
	if d.State() != Streaming {
		t.Fatalf("state = %s, want streaming", d.State())
	}
}

func TestDispatcher_WriteFailureCancels(t *testing.T) {
	log := eventlog.NewMemory(0)
	sub, err := Seed(context.Background(), log, []string{events.TopicOrderStatusChanged}, AllEntries())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	w := &recordingWriter{failAfter: 1} // connected frame succeeds, the rest fail
	d := New(log, sub, w, fastConfig, nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	waitFor(t, time.Second, func() bool { return d.State() == Streaming })
	appendStatus(t, log, "o1", "u1", "PENDING")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil for a vanished client", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after write failure")
	}
	if d.State() != Closed {
		t.Fatalf("state = %s, want closed", d.State())
	}
}

func TestDispatcher_CancelIsIdempotent(t *testing.T) {
	log := eventlog.NewMemory(0)
	sub, _ := Seed(context.Background(), log, []string{events.TopicOrderCreated}, AllEntries())
	w := &recordingWriter{}
	d := New(log, sub, w, Config{PollInterval: 5 * time.Millisecond, KeepaliveInterval: 5 * time.Millisecond}, nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	waitFor(t, time.Second, func() bool { return d.State() == Streaming })

	// A write failure and a disconnect racing each other.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Cancel()
		}()
	}
	wg.Wait()
	d.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if d.State() != Closed {
		t.Fatalf("state = %s", d.State())
	}

	// Nothing is written after Run returns.
	frames, keepalives := w.frameCount(), w.keepaliveCount()
	time.Sleep(50 * time.Millisecond)
	if w.frameCount() != frames || w.keepaliveCount() != keepalives {
		t.Fatal("writes continued after cancellation")
	}
}

func TestDispatcher_CancelBeforeRun(t *testing.T) {
	log := eventlog.NewMemory(0)
	sub, _ := Seed(context.Background(), log, []string{events.TopicOrderCreated}, nil)
	w := &recordingWriter{}
	d := New(log, sub, w, fastConfig, nil)
	d.Cancel()

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.frameCount() != 0 {
		t.Fatal("cancelled dispatcher wrote frames")
	}
	if d.State() != Closed {
		t.Fatalf("state = %s", d.State())
	}
}

func TestDispatcher_ContextCancelStops(t *testing.T) {
	log := eventlog.NewMemory(0)
	sub, _ := Seed(context.Background(), log, []string{events.TopicOrderCreated}, nil)
	d := New(log, sub, &recordingWriter{}, fastConfig, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	waitFor(t, time.Second, func() bool { return d.State() == Streaming })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
	select {
	case <-d.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestDispatcher_Keepalive(t *testing.T) {
	log := eventlog.NewMemory(0)
	cfg := Config{PollInterval: time.Hour, KeepaliveInterval: 10 * time.Millisecond}
	_, w := startDispatcher(t, log, []string{events.TopicOrderCreated}, nil, cfg)

	waitFor(t, 2*time.Second, func() bool { return w.keepaliveCount() >= 3 })
}

func TestDispatcher_WritesAreSerialized(t *testing.T) {
	log := eventlog.NewMemory(0)
	cfg := Config{PollInterval: time.Millisecond, KeepaliveInterval: time.Millisecond}
	sub, _ := Seed(context.Background(), log, []string{events.TopicOrderCreated}, nil)
	w := &recordingWriter{writeDelay: 200 * time.Microsecond}
	d := New(log, sub, w, cfg, nil)
	go d.Run(context.Background()) //nolint:errcheck
	defer d.Cancel()

	for i := 0; i < 50; i++ {
		if _, err := log.Append(context.Background(), events.TopicOrderCreated, map[string]string{"orderId": "o"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	waitFor(t, 3*time.Second, func() bool { return len(w.payloads(t)) == 50 && w.keepaliveCount() > 0 })
	if w.overlap.Load() {
		t.Fatal("two frames were written concurrently")
	}
}

func TestDispatcher_BlockingRead(t *testing.T) {
	log := eventlog.NewMemory(0)
	cfg := Config{PollInterval: time.Hour, KeepaliveInterval: time.Hour, BlockTimeout: time.Second}
	_, w := startDispatcher(t, log, []string{events.TopicOrderStatusChanged}, nil, cfg)

	// Give the first blocking read time to start waiting.
	time.Sleep(20 * time.Millisecond)
	appendStatus(t, log, "o1", "u1", "READY")
	waitFor(t, 500*time.Millisecond, func() bool { return len(w.payloads(t)) == 1 })
}

func TestDispatcher_FrameIDIsResumableCursor(t *testing.T) {
	log := eventlog.NewMemory(0)
	_, w := startDispatcher(t, log, []string{events.TopicOrderStatusChanged}, nil, fastConfig)
	id := appendStatus(t, log, "o1", "u1", "PENDING")

	waitFor(t, 2*time.Second, func() bool { return w.frameCount() == 2 })
	w.mu.Lock()
	frameID := w.frames[1].ID
	w.mu.Unlock()

	c, err := eventlog.ParseCursor(frameID)
	if err != nil {
		t.Fatalf("ParseCursor(%q): %v", frameID, err)
	}
	if c[events.TopicOrderStatusChanged] != id {
		t.Fatalf("cursor = %v, want %d", c, id)
	}
}

func TestDispatcher_RunTwice(t *testing.T) {
	log := eventlog.NewMemory(0)
	sub, _ := Seed(context.Background(), log, []string{events.TopicOrderCreated}, nil)
	d := New(log, sub, &recordingWriter{}, fastConfig, nil)
	d.Cancel()
	d.Run(context.Background()) //nolint:errcheck
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("second Run should fail")
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{Connecting: "connecting", Streaming: "streaming", Closed: "closed", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
