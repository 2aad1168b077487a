package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// --- test helpers ---

type spyLogger struct {
	infoCalls  []logCall
	errorCalls []logCall
}

type logCall struct {
	msg  string
	args []any
}

func (s *spyLogger) Info(msg string, args ...any) {
	s.infoCalls = append(s.infoCalls, logCall{msg, args})
}
func (s *spyLogger) Error(msg string, args ...any) {
	s.errorCalls = append(s.errorCalls, logCall{msg, args})
}

type stubNotifier struct {
	name string
	err  error
	sent []Notification
}

func (s *stubNotifier) Name() string { return s.name }
func (s *stubNotifier) Send(_ context.Context, n Notification) error {
	s.sent = append(s.sent, n)
	return s.err
}

func orderUpdate() Notification {
	return Notification{
		Kind:           KindOrderUpdate,
		OrderID:        "ord-abc",
		Status:         "READY",
		PreviousStatus: "PREPARING",
		Timestamp:      time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}
}

// --- Multi tests ---

func TestMultiDispatchesAll(t *testing.T) {
	a := &stubNotifier{name: "a"}
	b := &stubNotifier{name: "b"}
	m := NewMulti(&spyLogger{}, a, b)

	if !m.Notify(context.Background(), orderUpdate()) {
		t.Fatal("Notify reported no success")
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("sent a=%d b=%d, want 1 each", len(a.sent), len(b.sent))
	}
	if a.sent[0].OrderID != "ord-abc" {
		t.Errorf("order = %q", a.sent[0].OrderID)
	}
}

func TestMultiLogsErrorsButContinues(t *testing.T) {
	failing := &stubNotifier{name: "broken", err: errors.New("connection refused")}
	ok := &stubNotifier{name: "ok"}
	log := &spyLogger{}
	m := NewMulti(log, failing, ok)

	if err := m.Send(context.Background(), orderUpdate()); err != nil {
		t.Fatalf("Send returned %v", err)
	}
	if len(ok.sent) != 1 {
		t.Fatal("second notifier skipped after failure")
	}
	if len(log.errorCalls) != 1 || log.errorCalls[0].msg != "notification failed" {
		t.Fatalf("error log = %+v", log.errorCalls)
	}
}

func TestMultiEmptyAndAdd(t *testing.T) {
	m := NewMulti(&spyLogger{})
	if !m.Notify(context.Background(), orderUpdate()) {
		t.Error("empty chain should report success")
	}
	s := &stubNotifier{name: "late"}
	m.Add(s)
	m.Notify(context.Background(), orderUpdate())
	if len(s.sent) != 1 {
		t.Error("added notifier not called")
	}
}

func TestMessage(t *testing.T) {
	if got := orderUpdate().Message(); got != "Order ord-abc is now READY" {
		t.Errorf("order message = %q", got)
	}
	low := Notification{Kind: KindLowStock, ProductID: "p1", ProductName: "Oat milk", StockQuantity: 3, Threshold: 5}
	if got := low.Message(); got != "Oat milk is low: 3 left (threshold 5)" {
		t.Errorf("low stock message = %q", got)
	}
	low.ProductName = ""
	if got := low.Message(); !strings.HasPrefix(got, "p1 is low") {
		t.Errorf("fallback message = %q", got)
	}
}

func TestLogNotifier(t *testing.T) {
	log := &spyLogger{}
	if err := NewLogNotifier(log).Send(context.Background(), orderUpdate()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(log.infoCalls) != 1 || log.infoCalls[0].msg != "Order ord-abc is now READY" {
		t.Fatalf("info log = %+v", log.infoCalls)
	}
}

// --- MQTT ---

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeConn struct {
	open       bool
	connectErr error
	connects   int
	published  []published
}

func (c *fakeConn) IsConnectionOpen() bool { return c.open }
func (c *fakeConn) Connect() mqtt.Token {
	c.connects++
	if c.connectErr == nil {
		c.open = true
	}
	return &fakeToken{err: c.connectErr}
}
func (c *fakeConn) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic, qos, payload.([]byte)})
	return &fakeToken{}
}
func (c *fakeConn) Disconnect(uint) { c.open = false }

func TestMQTT_PublishesToKindSubtopic(t *testing.T) {
	conn := &fakeConn{}
	m := NewMQTT(MQTTSettings{Broker: "tcp://unused:1883", Topic: "shop/alerts/", QoS: 1})
	m.newClient = func() mqttConn { return conn }

	low := Notification{Kind: KindLowStock, ProductID: "p1", StockQuantity: 3, Threshold: 5}
	if err := m.Send(context.Background(), low); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := m.Send(context.Background(), orderUpdate()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if conn.connects != 1 {
		t.Errorf("connects = %d, want connection reuse", conn.connects)
	}
	if len(conn.published) != 2 {
		t.Fatalf("published %d messages", len(conn.published))
	}
	first := conn.published[0]
	if first.topic != "shop/alerts/low_stock" || first.qos != 1 {
		t.Errorf("topic = %q qos = %d", first.topic, first.qos)
	}
	var body map[string]any
	if err := json.Unmarshal(first.payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body["product_id"] != "p1" || body["stock_quantity"] != float64(3) || body["message"] == "" {
		t.Errorf("payload = %v", body)
	}
	if conn.published[1].topic != "shop/alerts/order_update" {
		t.Errorf("second topic = %q", conn.published[1].topic)
	}

	m.Close()
	if conn.open {
		t.Error("Close did not disconnect")
	}
}

func TestMQTT_ConnectError(t *testing.T) {
	m := NewMQTT(MQTTSettings{Broker: "tcp://unused:1883"})
	m.newClient = func() mqttConn { return &fakeConn{connectErr: errors.New("refused")} }
	if err := m.Send(context.Background(), orderUpdate()); err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("err = %v", err)
	}
	if m.Name() != "mqtt" {
		t.Errorf("Name = %q", m.Name())
	}
}
