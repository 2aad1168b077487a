package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttTimeout = 10 * time.Second

// MQTTSettings holds configuration for an MQTT notification channel.
type MQTTSettings struct {
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	QoS      int    `toml:"qos"`
}

// mqttConn is the part of mqtt.Client the notifier uses.
type mqttConn interface {
	IsConnectionOpen() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes notifications as JSON to <topic>/<kind>. The connection is
// opened on first send and reused.
type MQTT struct {
	topic     string
	qos       byte
	newClient func() mqttConn

	mu     sync.Mutex
	client mqttConn
}

// NewMQTT creates an MQTT notifier.
func NewMQTT(s MQTTSettings) *MQTT {
	q := byte(s.QoS)
	if q > 2 {
		q = 0
	}
	clientID := s.ClientID
	if clientID == "" {
		clientID = "cafestream"
	}
	topic := strings.TrimRight(s.Topic, "/")
	if topic == "" {
		topic = "cafe/notifications"
	}
	return &MQTT{
		topic: topic,
		qos:   q,
		newClient: func() mqttConn {
			opts := mqtt.NewClientOptions().
				SetClientID(clientID).
				AddBroker(s.Broker).
				SetAutoReconnect(true).
				SetConnectTimeout(mqttTimeout).
				SetWriteTimeout(mqttTimeout)
			if s.Username != "" {
				opts.SetUsername(s.Username)
				opts.SetPassword(s.Password)
			}
			return mqtt.NewClient(opts)
		},
	}
}

// Name returns the provider name for logging.
func (m *MQTT) Name() string { return "mqtt" }

// Send publishes n to the kind's subtopic.
func (m *MQTT) Send(ctx context.Context, n Notification) error {
	client, err := m.connect()
	if err != nil {
		return err
	}
	body, err := json.Marshal(mqttPayload{Notification: n, Message: n.Message()})
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}
	pub := client.Publish(m.topic+"/"+string(n.Kind), m.qos, false, body)
	if err := waitToken(ctx, pub); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker if connected.
func (m *MQTT) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Disconnect(250)
		m.client = nil
	}
}

func (m *MQTT) connect() (mqttConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnectionOpen() {
		return m.client, nil
	}
	client := m.newClient()
	tok := client.Connect()
	if !tok.WaitTimeout(mqttTimeout) {
		return nil, errors.New("mqtt connect timeout")
	}
	if tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	m.client = client
	return client, nil
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttTimeout):
		return errors.New("timeout")
	}
}

type mqttPayload struct {
	Notification
	Message string `json:"message"`
}
