package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/config"
)

var testTopics = Topics{Coordinator: "god", Device: "esp-test"}

// testConfig returns a valid MQTT configuration for testing.
// Broker tests require a running Mosquitto broker at 127.0.0.1:1883 and skip
// when none is reachable.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "kaiser-test",
		},
		QoS:       1,
		KeepAlive: 30,
	}
}

func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg, testTopics)
	if err != nil {
		t.Skipf("no MQTT broker available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := connectOrSkip(t, "kaiser-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	_, err := Connect(cfg, testTopics)
	if err == nil {
		t.Fatal("Connect() should fail for refused connection")
	}

	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNew_DoesNotConnect(t *testing.T) {
	client := New(testConfig(), testTopics)

	if client.IsConnected() {
		t.Error("IsConnected() = true before Reconnect, want false")
	}
	if got := client.Topics(); got != testTopics {
		t.Errorf("Topics() = %+v, want %+v", got, testTopics)
	}
}

func TestNew_DefaultClientID(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = ""

	client := New(cfg, testTopics)
	if client.cfg.Broker.ClientID != "kaiser-esp-test" {
		t.Errorf("ClientID = %q, want %q", client.cfg.Broker.ClientID, "kaiser-esp-test")
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19997
	client := New(cfg, testTopics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Reconnect(ctx)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Reconnect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestReconnect_NoopWhenConnected(t *testing.T) {
	client := connectOrSkip(t, "kaiser-test-reconnect")

	if err := client.Reconnect(context.Background()); err != nil {
		t.Errorf("Reconnect() on connected client error = %v", err)
	}
}

func TestReconnect_AfterClose(t *testing.T) {
	client := connectOrSkip(t, "kaiser-test-reclose")

	client.Close()
	if client.IsConnected() {
		t.Fatal("IsConnected() = true after Close(), want false")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Reconnect(), want true")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t, "kaiser-test-health")

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := New(testConfig(), testTopics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := New(testConfig(), testTopics)

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Publish / Subscribe Validation Tests
// =============================================================================

func TestSentinelErrors_Distinct(t *testing.T) {
	sentinels := []error{
		ErrNotConnected,
		ErrConnectionFailed,
		ErrPublishFailed,
		ErrSubscribeFailed,
		ErrUnsubscribeFailed,
		ErrInvalidQoS,
		ErrInvalidTopic,
	}
	seen := make(map[string]bool, len(sentinels))
	for i, a := range sentinels {
		if seen[a.Error()] {
			t.Errorf("duplicate message %q", a.Error())
		}
		seen[a.Error()] = true
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("errors.Is(%v, %v) = true", a, b)
			}
		}
	}
}

func TestPublishValidation(t *testing.T) {
	client := New(testConfig(), testTopics)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", testTopics.Heartbeat(), nil, 3, ErrInvalidQoS},
		{"oversized payload", testTopics.Heartbeat(), make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", testTopics.Heartbeat(), []byte("{}"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := New(testConfig(), testTopics)
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 1, handler, ErrInvalidTopic},
		{"invalid qos", testTopics.Config(), 3, handler, ErrInvalidQoS},
		{"nil handler", testTopics.Config(), 1, nil, ErrSubscribeFailed},
		{"disconnected", testTopics.Config(), 1, handler, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes, want 0", client.SubscriptionCount())
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := New(testConfig(), testTopics)

	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe(testTopics.Config()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Broker Roundtrip Tests
// =============================================================================

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "kaiser-test-roundtrip")

	topic := testTopics.ActuatorCommand(5)
	received := make(chan []byte, 1)
	err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("HasSubscription() = false after Subscribe()")
	}

	if err := client.Publish(topic, []byte(`{"command":"ON"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"command":"ON"}` {
			t.Errorf("payload = %s, want {\"command\":\"ON\"}", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestWildcardSubscription(t *testing.T) {
	client := connectOrSkip(t, "kaiser-test-wildcard")

	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{}, 3)

	pattern := testTopics.Prefix() + "actuator/+/command"
	err := client.Subscribe(pattern, 1, func(topic string, _ []byte) error {
		mu.Lock()
		seen[topic] = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	pins := []int{4, 5, 12}
	for _, pin := range pins {
		if err := client.Publish(testTopics.ActuatorCommand(pin), []byte("{}"), 1, false); err != nil {
			t.Fatalf("Publish(%d) error = %v", pin, err)
		}
	}

	for range pins {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for wildcard messages")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, pin := range pins {
		if !seen[testTopics.ActuatorCommand(pin)] {
			t.Errorf("did not receive message for pin %d", pin)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	client := connectOrSkip(t, "kaiser-test-unsub")

	topic := testTopics.Config()
	if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("HasSubscription() = true after Unsubscribe()")
	}
}

// =============================================================================
// Handler Dispatch Tests
// =============================================================================

func TestDispatch_HandlerError(t *testing.T) {
	client := New(testConfig(), testTopics)
	logger := &mockLogger{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error {
		return errors.New("bad payload")
	}, testTopics.Config(), nil)

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one entry", logger.warns)
	}
}

func TestDispatch_PanicRecovered(t *testing.T) {
	client := New(testConfig(), testTopics)
	logger := &mockLogger{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error {
		panic("boom")
	}, testTopics.Config(), nil)

	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want one entry", logger.errors)
	}
}

func TestDispatch_NoLogger(t *testing.T) {
	client := New(testConfig(), testTopics)

	// Must not panic without a logger.
	client.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	client.dispatch(func(string, []byte) error { return errors.New("x") }, "t", nil)
}

// =============================================================================
// Presence Payload Tests
// =============================================================================

func TestBuildStatusPayload(t *testing.T) {
	raw := buildStatusPayload("esp-a1", statusOffline, reasonCrash)

	var p statusPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if p.DeviceID != "esp-a1" || p.Status != statusOffline || p.Reason != reasonCrash {
		t.Errorf("payload = %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", p.Timestamp, err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "node", Password: "pw"}
	cfg.KeepAlive = 15

	opts := buildClientOptions(cfg)
	configureLWT(opts, testTopics)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if opts.KeepAlive != 15 {
		t.Errorf("KeepAlive = %d, want 15", opts.KeepAlive)
	}
	if opts.Username != "node" {
		t.Errorf("Username = %q, want node", opts.Username)
	}
	if !opts.WillEnabled || opts.WillTopic != testTopics.Will() || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil with TLS enabled")
	}
}

// mockLogger implements Logger interface for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
