//go:build integration

package mqtt

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// Integration tests for broker-driven behaviour.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

// TestIntegration_SubscriptionsSurviveReconnect verifies tracked
// subscriptions are re-established after a Close/Reconnect cycle.
func TestIntegration_SubscriptionsSurviveReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "kaiser-int-resub"

	client, err := Connect(cfg, testTopics)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var count atomic.Int32
	got := make(chan struct{}, 4)
	topic := testTopics.Config()
	err = client.Subscribe(topic, 1, func(string, []byte) error {
		count.Add(1)
		got <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}

	// Restoration runs in the connect callback.
	time.Sleep(200 * time.Millisecond)

	if err := client.Publish(topic, []byte(`{}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not restored after reconnect")
	}
	if count.Load() != 1 {
		t.Errorf("handler called %d times, want 1", count.Load())
	}
}

// TestIntegration_PresenceRetained verifies the online status is retained on
// the will topic after connecting.
func TestIntegration_PresenceRetained(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "kaiser-int-presence"

	node, err := Connect(cfg, testTopics)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer node.Close()

	time.Sleep(200 * time.Millisecond)

	observer, err := Connect(testConfig(), Topics{Coordinator: "god", Device: "observer"})
	if err != nil {
		t.Fatalf("Connect(observer) error = %v", err)
	}
	defer observer.Close()

	received := make(chan []byte, 1)
	err = observer.Subscribe(testTopics.Will(), 1, func(_ string, payload []byte) error {
		select {
		case received <- payload:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-received:
		if !strings.Contains(string(payload), `"status":"online"`) {
			t.Errorf("retained presence = %s, want online", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no retained presence message")
	}
}
