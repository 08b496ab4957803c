package influxdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/config"
	"github.com/nerrad567/kaiser-edge/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "kaiser-dev-token",
		Org:           "kaiser",
		Bucket:        "edge",
		BatchSize:     100,
		FlushInterval: 1, // 1 second for faster test feedback
	}
}

// connectOrSkip connects to the local InfluxDB or skips the test.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), testConfig(), "esp-test")
	if err != nil {
		t.Skipf("InfluxDB not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// captureErrors records async write errors.
func captureErrors(client *influxdb.Client) func() error {
	var (
		mu       sync.Mutex
		writeErr error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})
	return func() error {
		client.Flush()
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return writeErr
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg, "esp-test")
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	_, err := influxdb.Connect(context.Background(), cfg, "esp-test")
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	client := &influxdb.Client{}

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteTelemetry(t *testing.T) {
	client := connectOrSkip(t)
	flushErr := captureErrors(client)

	client.WriteActuatorStatus(5, "pump", true, 0, 12_000, "normal")
	client.WriteSensorReading(34, "moisture", 2048)
	client.WriteAlert(5, "runtime_protection", "max runtime exceeded")
	client.WriteBreakerTransition("bus", "closed", "open", 5)
	client.WriteSafetyEvent("emergency_stop", "broadcast", 3, 0)
	client.WriteWatchdogTimeout("production", "feed withheld", "loop", 42)
	client.WriteHealth(map[string]interface{}{"heap_bytes": int64(1 << 20)})

	if err := flushErr(); err != nil {
		t.Errorf("Write error = %v", err)
	}
}

func TestWritePointWithTime(t *testing.T) {
	client := connectOrSkip(t)
	flushErr := captureErrors(client)

	client.WritePointWithTime(
		"custom_measurement",
		map[string]string{"source": "test-with-time"},
		map[string]interface{}{"value": 88.8},
		time.Now().Add(-1*time.Hour),
	)

	if err := flushErr(); err != nil {
		t.Errorf("Write error = %v", err)
	}
}

func TestWrite_NotConnectedIsNoop(t *testing.T) {
	client := &influxdb.Client{}

	// Must not panic without a server.
	client.WriteActuatorStatus(5, "relay", true, 0, 0, "normal")
	client.WritePoint("custom", nil, map[string]interface{}{"v": 1})
	client.Flush()
	if n := client.WriteErrors(); n != 0 {
		t.Errorf("WriteErrors() = %d, want 0", n)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	client := connectOrSkip(t)

	client.WriteSensorReading(34, "moisture", 100)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestClose_Unconnected(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
