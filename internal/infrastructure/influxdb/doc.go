// Package influxdb provides InfluxDB connectivity for node telemetry.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, metric writing and health monitoring.
//
// # Purpose
//
// The node writes:
//   - Actuator state and accumulated runtime
//   - Raw sensor readings
//   - Actuator alerts and safety events
//   - Circuit breaker transitions
//   - Watchdog timeouts and periodic health samples
//
// Every point carries a device_id tag.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteBreakerTransition("bus", "closed", "open", 5)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; write errors
// arrive through SetOnError.
package influxdb
