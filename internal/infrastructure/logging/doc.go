// Package logging provides structured logging for the edge node.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the control loop and its
// infrastructure.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for bench work (human-readable)
//   - Default fields (service, version, device_id) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version, cfg.Device.ID)
//	logger.Component("safety").Warn("emergency stop", "reason", reason)
//
// # Security
//
// Never log the emergency token or broker credentials.
package logging
