// Package config handles loading and validating the edge node configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, emergency token)
//     should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// The device and coordinator ids become MQTT topic levels, so they must not
// contain '/', '+' or '#'.
//
// Usage:
//
//	cfg, err := config.Load("configs/kaiser-edge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.ID)
package config
