// Package config handles loading and validating sensorlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SENSORLINK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (broker passwords, InfluxDB tokens) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Socket.Endpoint)
package config
