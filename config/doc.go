// Package config loads the gateway configuration.
//
// Values are layered, later sources winning:
//
//  1. config.yml (searched under ./cmd/<service>/, ./config/ and the working directory)
//  2. config.<environment>.yml next to it, when present
//  3. a .env file, loaded into the process environment
//  4. environment variables, GATEWAY_SERVER_PORT style when a prefix is set
//
// Usage:
//
//	var cfg AppConfig
//	if err := config.LoadConfig("gateway", &cfg, config.WithEnvPrefix("GATEWAY")); err != nil {
//	    return err
//	}
package config
