// Command gateway runs meshgate: a reverse proxy that routes requests to
// service instances found through discovery.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kbukum/meshgate/config"
)

const (
	// serviceName locates cmd/gateway/config.yml and .env.gateway.
	serviceName = "gateway"
	defaultName = "meshgate"
	envPrefix   = "MESHGATE"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "config file (default: search cmd/gateway, config/, .)")
	envFile := flag.String("env-file", "", ".env file loaded before environment binding")
	environment := flag.String("environment", "", "selects the config.<environment>.yml overlay (default: $ENVIRONMENT)")
	flag.Parse()

	opts := []config.LoaderOption{config.WithEnvPrefix(envPrefix)}
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	if *environment != "" {
		opts = append(opts, config.WithEnvironment(*environment))
	}

	var cfg AppConfig
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := assemble(&cfg)
	if err != nil {
		return err
	}
	return gw.app.Run(context.Background())
}
