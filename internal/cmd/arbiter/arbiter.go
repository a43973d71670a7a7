// Package arbiter parses arbiter service flags and launches the service.
package arbiter

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/wordwager/internal/platform/cmd"
	server "github.com/louisbranch/wordwager/internal/services/arbiter/app"
)

// Config holds arbiter command configuration.
type Config struct {
	Port int `env:"WORDWAGER_ARBITER_PORT" envDefault:"8090"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The arbiter gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the arbiter service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceArbiter, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
