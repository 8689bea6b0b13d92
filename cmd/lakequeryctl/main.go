package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/duckmesh/lakequery/internal/cli/lakequeryctl"
	"github.com/duckmesh/lakequery/internal/config"
	"github.com/duckmesh/lakequery/internal/observability"
	"github.com/duckmesh/lakequery/internal/service"
)

func main() {
	cfg, err := config.LoadFromEnv("lakequeryctl")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	// Logs go to stderr so results on stdout stay machine readable.
	logger := observability.NewLogger(cfg, os.Stderr)

	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("LAKEQUERY_CLI_TIMEOUT")), 30*time.Second)
	options := lakequeryctl.Options{
		BaseURL:   envOr("LAKEQUERY_API_URL", "http://localhost:8080"),
		APIKey:    strings.TrimSpace(os.Getenv("LAKEQUERY_API_KEY")),
		Workspace: strings.TrimSpace(os.Getenv("LAKEQUERY_WORKSPACE")),
		Layer:     strings.TrimSpace(os.Getenv("LAKEQUERY_LAKEHOUSE_LAYER")),
		Timeout:   timeout,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		Paths:     service.PathBuilder(cfg),
		OpenRunner: func(ctx context.Context) (lakequeryctl.LocalRunner, func() error, error) {
			svc, err := service.Open(ctx, cfg, logger)
			if err != nil {
				return nil, nil, err
			}
			return svc.Runner, svc.Close, nil
		},
		OpenLister: func(context.Context) (lakequeryctl.TableLister, error) {
			return service.NewTableLister(cfg)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := lakequeryctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid LAKEQUERY_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
