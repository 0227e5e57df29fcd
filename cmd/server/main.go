package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/classlane/portal-auth-service/internal/app"
	"github.com/classlane/portal-auth-service/internal/config"
	"github.com/classlane/portal-auth-service/internal/observability"
)

func main() {
	root := &cobra.Command{
		Use:   "portal-auth-service",
		Short: "Authentication and session lifecycle service for the teacher and student portals",
	}
	root.AddCommand(serveCmd(), sweepCmd(), statsCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildApp(ctx context.Context, withObservability bool) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var runtime *observability.Runtime
	if withObservability {
		runtime, err = observability.InitRuntime(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("init observability: %w", err)
		}
		logger = slog.New(observability.LogHandler(cfg, runtime.LoggerProvider, logger.Handler()))
		slog.SetDefault(logger)
	}

	db, err := app.OpenDatabase(cfg)
	if err != nil {
		return nil, err
	}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	a, err := app.New(cfg, logger, db, redisClient)
	if err != nil {
		return nil, err
	}
	a.Observability = runtime
	return a, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the background garbage collector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a, err := buildApp(ctx, true)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func sweepCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one garbage-collection sweep and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			if full {
				return a.Janitor.FullSweep(cmd.Context())
			}
			return a.Janitor.LightSweep(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "also remove revoked refresh token records")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate session statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			stats, err := a.Sessions.Stats()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
