package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/classlane/portal-auth-service/internal/config"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

func InitLogging(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdklog.LoggerProvider, error) {
	if !cfg.OTELLogsEnabled {
		logger.Info("otel logs disabled")
		return sdklog.NewLoggerProvider(), nil
	}

	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp log exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create log resource: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)
	logger.Info("otel logs enabled", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return lp, nil
}

// LogHandler bridges slog records into the OTLP pipeline when logs are
// exported, and falls back to the handler the process started with.
func LogHandler(cfg *config.Config, lp *sdklog.LoggerProvider, fallback slog.Handler) slog.Handler {
	if !cfg.OTELLogsEnabled || lp == nil {
		return fallback
	}
	return otelslog.NewHandler(cfg.OTELServiceName, otelslog.WithLoggerProvider(lp))
}
