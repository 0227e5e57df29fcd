package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/classlane/portal-auth-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	verifyCounter     metric.Int64Counter
	refreshCounter    metric.Int64Counter
	sessionCounter    metric.Int64Counter
	revocationCounter metric.Int64Counter
	sweepCounter      metric.Int64Counter
	repoCounter       metric.Int64Counter
	rateLimitCounter  metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("portal-auth-service")
	verifyCounter, err := meter.Int64Counter("auth.verify.attempts")
	if err != nil {
		return nil, err
	}
	refreshCounter, err := meter.Int64Counter("auth.refresh.attempts")
	if err != nil {
		return nil, err
	}
	sessionCounter, err := meter.Int64Counter("auth.session.validations")
	if err != nil {
		return nil, err
	}
	revocationCounter, err := meter.Int64Counter("auth.revocations")
	if err != nil {
		return nil, err
	}
	sweepCounter, err := meter.Int64Counter("auth.gc.deleted")
	if err != nil {
		return nil, err
	}
	repoCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	rateLimitCounter, err := meter.Int64Counter("http.rate_limit.decisions")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		verifyCounter:     verifyCounter,
		refreshCounter:    refreshCounter,
		sessionCounter:    sessionCounter,
		revocationCounter: revocationCounter,
		sweepCounter:      sweepCounter,
		repoCounter:       repoCounter,
		rateLimitCounter:  rateLimitCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

// RecordVerify counts an access-credential verification by token kind
// (dev, self_issued, external) and outcome.
func RecordVerify(ctx context.Context, kind, status string) {
	m := current()
	if m == nil {
		return
	}
	m.verifyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

func RecordRefresh(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordSessionValidation(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordRevocation(ctx context.Context, scope string, count int64) {
	m := current()
	if m == nil {
		return
	}
	m.revocationCounter.Add(ctx, count, metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordSweep counts rows removed by a garbage-collection sweep, labeled
// by tier (light, full, opportunistic) and entity.
func RecordSweep(ctx context.Context, tier, entity string, deleted int64) {
	m := current()
	if m == nil || deleted <= 0 {
		return
	}
	m.sweepCounter.Add(ctx, deleted, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("entity", entity),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
