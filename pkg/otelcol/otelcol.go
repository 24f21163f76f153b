package otelcol

import (
	"context"
	"fmt"

	"habitcore/pkg/config"
	"habitcore/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module installs the global tracer provider when OTEL.ENABLED is set. Spans
// started through otel.Tracer before that are no-ops.
var Module = fx.Module("otelcol", fx.Invoke(Register))

func defaultTraceProviderOption(cfg *config.Config) []trace.TracerProviderOption {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		res = resource.Default()
	}
	return []trace.TracerProviderOption{
		trace.WithResource(res),
	}
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	opts = append(opts, trace.WithBatcher(exporter))
	return trace.NewTracerProvider(opts...)
}

func newExporter(cfg *config.Config) (trace.SpanExporter, error) {
	switch cfg.Otel.Protocol {
	case "", "grpc":
		return exporters.ProvideGrpc(cfg)
	case "http":
		return exporters.ProvideHttp(cfg)
	default:
		return nil, fmt.Errorf("unsupported otel protocol %q", cfg.Otel.Protocol)
	}
}

func Register(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Otel.Enabled {
		return nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return err
	}

	tp := ProvideTrace(exporter, defaultTraceProviderOption(cfg)...)
	otel.SetTracerProvider(tp)
	zap.L().Info("[otel] tracer provider installed", zap.String("protocol", cfg.Otel.Protocol), zap.String("addr", cfg.Otel.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
