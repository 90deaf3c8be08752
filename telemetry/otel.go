// Package telemetry provides OpenTelemetry setup for oauthpopup
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc/credentials"

	"github.com/getlantern/oauthpopup/common"
)

// Config selects the OTLP collector and what is exported to it.
type Config struct {
	Endpoint        string
	Headers         map[string]string
	Insecure        bool
	TracesEnabled   bool
	MetricsEnabled  bool
	SampleRate      float64
	MetricsInterval time.Duration
}

var (
	initMutex    sync.Mutex
	shutdownOTEL func(context.Context) error
)

// Init installs global tracer and meter providers exporting to cfg.Endpoint. It is a no-op when
// no endpoint is configured or nothing is enabled, in which case the otel globals stay noop and
// the login flow's spans and counters cost nothing.
func Init(ctx context.Context, cfg Config) error {
	initMutex.Lock()
	defer initMutex.Unlock()

	if cfg.Endpoint == "" {
		slog.Debug("No otel endpoint configured, skipping OpenTelemetry initialization")
		return nil
	}
	if shutdownOTEL != nil {
		slog.Info("Shutting down existing OpenTelemetry SDK")
		if err := shutdownOTEL(ctx); err != nil {
			return fmt.Errorf("failed to shutdown OpenTelemetry SDK: %w", err)
		}
		shutdownOTEL = nil
	}

	shutdown, err := setupOTelSDK(ctx, cfg)
	if err != nil {
		slog.Error("Failed to start OpenTelemetry SDK", "error", err)
		return fmt.Errorf("failed to start OpenTelemetry SDK: %w", err)
	}
	shutdownOTEL = shutdown
	return nil
}

// Close flushes and shuts down the providers installed by Init.
func Close(ctx context.Context) error {
	initMutex.Lock()
	defer initMutex.Unlock()
	if shutdownOTEL == nil {
		return nil
	}
	slog.Info("Shutting down OpenTelemetry SDK")
	err := shutdownOTEL(ctx)
	shutdownOTEL = nil
	if err != nil {
		return fmt.Errorf("failed to shutdown OpenTelemetry SDK: %w", err)
	}
	return nil
}

func buildResources(serviceName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(common.Version),
		attribute.String("library.language", "go"),
		attribute.String("library.language.version", runtime.Version()),
		attribute.String("os.name", runtime.GOOS),
		attribute.String("os.arch", runtime.GOARCH),
	}
}

func setupOTelSDK(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return func(_ context.Context) error { return nil }, nil
	}
	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}
	res, err := resource.New(ctx, resource.WithAttributes(buildResources(common.Name)...))
	if err != nil {
		return shutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.TracesEnabled {
		fn, err := initTracer(ctx, res, cfg)
		if err != nil {
			return shutdown, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, fn)
		slog.Info("OpenTelemetry tracer initialized")
	}
	if cfg.MetricsEnabled {
		fn, err := initMeterProvider(ctx, res, cfg)
		if err != nil {
			return shutdown, fmt.Errorf("failed to initialize meter provider: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, fn)
		slog.Info("OpenTelemetry meter provider initialized")
	}
	return shutdown, nil
}

func initTracer(ctx context.Context, res *resource.Resource, cfg Config) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithHeaders(cfg.Headers),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	return func(ctx context.Context) error {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		if err := exporter.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown exporter: %w", err)
		}
		return nil
	}, nil
}

func initMeterProvider(ctx context.Context, res *resource.Resource, cfg Config) (func(context.Context) error, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithHeaders(cfg.Headers),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	} else {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.MetricsInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricsInterval))
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, readerOpts...)),
	)
	otel.SetMeterProvider(meterProvider)
	return meterProvider.Shutdown, nil
}
