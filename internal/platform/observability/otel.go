package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rl1809/retail-floor/internal/config"
)

const (
	instrumentationScope = "github.com/rl1809/retail-floor"
	exportTimeout        = 10 * time.Second
	maxQueueSize         = 4096
)

// Telemetry bundles the process-wide logger and tracer.
type Telemetry struct {
	Logger *zap.Logger
	Tracer trace.Tracer

	shutdownFuncs []func(context.Context) error
}

// Setup builds the logger and tracer. Without an OTLP endpoint the logger
// writes JSON to stdout only and the tracer is the global no-op one. Exporter
// failures are returned alongside a usable Telemetry.
func Setup(ctx context.Context, cfg config.OtelConfig) (*Telemetry, error) {
	t := &Telemetry{}
	if cfg.Endpoint == "" {
		t.Logger = NewLogger(cfg.ServiceName, nil)
		t.Tracer = otel.Tracer(instrumentationScope)
		return t, nil
	}

	var setupErr error
	logShutdown, err := SetupLoggingSDK(ctx, cfg)
	setupErr = errors.Join(setupErr, err)
	if logShutdown != nil {
		t.shutdownFuncs = append(t.shutdownFuncs, logShutdown)
	}

	tp, traceShutdown, err := SetupTracingSDK(ctx, cfg)
	setupErr = errors.Join(setupErr, err)
	if traceShutdown != nil {
		t.shutdownFuncs = append(t.shutdownFuncs, traceShutdown)
	}

	otelCore := otelzap.NewCore(instrumentationScope, otelzap.WithLoggerProvider(global.GetLoggerProvider()))
	t.Logger = NewLogger(cfg.ServiceName, otelCore)
	if tp != nil {
		t.Tracer = tp.Tracer(instrumentationScope)
	} else {
		t.Tracer = otel.Tracer(instrumentationScope)
	}
	return t, setupErr
}

// Shutdown flushes exporters. It is safe to call more than once.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range t.shutdownFuncs {
		err = errors.Join(err, fn(ctx))
	}
	t.shutdownFuncs = nil
	if t.Logger != nil {
		_ = t.Logger.Sync()
	}
	return err
}

// NewLogger returns a production JSON logger on stdout, tee'd into extra
// when it is non-nil.
func NewLogger(serviceName string, extra zapcore.Core) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)
	if extra != nil {
		core = zapcore.NewTee(extra, core)
	}
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", serviceName)),
	)
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func headers(cfg config.OtelConfig) map[string]string {
	if cfg.AuthHeader == "" {
		return nil
	}
	return map[string]string{"Authorization": cfg.AuthHeader}
}

// SetupLoggingSDK installs a global OTLP/HTTP logger provider.
func SetupLoggingSDK(ctx context.Context, cfg config.OtelConfig) (func(context.Context) error, error) {
	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpointURL(cfg.Endpoint),
		otlploghttp.WithHeaders(headers(cfg)),
	)
	if err != nil {
		return nil, fmt.Errorf("OTLP log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(exportTimeout),
			sdklog.WithMaxQueueSize(maxQueueSize),
		)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(provider)
	return provider.Shutdown, nil
}

// SetupTracingSDK installs a global OTLP/HTTP tracer provider and the
// W3C trace-context propagator used for Kafka headers.
func SetupTracingSDK(ctx context.Context, cfg config.OtelConfig) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
		otlptracehttp.WithHeaders(headers(cfg)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithExportTimeout(exportTimeout),
			sdktrace.WithMaxQueueSize(maxQueueSize),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}
