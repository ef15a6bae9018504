// Package tracing builds an OpenTelemetry tracer provider from config.
// The store starts spans on whatever provider it is given, falling back
// to the global one; Install sets the global.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects and configures the exporter.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Exporter is "stdout" or "zipkin".
	Exporter    string  `yaml:"exporter" json:"exporter"`
	ZipkinURL   string  `yaml:"zipkin_url" json:"zipkin_url"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// DefaultConfig traces nothing.
func DefaultConfig() Config {
	return Config{
		Exporter:    "stdout",
		ZipkinURL:   "http://localhost:9411/api/v2/spans",
		ServiceName: "randomfile",
		SampleRatio: 1,
	}
}

// NewTracerProvider builds a provider for cfg. stdout receives spans from
// the stdout exporter; nil means os.Stdout. A disabled config yields a
// no-op provider.
func NewTracerProvider(cfg Config, stdout io.Writer) (trace.TracerProvider, ShutdownFunc, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "randomfile"
	}

	var opt sdktrace.TracerProviderOption
	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		if stdout == nil {
			stdout = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(stdout))
		if err != nil {
			return nil, nil, fmt.Errorf("stdout exporter: %w", err)
		}
		opt = sdktrace.WithSyncer(exp)
	case "zipkin":
		if cfg.ZipkinURL == "" {
			return nil, nil, fmt.Errorf("zipkin exporter: zipkin_url is required")
		}
		exp, err := zipkin.New(cfg.ZipkinURL)
		if err != nil {
			return nil, nil, fmt.Errorf("zipkin exporter: %w", err)
		}
		opt = sdktrace.WithBatcher(exp)
	default:
		return nil, nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		opt,
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	return tp, tp.Shutdown, nil
}

// Install builds a provider for cfg and makes it the global one.
func Install(cfg Config) (ShutdownFunc, error) {
	tp, shutdown, err := NewTracerProvider(cfg, nil)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return shutdown, nil
}
