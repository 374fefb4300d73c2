// Package telemetry is a thin layer over OpenTelemetry. It implements the
// core.Telemetry contract so components stay decoupled from the SDK, and
// keeps a local counter registry so the status endpoint can report metric
// totals without a metrics backend.
package telemetry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/operandhq/operand/core"
)

// Config controls the provider.
type Config struct {
	ServiceName string
	Version     string
	// Enabled turns span export on. Metrics counters are always kept;
	// they are cheap and the status endpoint reads them.
	Enabled bool
	// PrettyPrint makes the stdout exporter human-readable, for
	// development runs.
	PrettyPrint bool
}

// Provider implements core.Telemetry backed by an OTel tracer and a local
// counter registry.
type Provider struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider

	mu       sync.Mutex
	counters map[string]float64
}

// Init builds a provider. With Enabled false the tracer is a no-op but the
// counter registry still works, so tests and minimal deployments pay
// nothing for span export.
func Init(cfg Config) (*Provider, error) {
	p := &Provider{counters: make(map[string]float64)}
	if !cfg.Enabled {
		p.tracer = otel.GetTracerProvider().Tracer(cfg.ServiceName)
		return p, nil
	}

	opts := []stdouttrace.Option{}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, &core.Error{Op: "telemetry.Init", Kind: core.KindInternal, Err: err}
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	)
	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(p.tp)
	p.tracer = p.tp.Tracer(cfg.ServiceName)
	return p, nil
}

// StartSpan opens a span and returns it behind the core.Span contract.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, otelSpan := p.tracer.Start(ctx, name)
	return ctx, &span{span: otelSpan}
}

// RecordMetric adds value to the named counter. Labels are folded into the
// counter key so per-label totals stay distinguishable.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	key := counterKey(name, labels)
	p.mu.Lock()
	p.counters[key] += value
	p.mu.Unlock()
}

// Counters snapshots the registry for the status endpoint.
func (p *Provider) Counters() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.counters))
	for k, v := range p.counters {
		out[k] = v
	}
	return out
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

func counterKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		sb.WriteString("{")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(labels[k])
		sb.WriteString("}")
	}
	return sb.String()
}

// span adapts an OTel span to core.Span.
type span struct {
	span trace.Span
}

func (s *span) End() { s.span.End() }

func (s *span) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, "unsupported"))
	}
}

func (s *span) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}
