// Package trace builds the OpenTelemetry tracer provider the engine and the
// executors record their spans with.
package trace

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/liuxd6825/vuflow/internal/lib/strvals"
)

const (
	serviceName = "vuflow"
	// TracerName is the instrumentation scope of every span vuflow emits.
	TracerName = "github.com/liuxd6825/vuflow"

	protoGRPC = "grpc"
	protoHTTP = "http"
)

var (
	// ErrInvalidTracesOutput is returned for a config line that isn't "none" or "otel[=...]".
	ErrInvalidTracesOutput = errors.New("invalid traces output")
	// ErrInvalidProto is returned for a proto other than http or grpc.
	ErrInvalidProto = errors.New("invalid protocol")
	// ErrInvalidURLScheme is returned for an endpoint URL that isn't http or https.
	ErrInvalidURLScheme = errors.New("invalid URL scheme")
	// ErrGRPCWithURLPath is returned when a grpc exporter is given a URL path.
	ErrGRPCWithURLPath = errors.New("grpc protocol does not support URL path")
)

// Config is the parsed form of a --traces-output line.
type Config struct {
	Enabled  bool
	Proto    string
	Endpoint string
	URLPath  string
	Insecure bool
	Headers  map[string]string
}

func defaultConfig() Config {
	return Config{
		Proto:    protoGRPC,
		Endpoint: "127.0.0.1:4317",
		Insecure: true,
		Headers:  make(map[string]string),
	}
}

// ParseConfigLine parses a traces output line. Supported forms are "none"
// (or an empty line) and otel[=<endpoint>][,proto=http|grpc][,header.<name>=<value>].
// The endpoint defaults to 127.0.0.1:4317 over grpc; an http(s) URL switches
// the protocol to http.
//
// Example: otel=http://127.0.0.1:4318/v1/traces,header.Authorization=token
func ParseConfigLine(line string) (Config, error) {
	cfg := defaultConfig()
	if line == "" || line == "none" {
		return cfg, nil
	}

	output, _, _ := strings.Cut(line, "=")
	output, _, _ = strings.Cut(output, ",")
	if output != "otel" {
		return cfg, fmt.Errorf("%w %q", ErrInvalidTracesOutput, output)
	}
	cfg.Enabled = true

	tokens, err := strvals.Parse(line)
	if err != nil {
		return cfg, fmt.Errorf("error while parsing the otel configuration: %w", err)
	}
	for _, token := range tokens {
		switch key := token.Key; {
		case key == "otel":
			if token.Value == "" {
				continue
			}
			if err = cfg.parseURL(token.Value); err != nil {
				return cfg, fmt.Errorf("couldn't parse the otel URL: %w", err)
			}
		case key == "proto":
			if token.Value != protoHTTP && token.Value != protoGRPC {
				return cfg, fmt.Errorf("%w: %q", ErrInvalidProto, token.Value)
			}
			cfg.Proto = token.Value
		case strings.HasPrefix(key, "header."):
			cfg.Headers[strings.TrimPrefix(key, "header.")] = token.Value
		default:
			return cfg, fmt.Errorf("unknown otel config key %s", key)
		}
	}

	if cfg.Proto == protoGRPC && cfg.URLPath != "" {
		return cfg, ErrGRPCWithURLPath
	}
	return cfg, nil
}

func (c *Config) parseURL(s string) error {
	if !strings.Contains(s, "://") {
		c.Endpoint = s
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidURLScheme, u.Scheme)
	}
	c.Proto = protoHTTP
	c.Endpoint = u.Host
	c.URLPath = u.Path
	c.Insecure = u.Scheme == "http"
	return nil
}

// Provider is a tracer provider along with the shutdown of its exporter.
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// NewProvider returns the provider configured by line. A disabled config
// gives a noop provider.
func NewProvider(ctx context.Context, line string) (*Provider, error) {
	cfg, err := ParseConfigLine(line)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return NewNoopProvider(), nil
	}
	return NewOTLPProvider(ctx, cfg)
}

// NewOTLPProvider returns a provider that batches spans to an OTLP exporter.
func NewOTLPProvider(ctx context.Context, cfg Config) (*Provider, error) {
	var client otlptrace.Client
	switch cfg.Proto {
	case protoHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithHeaders(cfg.Headers),
		}
		if cfg.URLPath != "" {
			opts = append(opts, otlptracehttp.WithURLPath(cfg.URLPath))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		client = otlptracehttp.NewClient(opts...)
	case protoGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		client = otlptracegrpc.NewClient(opts...)
	default:
		return nil, ErrInvalidProto
	}

	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("creating the traces exporter: %w", err)
	}
	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	// instrumentation outside of vuflow stays silent
	otel.SetTracerProvider(noop.NewTracerProvider())

	return &Provider{TracerProvider: prov, shutdown: prov.Shutdown}, nil
}

// NewNoopProvider returns a provider whose spans are dropped.
func NewNoopProvider() *Provider {
	return &Provider{
		TracerProvider: noop.NewTracerProvider(),
		shutdown:       func(context.Context) error { return nil },
	}
}

// Tracer returns the tracer vuflow records its spans with.
func (p *Provider) Tracer() trace.Tracer {
	return p.TracerProvider.Tracer(TracerName)
}

// Shutdown flushes pending spans and releases the exporter. The provider is
// a noop afterwards.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
