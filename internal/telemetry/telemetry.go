package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ingestlabs/kes-indexer/internal/domain"
)

const serviceName = "kes-indexer-worker"

var tracer trace.Tracer

type Option func(*config)

type config struct {
	exporter sdktrace.SpanExporter
}

func WithTestExporter() Option {
	return func(c *config) {
		c.exporter = noopExporter{}
	}
}

func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(c *config) {
		c.exporter = exp
	}
}

func Init(opts ...Option) (*sdktrace.TracerProvider, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	if cfg.exporter == nil {
		endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		exp, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		cfg.exporter = exp
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(cfg.exporter),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(serviceName)
	return tp, nil
}

func Tracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(serviceName)
	}
	return tracer
}

// StartFetchSpan wraps a LogClient.Fetch call for one round.
func StartFetchSpan(ctx context.Context, topic string, partition int32, offset int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "log.fetch",
		trace.WithAttributes(
			attribute.String("log.topic", topic),
			attribute.Int64("log.partition", int64(partition)),
			attribute.Int64("log.offset", offset),
		),
	)
}

// StartStageSpan wraps transforming and staging a single record.
func StartStageSpan(ctx context.Context, record domain.BatchRecord) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "record.stage",
		trace.WithAttributes(
			attribute.String("log.topic", record.Topic),
			attribute.Int64("log.partition", int64(record.Partition)),
			attribute.Int64("log.offset", record.Offset),
		),
	)
}

// StartPostSpan wraps a bulk submission to the search backend.
func StartPostSpan(ctx context.Context, topic string, partition int32, offsetFrom, offsetTo int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "sink.post",
		trace.WithAttributes(
			attribute.String("log.topic", topic),
			attribute.Int64("log.partition", int64(partition)),
			attribute.Int64("batch.offset_from", offsetFrom),
			attribute.Int64("batch.offset_to", offsetTo),
		),
	)
}

// StartCommitSpan wraps a LogClient.CommitOffset call.
func StartCommitSpan(ctx context.Context, offset int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "log.commit",
		trace.WithAttributes(attribute.Int64("log.commit_offset", offset)),
	)
}

// StartReconnectSpan wraps a single LogClient.Reconnect attempt.
func StartReconnectSpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "log.reconnect")
}

// InjectTraceContext propagates the current span context onto outgoing HTTP
// headers, used by the HTTP-based SinkClient when posting a bulk request.
func InjectTraceContext(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

type noopExporter struct{}

func (noopExporter) ExportSpans(_ context.Context, _ []sdktrace.ReadOnlySpan) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error { return nil }
