package telemetry_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ingestlabs/kes-indexer/internal/domain"
	"github.com/ingestlabs/kes-indexer/internal/telemetry"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp, err := telemetry.Init(telemetry.WithExporter(exp))
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exp
}

func sampleRecord(offset int64) domain.BatchRecord {
	return domain.BatchRecord{
		Key:       []byte("k"),
		Value:     []byte("access log line"),
		Topic:     "access-logs",
		Partition: 0,
		Offset:    offset,
		Timestamp: time.Now(),
	}
}

func TestStartFetchSpan(t *testing.T) {
	exp := setupTestTracer(t)

	ctx, span := telemetry.StartFetchSpan(context.Background(), "access-logs", 2, 100)
	_ = ctx
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "log.fetch" {
		t.Errorf("name = %q, want %q", spans[0].Name, "log.fetch")
	}
	assertAttr(t, spans[0].Attributes, "log.partition", int64(2))
	assertAttr(t, spans[0].Attributes, "log.offset", int64(100))
}

func TestStartStageSpan(t *testing.T) {
	exp := setupTestTracer(t)

	ctx, span := telemetry.StartStageSpan(context.Background(), sampleRecord(101))
	_ = ctx
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "record.stage" {
		t.Errorf("name = %q, want %q", spans[0].Name, "record.stage")
	}
	assertAttr(t, spans[0].Attributes, "log.topic", "access-logs")
	assertAttr(t, spans[0].Attributes, "log.offset", int64(101))
}

func TestStartPostSpan(t *testing.T) {
	exp := setupTestTracer(t)

	ctx, span := telemetry.StartPostSpan(context.Background(), "access-logs", 0, 100, 110)
	_ = ctx
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "sink.post" {
		t.Errorf("name = %q, want %q", spans[0].Name, "sink.post")
	}
	assertAttr(t, spans[0].Attributes, "batch.offset_from", int64(100))
	assertAttr(t, spans[0].Attributes, "batch.offset_to", int64(110))
}

func TestStartCommitSpan(t *testing.T) {
	exp := setupTestTracer(t)

	ctx, span := telemetry.StartCommitSpan(context.Background(), 110)
	_ = ctx
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "log.commit" {
		t.Errorf("name = %q, want %q", spans[0].Name, "log.commit")
	}
	assertAttr(t, spans[0].Attributes, "log.commit_offset", int64(110))
}

func TestStartReconnectSpan(t *testing.T) {
	exp := setupTestTracer(t)

	ctx, span := telemetry.StartReconnectSpan(context.Background())
	_ = ctx
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "log.reconnect" {
		t.Errorf("name = %q, want %q", spans[0].Name, "log.reconnect")
	}
}

func assertAttr(t *testing.T, attrs []attribute.KeyValue, key string, want interface{}) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			switch v := want.(type) {
			case string:
				if a.Value.AsString() != v {
					t.Errorf("attr %q = %v, want %v", key, a.Value.AsString(), v)
				}
			case int64:
				if a.Value.AsInt64() != v {
					t.Errorf("attr %q = %v, want %v", key, a.Value.AsInt64(), v)
				}
			}
			return
		}
	}
	t.Errorf("attribute %q not found", key)
}
