package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ingestlabs/kes-indexer/internal/domain"
	"github.com/ingestlabs/kes-indexer/internal/indexer"
)

func sampleDoc(id string) domain.IndexedDocument {
	return domain.IndexedDocument{
		Index: "access-logs-2026.08.02",
		ID:    id,
		Body:  []byte(`{"message":"GET /health 200"}`),
	}
}

func TestESSinkClient_SubmitSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":false,"items":[{"index":{"status":201}}]}`))
	}))
	defer srv.Close()

	sink := NewESSinkClient(srv.URL, srv.Client())
	sink.Stage(sampleDoc("1"))

	if err := sink.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
}

func TestESSinkClient_SubmitPostsBulkNDJSON(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":false,"items":[{"index":{"status":201}}]}`))
	}))
	defer srv.Close()

	sink := NewESSinkClient(srv.URL, srv.Client())
	sink.Stage(sampleDoc("42"))
	_ = sink.Submit(context.Background())

	lines := strings.Split(strings.TrimRight(string(captured), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 NDJSON lines (action + source), got %d: %q", len(lines), captured)
	}

	var action map[string]map[string]string
	if err := json.Unmarshal([]byte(lines[0]), &action); err != nil {
		t.Fatalf("action line is not valid JSON: %v", err)
	}
	if action["index"]["_index"] != "access-logs-2026.08.02" {
		t.Errorf("_index = %v, want access-logs-2026.08.02", action["index"]["_index"])
	}
	if action["index"]["_id"] != "42" {
		t.Errorf("_id = %v, want 42", action["index"]["_id"])
	}
}

func TestESSinkClient_SubmitEmptyIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewESSinkClient(srv.URL, srv.Client())
	if err := sink.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() with nothing staged should be a no-op, got error %v", err)
	}
	if called {
		t.Error("expected no HTTP request for an empty bulk request")
	}
}

func TestESSinkClient_SubmitNonOKStatusIsSinkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := NewESSinkClient(srv.URL, srv.Client())
	sink.Stage(sampleDoc("1"))

	err := sink.Submit(context.Background())
	var unreachable *indexer.SinkUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("error = %v, want *indexer.SinkUnreachableError", err)
	}
}

func TestESSinkClient_SubmitItemErrorsIsSinkDataError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":true,"items":[{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field"}}}]}`))
	}))
	defer srv.Close()

	sink := NewESSinkClient(srv.URL, srv.Client())
	sink.Stage(sampleDoc("1"))

	err := sink.Submit(context.Background())
	var dataErr *indexer.SinkDataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("error = %v, want *indexer.SinkDataError", err)
	}
	if !strings.Contains(dataErr.DetailedMessage, "mapper_parsing_exception") {
		t.Errorf("DetailedMessage = %q, want it to contain the backend's rejection reason", dataErr.DetailedMessage)
	}
}

func TestESSinkClient_ResetClearsStagedDocuments(t *testing.T) {
	var requestCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requestCount++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":false,"items":[{"index":{"status":201}}]}`))
	}))
	defer srv.Close()

	sink := NewESSinkClient(srv.URL, srv.Client())
	sink.Stage(sampleDoc("1"))
	_ = sink.Submit(context.Background())
	sink.Reset()

	if err := sink.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() after Reset with nothing staged should be a no-op, got %v", err)
	}
	if requestCount != 1 {
		t.Errorf("requestCount = %d, want 1 (Reset should prevent re-submitting cleared documents)", requestCount)
	}
}

func TestESSinkClient_BlobOffloadedDocumentStagesReference(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":false,"items":[{"index":{"status":201}}]}`))
	}))
	defer srv.Close()

	doc := sampleDoc("1")
	doc.Body = nil
	doc.BlobRef = &domain.BlobReference{Key: "access-logs/0/100", Bucket: "kes-offload", SizeBytes: 90000}

	sink := NewESSinkClient(srv.URL, srv.Client())
	sink.Stage(doc)
	_ = sink.Submit(context.Background())

	if !strings.Contains(string(captured), "access-logs/0/100") {
		t.Errorf("expected bulk body to reference the offloaded blob key, got %q", captured)
	}
}
