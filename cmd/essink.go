package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ingestlabs/kes-indexer/internal/domain"
	"github.com/ingestlabs/kes-indexer/internal/indexer"
	"github.com/ingestlabs/kes-indexer/internal/ratelimit"
	"github.com/ingestlabs/kes-indexer/internal/telemetry"
)

// defaultIndexName is used for a staged document that does not set Index
// itself (the transformer is expected to set one; this is a last resort so
// a bug there degrades gracefully instead of producing an invalid bulk
// action line).
const defaultIndexName = "kes-indexer-default"

// bulkAction is one "index" action line preceding a document's source line
// in the Elasticsearch/OpenSearch bulk NDJSON wire format.
type bulkAction struct {
	Index bulkActionIndex `json:"index"`
}

type bulkActionIndex struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

// bulkItemResult mirrors the subset of a bulk response item this sink cares
// about: status and, on failure, the backend's rejection reason.
type bulkItemResult struct {
	Index struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"index"`
}

type bulkResponse struct {
	Errors bool             `json:"errors"`
	Items  []bulkItemResult `json:"items"`
}

// ESSinkClient implements handler.SinkClient against an Elasticsearch- or
// OpenSearch-compatible bulk endpoint. It accumulates Stage calls into an
// in-memory NDJSON buffer and flushes it as a single request on Submit.
type ESSinkClient struct {
	endpoint  string
	client    *http.Client
	authToken string
	limiter   *ratelimit.TokenBucket

	staged int
	buf    bytes.Buffer
}

type ESSinkOption func(*ESSinkClient)

func WithESAuthToken(token string) ESSinkOption {
	return func(s *ESSinkClient) { s.authToken = token }
}

func WithESRateLimit(bucket *ratelimit.TokenBucket) ESSinkOption {
	return func(s *ESSinkClient) { s.limiter = bucket }
}

// NewESSinkClient targets endpoint (e.g. "https://es.internal:9200") using
// client for transport. A nil rate limiter means submissions are
// unthrottled.
func NewESSinkClient(endpoint string, client *http.Client, opts ...ESSinkOption) *ESSinkClient {
	s := &ESSinkClient{
		endpoint: endpoint,
		client:   client,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stage appends doc's bulk action and source lines to the pending request.
// Malformed documents (missing Index) are not expected from a well-behaved
// Transformer; Stage defends against them with defaultIndexName rather than
// silently dropping the record.
func (s *ESSinkClient) Stage(doc domain.IndexedDocument) {
	index := doc.Index
	if index == "" {
		index = defaultIndexName
	}

	action := bulkAction{Index: bulkActionIndex{Index: index, ID: doc.ID}}
	actionLine, _ := json.Marshal(action)
	s.buf.Write(actionLine)
	s.buf.WriteByte('\n')

	if doc.BlobRef != nil {
		sourceLine, _ := json.Marshal(blobOffloadedSource{BlobRef: doc.BlobRef})
		s.buf.Write(sourceLine)
	} else {
		s.buf.Write(doc.Body)
	}
	s.buf.WriteByte('\n')
	s.staged++
}

type blobOffloadedSource struct {
	BlobRef *domain.BlobReference `json:"blob_ref"`
}

// Submit flushes the staged bulk request. A transport-level failure or a
// non-2xx status is reported as *indexer.SinkUnreachableError. A response
// that parses successfully but reports per-item failures is reported as
// *indexer.SinkDataError carrying the backend's own rejection reasons,
// since those items are wrong regardless of how many times they're resent.
func (s *ESSinkClient) Submit(ctx context.Context) error {
	if s.staged == 0 {
		return nil
	}

	if s.limiter != nil {
		if err := s.limiter.WaitN(ctx, s.staged); err != nil {
			return &indexer.SinkUnreachableError{Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/_bulk", bytes.NewReader(s.buf.Bytes()))
	if err != nil {
		return &indexer.SinkUnreachableError{Err: fmt.Errorf("build bulk request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}
	telemetry.InjectTraceContext(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return &indexer.SinkUnreachableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &indexer.SinkUnreachableError{Err: fmt.Errorf("bulk request returned status %d", resp.StatusCode)}
	}

	var parsed bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &indexer.SinkUnreachableError{Err: fmt.Errorf("decode bulk response: %w", err)}
	}

	if parsed.Errors {
		return &indexer.SinkDataError{DetailedMessage: firstItemError(parsed.Items)}
	}

	return nil
}

func firstItemError(items []bulkItemResult) string {
	for _, item := range items {
		if item.Index.Error != nil {
			return fmt.Sprintf("%s: %s", item.Index.Error.Type, item.Index.Error.Reason)
		}
	}
	return "bulk response reported errors but no item-level reason was found"
}

// Reset clears the pending request, whether or not Submit succeeded. The
// worker always calls this via the handler's deferred PostToSink cleanup.
func (s *ESSinkClient) Reset() {
	s.buf.Reset()
	s.staged = 0
}
