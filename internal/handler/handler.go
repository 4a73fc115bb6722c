// Package handler implements MessageHandler: it transforms raw batch
// records into search-backend-ready documents, stages them into a bulk
// request, and posts that request to a SinkClient. Individual transform
// failures are logged through FailedEventsLogger rather than raised;
// sink-data rejections are returned as *indexer.SinkDataError for the worker
// to log and commit past.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ingestlabs/kes-indexer/internal/blobstore"
	"github.com/ingestlabs/kes-indexer/internal/dedup"
	"github.com/ingestlabs/kes-indexer/internal/domain"
	"github.com/ingestlabs/kes-indexer/internal/indexer"
	"github.com/ingestlabs/kes-indexer/internal/telemetry"
)

// DefaultBlobThreshold is the record-body size, in bytes, at or above which
// a document body is offloaded to the blob store instead of inlined.
const DefaultBlobThreshold = 64 * 1024

// Transformer converts one raw batch record into a sink-ready document. The
// pipe-delimited access-log implementation lives in internal/accesslog; this
// package's tests supply a stub.
type Transformer interface {
	Transform(ctx context.Context, record domain.BatchRecord) (domain.IndexedDocument, error)
}

// SinkClient accumulates staged documents into a bulk request and submits
// it to the search backend.
type SinkClient interface {
	Stage(doc domain.IndexedDocument)
	Submit(ctx context.Context) error
	Reset()
}

// FailedEventsLogger records batch-segments or individual records the
// pipeline could not index, for later audit or replay.
type FailedEventsLogger interface {
	LogFailedEvent(ctx context.Context, event domain.FailedEvent)
}

// Observer reports handler-level outcomes to metrics.
type Observer interface {
	RecordDocumentStaged(outcome string)
}

type noopObserver struct{}

func (noopObserver) RecordDocumentStaged(string) {}

// Handler is the concrete MessageHandler: transform, dedup, blob-offload,
// stage, and flush to the sink.
type Handler struct {
	transformer  Transformer
	sink         SinkClient
	offload      blobstore.OffloadPolicy
	dedup        dedup.Store
	failedEvents FailedEventsLogger
	observer     Observer
	logger       *slog.Logger

	staged []stagedKey
}

type stagedKey struct {
	topic     string
	partition int32
	offset    int64
}

// Option configures a Handler at construction time.
type Option func(*Handler)

func WithBlobStore(store blobstore.BlobStore, bucket string, threshold int) Option {
	return func(h *Handler) {
		h.offload.Store = store
		h.offload.Bucket = bucket
		if threshold > 0 {
			h.offload.Threshold = threshold
		}
	}
}

func WithDedup(store dedup.Store) Option {
	return func(h *Handler) {
		h.dedup = store
	}
}

func WithObserver(obs Observer) Option {
	return func(h *Handler) {
		h.observer = obs
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func New(transformer Transformer, sink SinkClient, failedEvents FailedEventsLogger, opts ...Option) *Handler {
	h := &Handler{
		transformer:  transformer,
		sink:         sink,
		offload:      blobstore.OffloadPolicy{Threshold: DefaultBlobThreshold},
		dedup:        dedup.NoopStore{},
		failedEvents: failedEvents,
		observer:     noopObserver{},
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// PrepareForPost drains batch, transforms and stages each record, and
// returns the offset immediately past the last record of the batch.
// Individual transform failures are logged and skipped, and duplicates are
// skipped silently; the returned offset advances past both, and neither
// fails the call.
func (h *Handler) PrepareForPost(ctx context.Context, batch []domain.BatchRecord) (int64, error) {
	if len(batch) == 0 {
		return 0, fmt.Errorf("prepare for post: empty batch")
	}

	proposed := batch[0].Offset
	h.staged = h.staged[:0]

	for _, record := range batch {
		ctx, span := telemetry.StartStageSpan(ctx, record)

		key := dedup.Key(record.Topic, record.Partition, record.Offset)
		if h.dedup.IsDuplicate(key) {
			h.observer.RecordDocumentStaged("duplicate")
			span.End()
			proposed = record.Offset + 1
			continue
		}

		doc, err := h.transformer.Transform(ctx, record)
		if err != nil {
			h.logger.Warn("dropping record: transform failed",
				"topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
			h.failedEvents.LogFailedEvent(ctx, domain.FailedEvent{
				Topic:            record.Topic,
				Partition:        record.Partition,
				OffsetRangeStart: record.Offset,
				OffsetRangeEnd:   record.Offset,
				DetailedMessage:  fmt.Sprintf("transform failed: %v", err),
			})
			h.observer.RecordDocumentStaged("transform_error")
			span.End()
			proposed = record.Offset + 1
			continue
		}

		doc = h.offloadIfOversize(ctx, record, doc)
		h.sink.Stage(doc)
		h.staged = append(h.staged, stagedKey{record.Topic, record.Partition, record.Offset})
		h.observer.RecordDocumentStaged("staged")
		proposed = record.Offset + 1
		span.End()
	}

	return proposed, nil
}

func (h *Handler) offloadIfOversize(ctx context.Context, record domain.BatchRecord, doc domain.IndexedDocument) domain.IndexedDocument {
	offloaded, err := h.offload.Offload(ctx, record, doc)
	if err != nil {
		h.logger.Error("blob offload failed, indexing inline instead",
			"topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
		return doc
	}
	return offloaded
}

// PostToSink submits the staged bulk request. On success it marks every
// staged record's dedup key so a later redelivery of the same offsets is
// suppressed. Returns *indexer.SinkUnreachableError or
// *indexer.SinkDataError on failure, per the worker's recovery policy.
func (h *Handler) PostToSink(ctx context.Context) error {
	defer h.sink.Reset()

	err := h.sink.Submit(ctx)
	if err == nil {
		for _, k := range h.staged {
			h.dedup.Mark(dedup.Key(k.topic, k.partition, k.offset))
		}
		return nil
	}

	var dataErr *indexer.SinkDataError
	if errors.As(err, &dataErr) {
		return dataErr
	}
	return &indexer.SinkUnreachableError{Err: err}
}
