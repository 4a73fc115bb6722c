// Package domain holds the plain data types shared across the indexing
// pipeline: the record read from the log, and the document staged for the
// search backend.
package domain

import "time"

// BatchRecord is one record returned by LogClient.Fetch, generalized from a
// single Kafka message: raw bytes plus the offset the worker needs to track
// proposedNextOffsetToProcess without reaching back into handler state.
type BatchRecord struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int32
	Offset    int64
	Headers   map[string]string
	Timestamp time.Time
}

// IndexedDocument is the sink-ready shape MessageHandler stages into a bulk
// request.
type IndexedDocument struct {
	Index string
	ID    string
	Body  []byte

	// BlobRef is set instead of an inline Body when the record was offloaded
	// to the blob store (see internal/blobstore).
	BlobRef *BlobReference
}

// BlobReference points at an oversize record body held in object storage
// rather than inlined into the document.
type BlobReference struct {
	Key       string `json:"blob_key"`
	Bucket    string `json:"blob_bucket"`
	SizeBytes int    `json:"size_bytes"`
}

// FailedEvent is one entry in the durable failed-events log: either a
// batch-segment dropped by a sink-data error, or a single record the handler
// could not transform.
type FailedEvent struct {
	Topic            string
	Partition        int32
	OffsetRangeStart int64
	OffsetRangeEnd   int64
	DetailedMessage  string
	RecordedAt       time.Time
}
