package blobstore

import (
	"context"
	"fmt"

	"github.com/ingestlabs/kes-indexer/internal/domain"
)

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Key builds the object-storage key for one log record's offloaded body:
// "<topic>/<partition>/<offset>". Every caller that offloads or later
// resolves a record's blob must agree on this format, so it lives here
// rather than being hand-rolled at each call site.
func Key(topic string, partition int32, offset int64) string {
	return fmt.Sprintf("%s/%d/%d", topic, partition, offset)
}

// OffloadPolicy decides whether an IndexedDocument's body is large enough to
// move out of the bulk request and into the blob store, replacing it with a
// BlobReference. A zero-value OffloadPolicy (nil Store) never offloads.
type OffloadPolicy struct {
	Store     BlobStore
	Bucket    string
	Threshold int
}

// Offload writes record's document body to the configured store if it is at
// or above Threshold, returning a copy of doc with Body cleared and BlobRef
// set. Below threshold, or with no store configured, doc is returned
// unchanged. A write failure returns doc unchanged alongside the error, so
// the caller can fall back to indexing the body inline.
func (p OffloadPolicy) Offload(ctx context.Context, record domain.BatchRecord, doc domain.IndexedDocument) (domain.IndexedDocument, error) {
	if p.Store == nil || len(doc.Body) < p.Threshold {
		return doc, nil
	}
	key := Key(record.Topic, record.Partition, record.Offset)
	if _, err := p.Store.Put(ctx, key, doc.Body); err != nil {
		return doc, fmt.Errorf("blobstore: offload %s: %w", key, err)
	}
	doc.BlobRef = &domain.BlobReference{Key: key, Bucket: p.Bucket, SizeBytes: len(doc.Body)}
	doc.Body = nil
	return doc, nil
}
