// Package logclient declares the contract the indexer worker uses to talk to
// the log broker. The concrete Kafka implementation lives in cmd/, wired
// against github.com/twmb/franz-go the way the rest of this codebase wires
// its Kafka clients.
package logclient

import (
	"context"

	"github.com/ingestlabs/kes-indexer/internal/domain"
)

// InitialOffsetPolicy selects where a worker starts reading on its very
// first round.
type InitialOffsetPolicy string

const (
	PolicyEarliest      InitialOffsetPolicy = "earliest"
	PolicyLatest        InitialOffsetPolicy = "latest"
	PolicyLastCommitted InitialOffsetPolicy = "last-committed"
)

func (p InitialOffsetPolicy) Valid() bool {
	switch p {
	case PolicyEarliest, PolicyLatest, PolicyLastCommitted:
		return true
	default:
		return false
	}
}

// BatchResponse is the raw result of a fetch at a given offset.
type BatchResponse struct {
	ErrorCode  int16
	Records    []domain.BatchRecord
	ValidBytes int
}

// LogClient is the external collaborator the worker drives each round. One
// LogClient instance is bound to exactly one (topic, partition) pair and is
// owned exclusively by the worker that constructed it.
type LogClient interface {
	// Fetch returns the next batch starting at offset. A non-zero ErrorCode
	// in the response (rather than a returned error) signals a broker-level
	// fetch error that HandleFetchError should classify.
	Fetch(ctx context.Context, offset int64) (BatchResponse, error)

	// HandleFetchError classifies a broker error code observed on a Fetch
	// response. ok=true means rebased carries a new next-offset (e.g. after
	// OffsetOutOfRange); a non-nil err means the error is fatal.
	HandleFetchError(ctx context.Context, code int16, offset int64) (rebased int64, ok bool, err error)

	// LatestOffset returns the current high-water mark for the partition.
	LatestOffset(ctx context.Context) (int64, error)

	// ComputeInitialOffset returns the offset a first-time round should
	// start from, per the configured InitialOffsetPolicy.
	ComputeInitialOffset(ctx context.Context) (int64, error)

	// CommitOffset persists the given offset as this consumer group's
	// progress marker. Returns a BrokerRecoverableError on transient
	// failure.
	CommitOffset(ctx context.Context, offset int64) error

	// Reconnect re-establishes the broker session after a recoverable
	// failure. Returns a BrokerFatalError, or a plain error, on failure.
	Reconnect(ctx context.Context) error

	// Close releases the broker connection. Idempotent.
	Close()
}
