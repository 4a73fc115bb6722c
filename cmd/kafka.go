package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ingestlabs/kes-indexer/internal/domain"
	"github.com/ingestlabs/kes-indexer/internal/indexer"
	"github.com/ingestlabs/kes-indexer/internal/logclient"
)

// fetchTimeout bounds a single Fetch round-trip so a stalled broker cannot
// wedge the worker's round loop forever.
const fetchTimeout = 10 * time.Second

// KafkaLogClient implements logclient.LogClient against a single (topic,
// partition) pair using a dedicated franz-go client in direct-partition
// mode. It does not participate in Kafka's consumer-group rebalance
// protocol: offsets are tracked entirely by the indexer worker and
// persisted through the group's committed-offsets API for restart recovery.
type KafkaLogClient struct {
	client    *kgo.Client
	admin     *kadm.Client
	seeds     []string
	topic     string
	partition int32
	group     string
	policy    logclient.InitialOffsetPolicy
}

// NewKafkaLogClient dials brokers and binds to topic/partition. The client
// starts unseeked; the worker's first ComputeInitialOffset call positions it.
func NewKafkaLogClient(brokers string, topic string, partition int32, group string, policy logclient.InitialOffsetPolicy) (*KafkaLogClient, error) {
	seeds := strings.Split(brokers, ",")

	k := &KafkaLogClient{
		seeds:     seeds,
		topic:     topic,
		partition: partition,
		group:     group,
		policy:    policy,
	}
	if err := k.dial(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *KafkaLogClient) dial() error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.seeds...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			k.topic: {k.partition: kgo.NewOffset().AtStart()},
		}),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	k.client = client
	k.admin = kadm.NewClient(client)
	return nil
}

func (k *KafkaLogClient) ComputeInitialOffset(ctx context.Context) (int64, error) {
	switch k.policy {
	case logclient.PolicyEarliest:
		return k.boundaryOffset(ctx, k.admin.ListStartOffsets)
	case logclient.PolicyLatest:
		return k.boundaryOffset(ctx, k.admin.ListEndOffsets)
	case logclient.PolicyLastCommitted:
		offsets, err := k.admin.FetchOffsets(ctx, k.group)
		if err != nil {
			return 0, fmt.Errorf("fetch committed offsets: %w", err)
		}
		resp, ok := offsets.Lookup(k.topic, k.partition)
		if !ok || resp.Err != nil || resp.At < 0 {
			return k.boundaryOffset(ctx, k.admin.ListStartOffsets)
		}
		return resp.At, nil
	default:
		return 0, fmt.Errorf("unsupported initial offset policy %q", k.policy)
	}
}

func (k *KafkaLogClient) boundaryOffset(ctx context.Context, list func(context.Context, ...string) (kadm.ListedOffsets, error)) (int64, error) {
	listed, err := list(ctx, k.topic)
	if err != nil {
		return 0, fmt.Errorf("list offsets: %w", err)
	}
	entry, ok := listed.Lookup(k.topic, k.partition)
	if !ok {
		return 0, fmt.Errorf("no offset listed for %s/%d", k.topic, k.partition)
	}
	if entry.Err != nil {
		return 0, fmt.Errorf("list offsets: %w", entry.Err)
	}
	return entry.Offset, nil
}

// LatestOffset returns the current high-water mark, used to detect drift on
// an empty fetch.
func (k *KafkaLogClient) LatestOffset(ctx context.Context) (int64, error) {
	return k.boundaryOffset(ctx, k.admin.ListEndOffsets)
}

// Fetch seeks the client to offset and polls exactly once. The seek makes
// Fetch idempotent against repeated calls at the same offset, which the
// round loop relies on when a sink-unreachable error forces a retry.
func (k *KafkaLogClient) Fetch(ctx context.Context, offset int64) (logclient.BatchResponse, error) {
	k.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		k.topic: {k.partition: {Epoch: -1, Offset: offset}},
	})

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	fetches := k.client.PollFetches(fetchCtx)

	var code int16
	fetches.EachError(func(topic string, partition int32, err error) {
		if topic != k.topic || partition != k.partition {
			return
		}
		var kerrVal *kerr.Error
		if errors.As(err, &kerrVal) {
			code = kerrVal.Code
		}
	})
	if code != 0 {
		return logclient.BatchResponse{ErrorCode: code}, nil
	}

	records := fetches.Records()
	if len(records) == 0 {
		return logclient.BatchResponse{ValidBytes: 0}, nil
	}

	validBytes := 0
	batch := make([]domain.BatchRecord, 0, len(records))
	for _, r := range records {
		if r.Topic != k.topic || r.Partition != k.partition {
			continue
		}
		headers := make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			headers[h.Key] = string(h.Value)
		}
		batch = append(batch, domain.BatchRecord{
			Key:       r.Key,
			Value:     r.Value,
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Headers:   headers,
			Timestamp: r.Timestamp,
		})
		validBytes += len(r.Value)
	}

	return logclient.BatchResponse{Records: batch, ValidBytes: validBytes}, nil
}

// HandleFetchError classifies a broker error code observed on Fetch.
// OffsetOutOfRange is the single recoverable-by-rebase case: the worker
// jumps to the partition's earliest offset when the initial offset policy is
// earliest, and to the current high-water mark otherwise, and keeps going.
// Everything else franz-go's kerr package marks non-retriable is fatal;
// retriable codes come back as broker-recoverable so the worker reconnects
// once.
func (k *KafkaLogClient) HandleFetchError(ctx context.Context, code int16, offset int64) (int64, bool, error) {
	classified := kerr.ErrorForCode(code)

	if errors.Is(classified, kerr.OffsetOutOfRange) {
		list := k.admin.ListEndOffsets
		if k.policy == logclient.PolicyEarliest {
			list = k.admin.ListStartOffsets
		}
		rebased, err := k.boundaryOffset(ctx, list)
		if err != nil {
			return 0, false, &indexer.BrokerFatalError{Op: "rebaseAfterOffsetOutOfRange", Err: err}
		}
		return rebased, true, nil
	}

	if kerrIsRetriable(classified) {
		return 0, false, &indexer.BrokerRecoverableError{Op: "fetch", Err: classified}
	}
	return 0, false, &indexer.BrokerFatalError{Op: "fetch", Err: classified}
}

func kerrIsRetriable(err error) bool {
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return ke.Retriable
	}
	return false
}

// CommitOffset persists offset as the worker's consumer-group progress
// marker via the admin API, independent of franz-go's own autocommit (which
// is disabled) so the worker controls exactly when a commit happens.
func (k *KafkaLogClient) CommitOffset(ctx context.Context, offset int64) error {
	toCommit := kadm.Offsets{}
	toCommit.Add(kadm.Offset{Topic: k.topic, Partition: k.partition, At: offset})

	responses, err := k.admin.CommitOffsets(ctx, k.group, toCommit)
	if err != nil {
		return &indexer.BrokerRecoverableError{Op: "commitOffset", Err: err}
	}
	resp, ok := responses.Lookup(k.topic, k.partition)
	if !ok || resp.Err != nil {
		return &indexer.BrokerRecoverableError{Op: "commitOffset", Err: fmt.Errorf("commit rejected for %s/%d: %v", k.topic, k.partition, resp.Err)}
	}
	return nil
}

// Reconnect drops and recreates the underlying franz-go client. franz-go
// normally reconnects transparently at the connection level, but the
// worker's recovery policy needs an explicit signal that a fresh session is
// usable before it resumes fetching.
func (k *KafkaLogClient) Reconnect(ctx context.Context) error {
	k.client.Close()
	if err := k.dial(); err != nil {
		return err
	}
	_, err := k.LatestOffset(ctx)
	return err
}

func (k *KafkaLogClient) Close() {
	k.client.Close()
}
