// Package indexer implements the per-partition indexing worker: the
// fetch -> stage -> post -> commit round, its recovery policy, and its
// cooperative shutdown protocol.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ingestlabs/kes-indexer/internal/domain"
	"github.com/ingestlabs/kes-indexer/internal/logclient"
	"github.com/ingestlabs/kes-indexer/internal/metrics"
	"github.com/ingestlabs/kes-indexer/internal/telemetry"
	"go.uber.org/atomic"
)

// MessageHandler is the consumed contract for transforming and posting a
// batch. The concrete implementation lives in internal/handler.
type MessageHandler interface {
	PrepareForPost(ctx context.Context, batch []domain.BatchRecord) (proposedNextOffset int64, err error)
	PostToSink(ctx context.Context) error
}

// FailedEventsLogger records batch-segments the worker commits past without
// indexing, because the sink rejected them with a data-level error.
type FailedEventsLogger interface {
	LogFailedEvent(ctx context.Context, event domain.FailedEvent)
}

// Config carries the options recognized by the worker. Validated once at
// construction time.
type Config struct {
	Topic                  string
	ConsumerGroupName      string
	SleepBetweenFetches    time.Duration
	IsDryRun               bool
	IsPerfReportingEnabled bool
	InitialOffsetPolicy    logclient.InitialOffsetPolicy
}

func (c Config) validate() error {
	if c.Topic == "" {
		return fmt.Errorf("config: topic must not be empty")
	}
	if c.SleepBetweenFetches < 0 {
		return fmt.Errorf("config: sleepBetweenFetches must not be negative")
	}
	if !c.InitialOffsetPolicy.Valid() {
		return fmt.Errorf("config: invalid initialOffsetPolicy %q", c.InitialOffsetPolicy)
	}
	return nil
}

// Option configures a Worker beyond its required constructor arguments.
type Option func(*Worker)

func WithObserver(obs metrics.WorkerObserver) Option {
	return func(w *Worker) { w.observer = obs }
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// Worker is the per-partition indexing worker: the CORE of this system.
type Worker struct {
	cfg       Config
	handler   MessageHandler
	logClient logclient.LogClient
	topic     string
	partition int32

	status       *JobStatus
	observer     metrics.WorkerObserver
	failedEvents FailedEventsLogger
	logger       *slog.Logger

	offsetForThisRound  int64
	nextOffsetToProcess int64
	isStartingFirstTime bool

	shutdownRequested atomic.Bool
}

var lifecycleStates = []string{
	string(StateCreated), string(StateInitialized), string(StateStarted),
	string(StateInProgress), string(StateStopped), string(StateFailed),
}

// NewWorker constructs a Worker in state Initialized. Fails only if cfg is
// invalid.
func NewWorker(cfg Config, handler MessageHandler, client logclient.LogClient, partition int32, failedEvents FailedEventsLogger, opts ...Option) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	status := newJobStatus(partition)
	status.setState(StateInitialized)

	w := &Worker{
		cfg:                 cfg,
		handler:             handler,
		logClient:           client,
		topic:               cfg.Topic,
		partition:           partition,
		status:              status,
		observer:            metrics.NoopObserver{},
		failedEvents:        failedEvents,
		logger:              slog.Default(),
		isStartingFirstTime: true,
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// RequestShutdown is non-blocking and idempotent. Run() will return within
// one round + one sleep interval + one in-flight fetch/post, assuming the
// external clients honor ctx.
func (w *Worker) RequestShutdown() {
	w.shutdownRequested.Store(true)
}

// Status returns a consistent snapshot of the worker's lifecycle state,
// safe to call from any goroutine.
func (w *Worker) Status() JobStatusSnapshot {
	return w.status.Snapshot()
}

// LastBatchTime implements healthz.ActivityReporter.
func (w *Worker) LastBatchTime() time.Time {
	return w.status.LastBatchTime()
}

// Partition identifies which partition this worker reads, so a supervisor
// fanning in across workers can report which one has stalled.
func (w *Worker) Partition() int32 {
	return w.partition
}

// Run blocks until the worker reaches a terminal state, then returns the
// final JobStatus snapshot. The LogClient is always released on exit.
func (w *Worker) Run(ctx context.Context) JobStatusSnapshot {
	defer w.logClient.Close()

	w.status.setState(StateStarted)
	w.status.setState(StateInProgress)

	for {
		if w.shutdownRequested.Load() {
			w.status.setState(StateStopped)
			break
		}
		if ctx.Err() != nil {
			w.status.setState(StateStopped)
			break
		}

		roundStart := time.Now()
		err := w.runRound(ctx)
		w.observer.RecordRoundDuration(time.Since(roundStart).Seconds())
		w.observer.RecordJobState(w.topic, w.partition, string(w.status.Snapshot().State), lifecycleStates)

		if err == nil {
			if w.sleepOrWake(ctx) {
				w.status.setState(StateStopped)
				break
			}
			continue
		}

		terminal, classifyErr := w.recover(ctx, err)
		if classifyErr != nil {
			w.logger.Error("indexer worker terminating", "topic", w.topic, "partition", w.partition, "error", classifyErr)
		}
		if terminal {
			break
		}
	}

	return w.status.Snapshot()
}

// sleepOrWake sleeps for cfg.SleepBetweenFetches, waking early on ctx
// cancellation or a shutdown request. Returns true if the wait ended
// because of shutdown/cancellation rather than the timer.
func (w *Worker) sleepOrWake(ctx context.Context) bool {
	if w.cfg.SleepBetweenFetches <= 0 {
		return w.shutdownRequested.Load() || ctx.Err() != nil
	}
	timer := time.NewTimer(w.cfg.SleepBetweenFetches)
	defer timer.Stop()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return false
		case <-ctx.Done():
			return true
		case <-ticker.C:
			if w.shutdownRequested.Load() {
				return true
			}
		}
	}
}

// recover applies the §4.3 recovery policy. Returns terminal=true when the
// outer loop should stop.
func (w *Worker) recover(ctx context.Context, err error) (terminal bool, classifyErr error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		w.status.setState(StateStopped)
		return true, nil
	}

	var fatalErr *BrokerFatalError
	if errors.As(err, &fatalErr) {
		w.status.setState(StateFailed)
		return true, fatalErr
	}

	var unreachable *SinkUnreachableError
	if errors.As(err, &unreachable) {
		// retry same offset next round; no state change beyond InProgress
		return false, nil
	}

	// Broker-recoverable, including any error the worker cannot classify
	// into one of the named kinds (matching the source's conservative
	// catch-all default).
	w.observer.RecordReconnectAttempt()
	_, reconnectSpan := telemetry.StartReconnectSpan(ctx)
	reconnectErr := w.logClient.Reconnect(ctx)
	reconnectSpan.End()
	if reconnectErr != nil {
		w.status.setState(StateFailed)
		return true, fmt.Errorf("reconnect failed after %w: %v", err, reconnectErr)
	}
	return false, nil
}

// runRound executes one fetch -> stage -> post -> commit pipeline.
func (w *Worker) runRound(ctx context.Context) error {
	if err := w.determineOffset(ctx); err != nil {
		return err
	}

	batch, rebased, err := w.fetch(ctx)
	if err != nil {
		return err
	}
	if rebased {
		return nil
	}
	if len(batch) == 0 {
		w.status.markRoundComplete()
		return nil
	}

	proposedNext, err := w.handler.PrepareForPost(ctx, batch)
	if err != nil {
		return err
	}

	if w.cfg.IsDryRun {
		w.logger.Info("dry run: not posting or committing", "topic", w.topic, "partition", w.partition)
		w.status.markRoundComplete()
		return nil
	}

	_, postSpan := telemetry.StartPostSpan(ctx, w.topic, w.partition, w.offsetForThisRound, proposedNext)
	postErr := w.handler.PostToSink(ctx)
	postSpan.End()

	if postErr != nil {
		var dataErr *SinkDataError
		if errors.As(postErr, &dataErr) {
			w.logFailedBatch(ctx, proposedNext, dataErr.DetailedMessage)
			w.nextOffsetToProcess = proposedNext
			return w.commit(ctx)
		}
		return postErr
	}

	w.nextOffsetToProcess = proposedNext
	return w.commit(ctx)
}

// determineOffset establishes the offset this round will read from. A
// failure to compute the initial offset is a broker-originated error like
// any other and must flow through the same recovery policy as a failed
// fetch or commit, rather than being swallowed here.
func (w *Worker) determineOffset(ctx context.Context) error {
	if w.isStartingFirstTime {
		initial, err := w.logClient.ComputeInitialOffset(ctx)
		if err != nil {
			return fmt.Errorf("compute initial offset: %w", err)
		}
		w.offsetForThisRound = initial
		w.nextOffsetToProcess = initial
		w.isStartingFirstTime = false
	} else {
		w.offsetForThisRound = w.nextOffsetToProcess
	}
	w.status.setLastCommittedOffset(w.offsetForThisRound)
	return nil
}

// fetch returns (batch, rebased, err). rebased=true means the round should
// end here: a broker error caused nextOffsetToProcess to be rebased and no
// stage/post/commit should happen this round.
func (w *Worker) fetch(ctx context.Context) ([]domain.BatchRecord, bool, error) {
	_, span := telemetry.StartFetchSpan(ctx, w.topic, w.partition, w.offsetForThisRound)
	defer span.End()

	resp, err := w.logClient.Fetch(ctx, w.offsetForThisRound)
	if err != nil {
		return nil, false, err
	}

	if resp.ErrorCode != 0 {
		rebased, ok, err := w.logClient.HandleFetchError(ctx, resp.ErrorCode, w.offsetForThisRound)
		if err != nil {
			return nil, false, err
		}
		if ok {
			w.nextOffsetToProcess = rebased
		}
		return nil, true, nil
	}

	if resp.ValidBytes <= 0 {
		latest, err := w.logClient.LatestOffset(ctx)
		if err != nil {
			return nil, false, err
		}
		if latest != w.offsetForThisRound {
			w.logger.Warn("latest offset advanced but this fetch returned no bytes; re-reading same offset",
				"topic", w.topic, "partition", w.partition, "offsetForThisRound", w.offsetForThisRound, "latestOffset", latest)
		}
		return nil, false, nil
	}

	return resp.Records, false, nil
}

func (w *Worker) commit(ctx context.Context) error {
	_, span := telemetry.StartCommitSpan(ctx, w.nextOffsetToProcess)
	defer span.End()

	if err := w.logClient.CommitOffset(ctx, w.nextOffsetToProcess); err != nil {
		return &BrokerRecoverableError{Op: "commitOffset", Err: err}
	}
	w.status.setLastCommittedOffset(w.nextOffsetToProcess)
	w.observer.RecordLastCommittedOffset(w.topic, w.partition, w.nextOffsetToProcess)
	w.status.markRoundComplete()
	w.logger.Info("committed offset",
		"topic", w.topic, "partition", w.partition,
		"offsetForThisRound", w.offsetForThisRound, "nextOffsetToProcess", w.nextOffsetToProcess)
	return nil
}

func (w *Worker) logFailedBatch(ctx context.Context, proposedNext int64, detailedMessage string) {
	w.observer.RecordFailedEvent()
	w.failedEvents.LogFailedEvent(ctx, domain.FailedEvent{
		Topic:            w.topic,
		Partition:        w.partition,
		OffsetRangeStart: w.offsetForThisRound,
		OffsetRangeEnd:   proposedNext - 1,
		DetailedMessage:  detailedMessage,
	})
	w.logger.Error("sink rejected batch segment; skipping and committing past it",
		"topic", w.topic, "partition", w.partition,
		"offsetFrom", w.offsetForThisRound, "offsetTo", proposedNext-1, "error", detailedMessage)
}
