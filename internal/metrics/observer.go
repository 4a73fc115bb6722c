package metrics

// WorkerObserver is the subset of Metrics the indexer worker reports
// through, kept as an interface so tests can assert on calls without a real
// Prometheus registry.
type WorkerObserver interface {
	RecordLastCommittedOffset(topic string, partition int32, offset int64)
	RecordJobState(topic string, partition int32, state string, allStates []string)
	RecordRoundDuration(seconds float64)
	RecordReconnectAttempt()
	RecordFailedEvent()
}

type NoopObserver struct{}

func (NoopObserver) RecordLastCommittedOffset(_ string, _ int32, _ int64)        {}
func (NoopObserver) RecordJobState(_ string, _ int32, _ string, _ []string)      {}
func (NoopObserver) RecordRoundDuration(_ float64)                              {}
func (NoopObserver) RecordReconnectAttempt()                                    {}
func (NoopObserver) RecordFailedEvent()                                        {}
