package indexer

import (
	"fmt"
	"sync"
	"time"
)

// LifecycleState is the coarse execution phase of a worker, observable by
// external supervisors.
type LifecycleState string

const (
	StateCreated     LifecycleState = "created"
	StateInitialized LifecycleState = "initialized"
	StateStarted     LifecycleState = "started"
	StateInProgress  LifecycleState = "in_progress"
	StateStopped     LifecycleState = "stopped"
	StateFailed      LifecycleState = "failed"
)

func (s LifecycleState) terminal() bool {
	return s == StateStopped || s == StateFailed
}

// legalNext reports whether the transition from s to next is allowed by the
// lifecycle diagram:
//
//	Created -> Initialized -> Started -> InProgress <-> InProgress
//	                                          |
//	                                    Stopped | Failed (terminal)
//
// Started may also move directly to Stopped or Failed.
func (s LifecycleState) legalNext(next LifecycleState) bool {
	if s.terminal() {
		return false
	}
	switch s {
	case StateCreated:
		return next == StateInitialized
	case StateInitialized:
		return next == StateStarted
	case StateStarted:
		return next == StateInProgress || next == StateStopped || next == StateFailed
	case StateInProgress:
		return next == StateInProgress || next == StateStopped || next == StateFailed
	default:
		return false
	}
}

// JobStatus is the observable state object carrying lifecycle state and last
// committed offset for external supervisors. Reads and writes are guarded by
// a mutex so a concurrent reader always observes a self-consistent
// snapshot.
type JobStatus struct {
	mu                  sync.RWMutex
	lastCommittedOffset int64
	state               LifecycleState
	partition           int32
	lastRoundAt         time.Time
}

// JobStatusSnapshot is an immutable copy of JobStatus, safe to pass around
// and compare.
type JobStatusSnapshot struct {
	LastCommittedOffset int64
	State               LifecycleState
	Partition           int32
}

func newJobStatus(partition int32) *JobStatus {
	return &JobStatus{
		lastCommittedOffset: -1,
		state:               StateCreated,
		partition:           partition,
	}
}

// Snapshot returns a consistent point-in-time copy of the status.
func (s *JobStatus) Snapshot() JobStatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return JobStatusSnapshot{
		LastCommittedOffset: s.lastCommittedOffset,
		State:               s.state,
		Partition:           s.partition,
	}
}

// LastBatchTime implements healthz.ActivityReporter: the timestamp of the
// most recently completed round, zero if none has completed yet.
func (s *JobStatus) LastBatchTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRoundAt
}

// setState transitions the status forward. An illegal transition is a
// programming error in the worker's own state machine, not an external
// failure, so it panics rather than being silently ignored.
func (s *JobStatus) setState(next LifecycleState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.legalNext(next) {
		panic(fmt.Sprintf("illegal JobStatus transition %s -> %s", s.state, next))
	}
	s.state = next
}

func (s *JobStatus) setLastCommittedOffset(offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCommittedOffset = offset
}

func (s *JobStatus) markRoundComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRoundAt = time.Now()
}
