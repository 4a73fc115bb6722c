package healthz

import (
	"encoding/json"
	"net/http"
	"time"
)

type ActivityReporter interface {
	LastBatchTime() time.Time
}

// PartitionActivityReporter is an optional extension of ActivityReporter for
// a supervisor that fans in across several partition workers: it can name
// which partitions have gone stale rather than only reporting overall
// health, so an operator does not have to cross-reference per-worker
// metrics to find the one that stopped making progress.
type PartitionActivityReporter interface {
	ActivityReporter
	StalledPartitions(threshold time.Duration) []int32
}

type Checker struct {
	reporter  ActivityReporter
	threshold time.Duration
}

type Option func(*Checker)

func WithThreshold(d time.Duration) Option {
	return func(c *Checker) {
		c.threshold = d
	}
}

func NewChecker(reporter ActivityReporter, opts ...Option) *Checker {
	c := &Checker{
		reporter:  reporter,
		threshold: 45 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type response struct {
	Status            string  `json:"status"`
	Message           string  `json:"message,omitempty"`
	SinceLastPoll     string  `json:"since_last_poll,omitempty"`
	StalledPartitions []int32 `json:"stalled_partitions,omitempty"`
}

func (c *Checker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	last := c.reporter.LastBatchTime()

	if last.IsZero() {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, response{Status: "unhealthy", Message: "no activity recorded"})
		return
	}

	elapsed := time.Since(last)
	if elapsed > c.threshold {
		resp := response{
			Status:        "unhealthy",
			Message:       "stale: last poll exceeded threshold",
			SinceLastPoll: elapsed.Round(time.Millisecond).String(),
		}
		if partitioned, ok := c.reporter.(PartitionActivityReporter); ok {
			resp.StalledPartitions = partitioned.StalledPartitions(c.threshold)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, resp)
		return
	}

	w.WriteHeader(http.StatusOK)
	writeJSON(w, response{
		Status:        "ok",
		SinceLastPoll: elapsed.Round(time.Millisecond).String(),
	})
}

func writeJSON(w http.ResponseWriter, v response) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
