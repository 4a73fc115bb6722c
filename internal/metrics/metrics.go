package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry            *prometheus.Registry
	lastCommittedOffset *prometheus.GaugeVec
	jobState            *prometheus.GaugeVec
	roundDuration       prometheus.Histogram
	reconnectAttempts   prometheus.Counter
	failedEvents        prometheus.Counter
	documentsStaged     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	lastCommittedOffset := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indexer_last_committed_offset",
		Help: "Last offset committed back to the log broker, per topic and partition",
	}, []string{"topic", "partition"})

	jobState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "indexer_job_state",
		Help: "1 if the worker is currently in the named lifecycle state, 0 otherwise",
	}, []string{"topic", "partition", "state"})

	roundDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "indexer_round_duration_seconds",
		Help:    "Duration of one fetch-stage-post-commit round in seconds",
		Buckets: prometheus.DefBuckets,
	})

	reconnectAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "indexer_reconnect_attempts_total",
		Help: "Total number of LogClient reconnect attempts",
	})

	failedEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "indexer_failed_events_total",
		Help: "Total number of batch-segments or records logged to the failed-events log",
	})

	documentsStaged := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "indexer_documents_staged_total",
		Help: "Total number of records staged into a bulk request, by outcome",
	}, []string{"outcome"})

	reg.MustRegister(lastCommittedOffset, jobState, roundDuration, reconnectAttempts, failedEvents, documentsStaged)

	return &Metrics{
		registry:            reg,
		lastCommittedOffset: lastCommittedOffset,
		jobState:            jobState,
		roundDuration:       roundDuration,
		reconnectAttempts:   reconnectAttempts,
		failedEvents:        failedEvents,
		documentsStaged:     documentsStaged,
	}
}

func (m *Metrics) RecordLastCommittedOffset(topic string, partition int32, offset int64) {
	m.lastCommittedOffset.WithLabelValues(topic, strconv.Itoa(int(partition))).Set(float64(offset))
}

func (m *Metrics) RecordJobState(topic string, partition int32, state string, allStates []string) {
	for _, s := range allStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		m.jobState.WithLabelValues(topic, strconv.Itoa(int(partition)), s).Set(value)
	}
}

func (m *Metrics) RecordRoundDuration(seconds float64) {
	m.roundDuration.Observe(seconds)
}

func (m *Metrics) RecordReconnectAttempt() {
	m.reconnectAttempts.Inc()
}

func (m *Metrics) RecordFailedEvent() {
	m.failedEvents.Inc()
}

func (m *Metrics) RecordDocumentStaged(outcome string) {
	m.documentsStaged.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
