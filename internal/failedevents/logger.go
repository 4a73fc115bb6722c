// Package failedevents implements the durable, append-only log the indexer
// worker writes to whenever it commits past a batch segment it could not
// index: sink-data rejections and per-record transform failures. Each entry
// is one JSON line, so the file can be tailed, shipped, or replayed without
// a custom reader.
package failedevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ingestlabs/kes-indexer/internal/domain"
)

// Record is one durable failed-events log entry. ID lets an operator or a
// replay tool reference a specific entry unambiguously even though
// OffsetRangeStart/End can repeat across restarts of a misbehaving sink.
type Record struct {
	ID               string    `json:"id"`
	Topic            string    `json:"topic"`
	Partition        int32     `json:"partition"`
	OffsetRangeStart int64     `json:"offset_range_start"`
	OffsetRangeEnd   int64     `json:"offset_range_end"`
	DetailedMessage  string    `json:"detailed_message"`
	RecordedAt       time.Time `json:"recorded_at"`
	WrittenAt        time.Time `json:"written_at"`
}

// Logger appends domain.FailedEvent values to a JSON-lines file. A write
// failure is logged but never returned: the worker's recovery policy has
// already decided to commit past the offending offsets, and a failed-events
// logging outage must not turn into a second reason to stall the partition.
type Logger struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// New prepares the failed-events log at path, creating its parent directory
// if necessary. The file itself is opened (and created) on each write.
func New(path string, logger *slog.Logger) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create failed-events log directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{path: path, logger: logger}, nil
}

// LogFailedEvent appends one record. Implements both internal/handler's and
// internal/indexer's FailedEventsLogger interfaces.
func (l *Logger) LogFailedEvent(_ context.Context, event domain.FailedEvent) {
	record := Record{
		ID:               uuid.NewString(),
		Topic:            event.Topic,
		Partition:        event.Partition,
		OffsetRangeStart: event.OffsetRangeStart,
		OffsetRangeEnd:   event.OffsetRangeEnd,
		DetailedMessage:  event.DetailedMessage,
		RecordedAt:       event.RecordedAt,
		WrittenAt:        time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		l.logger.Error("marshal failed-event record", "error", err)
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		l.logger.Error("open failed-events log", "path", l.path, "error", err)
		return
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		l.logger.Error("write failed-events log record", "path", l.path, "error", err)
	}
}
