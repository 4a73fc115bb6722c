// Package accesslog implements the default handler.Transformer: parsing a
// pipe-delimited access-log line into a JSON document ready for indexing.
// The field layout mirrors the original indexer's AccessLogMessageHandler
// example: IP, protocol, method, payload, response code, session ID
// (server/instance embedded in it), host, response time, URL, thread name.
package accesslog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ingestlabs/kes-indexer/internal/domain"
)

const inputTimeLayout = "02/Jan/2006:15:04:05"

// Document is the JSON shape produced for each parsed access-log line.
type Document struct {
	RawMessage     string `json:"raw_message"`
	Topic          string `json:"topic"`
	Partition      int32  `json:"partition"`
	Offset         int64  `json:"offset"`
	IP             string `json:"ip"`
	Protocol       string `json:"protocol"`
	Method         string `json:"method"`
	Payload        string `json:"payload,omitempty"`
	ResponseCode   int    `json:"response_code"`
	SessionID      string `json:"session_id"`
	ServerName     string `json:"server_name"`
	Instance       string `json:"instance"`
	ServerInstance string `json:"server_instance"`
	HostName       string `json:"host_name"`
	ResponseTimeMs int    `json:"response_time_ms"`
	URL            string `json:"url"`
	ThreadName     string `json:"thread_name"`
	Timestamp      string `json:"timestamp"`
}

// Transformer parses pipe-delimited access-log records.
type Transformer struct {
	indexPrefix string
}

// New returns a Transformer that indexes into "<indexPrefix>-YYYY.MM.DD",
// one index per day, the common log-rotation convention for this kind of
// index.
func New(indexPrefix string) *Transformer {
	return &Transformer{indexPrefix: indexPrefix}
}

// Transform implements handler.Transformer. Lines that don't carry enough
// pipe-delimited fields to identify a method are rejected rather than
// partially parsed, so the handler's failed-events log captures genuinely
// malformed input instead of a silently half-populated document.
func (t *Transformer) Transform(_ context.Context, record domain.BatchRecord) (domain.IndexedDocument, error) {
	raw := string(record.Value)
	fields := strings.Split(raw, "|")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 15 {
		return domain.IndexedDocument{}, fmt.Errorf("access log line has %d fields, want at least 15", len(fields))
	}

	doc := Document{
		RawMessage: raw,
		Topic:      record.Topic,
		Partition:  record.Partition,
		Offset:     record.Offset,
		IP:         fields[3],
		Protocol:   fields[4],
		Method:     fields[5],
	}

	method := strings.ToUpper(fields[5])
	switch {
	case strings.Contains(method, "GET"):
		doc.Payload = fields[6]
	case strings.Contains(method, "POST"):
		if fields[6] != "" {
			doc.Payload = fields[6]
		}
	default:
		return domain.IndexedDocument{}, fmt.Errorf("unsupported HTTP method in access log line: %q", fields[5])
	}

	responseCode, err := strconv.Atoi(fields[8])
	if err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("parse response code: %w", err)
	}
	doc.ResponseCode = responseCode
	doc.SessionID = fields[9]

	if serverParts := strings.SplitN(fields[9], ".", 2); len(serverParts) == 2 {
		if instanceParts := strings.SplitN(serverParts[1], "-", 2); len(instanceParts) == 2 {
			doc.ServerName = instanceParts[0]
			doc.Instance = instanceParts[1]
			doc.ServerInstance = instanceParts[0] + "_" + instanceParts[1]
		}
	}

	doc.HostName = strings.Fields(fields[12])[0]

	responseTime, err := strconv.Atoi(fields[13])
	if err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("parse response time: %w", err)
	}
	doc.ResponseTimeMs = responseTime
	doc.URL = fields[11]
	doc.ThreadName = fields[14]

	dateToken := strings.TrimPrefix(strings.Fields(fields[0])[0], "[")
	parsed, err := time.Parse(inputTimeLayout, dateToken)
	if err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("parse timestamp %q: %w", dateToken, err)
	}
	doc.Timestamp = parsed.Format(time.RFC3339)

	body, err := json.Marshal(doc)
	if err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("marshal access log document: %w", err)
	}

	return domain.IndexedDocument{
		Index: fmt.Sprintf("%s-%s", t.indexPrefix, time.Now().UTC().Format("2006.01.02")),
		ID:    fmt.Sprintf("%s-%d-%d", record.Topic, record.Partition, record.Offset),
		Body:  body,
	}, nil
}
