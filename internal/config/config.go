// Package config loads and validates the environment-variable configuration
// for the indexer worker process, following the same envOrDefault /
// production-safety-check conventions the rest of this codebase uses for
// its operational surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ingestlabs/kes-indexer/internal/logclient"
)

// Config is the fully parsed and validated process configuration.
type Config struct {
	KafkaBrokers      string
	Topic             string
	ConsumerGroupName string
	Partitions        []int32

	SleepBetweenFetches    time.Duration
	IsDryRun               bool
	IsPerfReportingEnabled bool
	InitialOffsetPolicy    logclient.InitialOffsetPolicy

	ESEndpoint   string
	ESAuthToken  string
	RateLimitRPS float64

	BlobStoreType             string
	BlobBucket                string
	BlobRegion                string
	BlobOffloadThresholdBytes int

	DedupStoreType   string
	DedupRedisURL    string
	DedupLRUCapacity int
	DedupTTLHours    int

	FailedEventsLogPath string

	MetricsAddr string

	DeploymentMode string
}

// Load reads Config from the process environment and validates it,
// including the production-safety checks that make an unsafe combination of
// settings fail fast rather than degrade silently in a deployed cluster.
func Load() (Config, error) {
	cfg := Config{
		KafkaBrokers:              envOrDefault("KAFKA_BROKERS", "localhost:9092"),
		Topic:                     envOrDefault("KAFKA_TOPIC", "access-logs"),
		ConsumerGroupName:         envOrDefault("KAFKA_CONSUMER_GROUP", "kes-indexer"),
		SleepBetweenFetches:       time.Duration(envIntOrDefault("SLEEP_BETWEEN_FETCHES_MS", 1000)) * time.Millisecond,
		IsDryRun:                  envBoolOrDefault("DRY_RUN", false),
		IsPerfReportingEnabled:    envBoolOrDefault("PERF_REPORTING_ENABLED", false),
		InitialOffsetPolicy:       logclient.InitialOffsetPolicy(envOrDefault("INITIAL_OFFSET_POLICY", string(logclient.PolicyLastCommitted))),
		ESEndpoint:                envOrDefault("ES_ENDPOINT", "http://localhost:9200"),
		ESAuthToken:               os.Getenv("ES_AUTH_TOKEN"),
		RateLimitRPS:              envFloatOrDefault("SINK_RATE_LIMIT_RPS", 0),
		BlobStoreType:             envOrDefault("BLOB_STORE_TYPE", "memory"),
		BlobBucket:                envOrDefault("BLOB_BUCKET", "kes-indexer-offload"),
		BlobRegion:                envOrDefault("AWS_REGION", "us-east-1"),
		BlobOffloadThresholdBytes: envIntOrDefault("BLOB_THRESHOLD_BYTES", 64*1024),
		DedupStoreType:            envOrDefault("DEDUP_STORE_TYPE", "memory"),
		DedupRedisURL:             os.Getenv("DEDUP_REDIS_URL"),
		DedupLRUCapacity:          envIntOrDefault("DEDUP_LRU_CAPACITY", 10000),
		DedupTTLHours:             envIntOrDefault("DEDUP_TTL_HOURS", 168),
		FailedEventsLogPath:       envOrDefault("FAILED_EVENTS_LOG_PATH", "/var/log/kes-indexer/failed-events.log"),
		MetricsAddr:               envOrDefault("METRICS_ADDR", ":9090"),
		DeploymentMode:            os.Getenv("DEPLOYMENT_MODE"),
	}

	partitions, err := parsePartitions(envOrDefault("KAFKA_PARTITIONS", "0"))
	if err != nil {
		return Config{}, err
	}
	cfg.Partitions = partitions

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Topic == "" {
		return fmt.Errorf("config: KAFKA_TOPIC must not be empty")
	}
	if len(c.Partitions) == 0 {
		return fmt.Errorf("config: KAFKA_PARTITIONS must name at least one partition")
	}
	if !c.InitialOffsetPolicy.Valid() {
		return fmt.Errorf("config: INITIAL_OFFSET_POLICY=%q is invalid", c.InitialOffsetPolicy)
	}
	if c.SleepBetweenFetches < 0 {
		return fmt.Errorf("config: SLEEP_BETWEEN_FETCHES_MS must not be negative")
	}
	if err := validateBlobStoreForProduction(c.DeploymentMode, c.BlobStoreType); err != nil {
		return err
	}
	if err := validateDedupStoreForProduction(c.DeploymentMode, c.DedupStoreType); err != nil {
		return err
	}
	return nil
}

func validateBlobStoreForProduction(deploymentMode, blobStoreType string) error {
	if deploymentMode == "production" && blobStoreType != "s3" {
		return fmt.Errorf(
			"BLOB_STORE_TYPE=%q is unsafe for DEPLOYMENT_MODE=production; "+
				"pod restarts will lose all offloaded documents; set BLOB_STORE_TYPE=s3",
			blobStoreType,
		)
	}
	return nil
}

func validateDedupStoreForProduction(deploymentMode, dedupStoreType string) error {
	if deploymentMode == "production" && dedupStoreType == "noop" {
		return fmt.Errorf(
			"DEDUP_STORE_TYPE=%q is unsafe for DEPLOYMENT_MODE=production; "+
				"duplicate suppression is completely inactive; set DEDUP_STORE_TYPE to redis or memory",
			dedupStoreType,
		)
	}
	return nil
}

func parsePartitions(raw string) ([]int32, error) {
	parts := strings.Split(raw, ",")
	out := make([]int32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("config: invalid partition %q in KAFKA_PARTITIONS: %w", p, err)
		}
		out = append(out, int32(n))
	}
	return out, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOrDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBoolOrDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
