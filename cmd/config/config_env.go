// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment overrides, read through viper with the SEARCHSYNC prefix (for
// example SEARCHSYNC_POSTGRES_URL). They take precedence over the yaml file
// so that secrets and per-deployment addresses stay out of it.
const (
	envPostgresURL       = "POSTGRES_URL"
	envRedisURL          = "REDIS_URL"
	envKafkaServers      = "KAFKA_SERVERS"
	envKafkaTopic        = "KAFKA_TOPIC"
	envServerAddress     = "SERVER_ADDRESS"
	envSyncBatchSize     = "SYNC_BATCH_SIZE"
	envSyncWorkers       = "SYNC_WORKERS"
	envMetricsEndpoint   = "METRICS_ENDPOINT"
	envTracesEndpoint    = "TRACES_ENDPOINT"
	envTracesSampleRatio = "TRACES_SAMPLE_RATIO"
)

func applyEnvOverrides(c *YAMLConfig, getenv func(string) string) error {
	if url := getenv(envPostgresURL); url != "" {
		if c.Source.Postgres == nil {
			c.Source.Postgres = &PostgresConfig{}
		}
		c.Source.Postgres.URL = url
	}

	if url := getenv(envRedisURL); url != "" {
		if c.Sync.Counter.Redis == nil {
			c.Sync.Counter.Redis = &RedisConfig{}
		}
		c.Sync.Counter.Redis.URL = url
	}

	if servers := getenv(envKafkaServers); servers != "" {
		if c.Sync.Queue.Kafka == nil {
			c.Sync.Queue.Kafka = &KafkaConfig{}
		}
		c.Sync.Queue.Kafka.Servers = splitList(servers)
	}
	if topic := getenv(envKafkaTopic); topic != "" && c.Sync.Queue.Kafka != nil {
		c.Sync.Queue.Kafka.Topic.Name = topic
	}

	if addr := getenv(envServerAddress); addr != "" {
		c.Server.Address = addr
	}

	var err error
	if c.Sync.BatchSize, err = intOverride(getenv, envSyncBatchSize, c.Sync.BatchSize); err != nil {
		return err
	}
	if c.Sync.Workers, err = intOverride(getenv, envSyncWorkers, c.Sync.Workers); err != nil {
		return err
	}

	if endpoint := getenv(envMetricsEndpoint); endpoint != "" {
		if c.Instrumentation.Metrics == nil {
			c.Instrumentation.Metrics = &MetricsConfig{}
		}
		c.Instrumentation.Metrics.Endpoint = endpoint
	}
	if endpoint := getenv(envTracesEndpoint); endpoint != "" {
		if c.Instrumentation.Traces == nil {
			c.Instrumentation.Traces = &TracesConfig{}
		}
		c.Instrumentation.Traces.Endpoint = endpoint
	}
	if ratio := getenv(envTracesSampleRatio); ratio != "" && c.Instrumentation.Traces != nil {
		f, err := strconv.ParseFloat(ratio, 64)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", envTracesSampleRatio, err)
		}
		c.Instrumentation.Traces.SampleRatio = f
	}
	return nil
}

func intOverride(getenv func(string) string, key string, current int) (int, error) {
	v := getenv(key)
	if v == "" {
		return current, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return i, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
