// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/otel"
)

func TestYAMLConfig_toConfig(t *testing.T) {
	require.NoError(t, LoadFile("test/test_config.yaml"))

	var config YAMLConfig
	err := viper.Unmarshal(&config)
	require.NoError(t, err)

	cfg, err := config.toConfig()
	require.NoError(t, err)

	validateTestConfig(t, cfg)
}

func TestYAMLConfig_toConfig_ErrorCases(t *testing.T) {
	t.Parallel()

	engines := map[string]EngineConfig{
		"primary": {Type: "meilisearch"},
	}

	tests := []struct {
		name    string
		config  YAMLConfig
		wantErr error
	}{
		{
			name: "err - index without engine",
			config: YAMLConfig{
				Engines: engines,
				Indexes: []IndexConfig{{Handle: "articles"}},
			},
			wantErr: errMissingIndexEngine,
		},
		{
			name: "err - undefined engine",
			config: YAMLConfig{
				Engines: engines,
				Indexes: []IndexConfig{{Handle: "articles", Engine: "secondary"}},
			},
			wantErr: errUnknownEngine,
		},
		{
			name: "err - negative batch size",
			config: YAMLConfig{
				Sync: SyncConfig{BatchSize: -1},
			},
			wantErr: errInvalidBatchSize,
		},
		{
			name: "err - negative workers",
			config: YAMLConfig{
				Sync: SyncConfig{Workers: -2},
			},
			wantErr: errInvalidWorkerCount,
		},
		{
			name: "err - negative orphan batch size",
			config: YAMLConfig{
				Sync: SyncConfig{OrphanBatchSize: -2},
			},
			wantErr: errInvalidOrphanBatchSize,
		},
		{
			name: "err - kafka queue without servers",
			config: YAMLConfig{
				Sync: SyncConfig{Queue: QueueConfig{Kafka: &KafkaConfig{}}},
			},
			wantErr: errMissingKafkaServers,
		},
		{
			name: "err - redis counter without url",
			config: YAMLConfig{
				Sync: SyncConfig{Counter: CounterConfig{Redis: &RedisConfig{}}},
			},
			wantErr: errMissingRedisURL,
		},
		{
			name: "err - postgres source without url",
			config: YAMLConfig{
				Source: SourceConfig{Postgres: &PostgresConfig{}},
			},
			wantErr: errMissingPostgresURL,
		},
		{
			name: "err - invalid sample ratio",
			config: YAMLConfig{
				Instrumentation: InstrumentationConfig{Traces: &TracesConfig{SampleRatio: 2}},
			},
			wantErr: errInvalidSampleRatio,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := tt.config.toConfig()
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestYAMLConfig_toConfig_invalidIndexes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config YAMLConfig
	}{
		{
			name: "unsupported engine type",
			config: YAMLConfig{
				Engines: map[string]EngineConfig{"primary": {Type: "solr"}},
				Indexes: []IndexConfig{{Handle: "articles", Engine: "primary"}},
			},
		},
		{
			name: "duplicate handle",
			config: YAMLConfig{
				Engines: map[string]EngineConfig{"primary": {Type: "algolia"}},
				Indexes: []IndexConfig{
					{Handle: "articles", Engine: "primary"},
					{Handle: "articles", Engine: "primary"},
				},
			},
		},
		{
			name: "role claimed twice",
			config: YAMLConfig{
				Engines: map[string]EngineConfig{"primary": {Type: "opensearch"}},
				Indexes: []IndexConfig{{
					Handle: "articles",
					Engine: "primary",
					FieldMappings: []engine.FieldMapping{
						{SourceField: "a", IndexFieldName: "a", Role: engine.RoleTitle},
						{SourceField: "b", IndexFieldName: "b", Role: engine.RoleTitle},
					},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := tt.config.toConfig()
			var validationErr *engine.ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestYAMLConfig_toConfig_defaults(t *testing.T) {
	t.Parallel()

	config := YAMLConfig{
		Engines: map[string]EngineConfig{"Search": {Type: "meilisearch", Config: map[string]any{"url": "http://localhost:7700"}}},
		Indexes: []IndexConfig{{Handle: "articles", Engine: "search"}},
		Sync: SyncConfig{
			Queue: QueueConfig{Kafka: &KafkaConfig{Servers: []string{"localhost:9092"}}},
		},
	}

	cfg, err := config.toConfig()
	require.NoError(t, err)

	idx, found := cfg.Catalog.Index("articles")
	require.True(t, found)
	require.Equal(t, engine.KindMeilisearch, idx.EngineType)

	require.Equal(t, defaultJobsTopic, cfg.KafkaQueue.Writer.Conn.Topic.Name)
	require.Equal(t, defaultConsumerGroup, cfg.KafkaQueue.Consumer.Reader.ConsumerGroupID)
	require.Nil(t, cfg.RedisCounter)
	require.Nil(t, cfg.Source)
	require.Equal(t, &otel.Config{}, cfg.Instrumentation)
}

func TestInstrumentationConfig_toOtelConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config InstrumentationConfig

		wantConfig *otel.Config
		wantErr    error
	}{
		{
			name: "valid config",
			config: InstrumentationConfig{
				Metrics: &MetricsConfig{
					Endpoint:           "http://localhost:8080/metrics",
					CollectionInterval: 10,
				},
				Traces: &TracesConfig{
					Endpoint:    "http://localhost:8080/traces",
					SampleRatio: 0.5,
				},
			},
			wantConfig: &otel.Config{
				Metrics: &otel.MetricsConfig{
					Endpoint:           "http://localhost:8080/metrics",
					CollectionInterval: time.Second * 10,
				},
				Traces: &otel.TracesConfig{
					Endpoint:    "http://localhost:8080/traces",
					SampleRatio: 0.5,
				},
			},
			wantErr: nil,
		},
		{
			name:       "empty config",
			config:     InstrumentationConfig{},
			wantConfig: &otel.Config{},
			wantErr:    nil,
		},
		{
			name: "err - invalid trace sample ratio",
			config: InstrumentationConfig{
				Traces: &TracesConfig{
					SampleRatio: 1.5,
				},
			},
			wantConfig: nil,
			wantErr:    errInvalidSampleRatio,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := tt.config.toOtelConfig()
			require.Equal(t, tt.wantConfig, cfg)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config YAMLConfig
		env    map[string]string

		wantConfig YAMLConfig
		wantErr    bool
	}{
		{
			name:       "no overrides",
			config:     YAMLConfig{Server: ServerConfig{Address: ":8080"}},
			env:        map[string]string{},
			wantConfig: YAMLConfig{Server: ServerConfig{Address: ":8080"}},
		},
		{
			name: "overrides on top of the file",
			config: YAMLConfig{
				Source: SourceConfig{Postgres: &PostgresConfig{URL: "postgres://file"}},
				Sync:   SyncConfig{BatchSize: 10, Workers: 2},
			},
			env: map[string]string{
				envPostgresURL:       "postgres://env",
				envRedisURL:          "redis://localhost:6379",
				envKafkaServers:      "kafka-1:9092, kafka-2:9092,",
				envKafkaTopic:        "jobs",
				envServerAddress:     ":9000",
				envSyncBatchSize:     "500",
				envTracesEndpoint:    "collector:4317",
				envTracesSampleRatio: "0.25",
				envMetricsEndpoint:   "collector:4317",
			},
			wantConfig: YAMLConfig{
				Source: SourceConfig{Postgres: &PostgresConfig{URL: "postgres://env"}},
				Sync: SyncConfig{
					BatchSize: 500,
					Workers:   2,
					Counter:   CounterConfig{Redis: &RedisConfig{URL: "redis://localhost:6379"}},
					Queue: QueueConfig{Kafka: &KafkaConfig{
						Servers: []string{"kafka-1:9092", "kafka-2:9092"},
						Topic:   TopicConfig{Name: "jobs"},
					}},
				},
				Server: ServerConfig{Address: ":9000"},
				Instrumentation: InstrumentationConfig{
					Metrics: &MetricsConfig{Endpoint: "collector:4317"},
					Traces:  &TracesConfig{Endpoint: "collector:4317", SampleRatio: 0.25},
				},
			},
		},
		{
			name:    "err - invalid worker count",
			env:     map[string]string{envSyncWorkers: "many"},
			wantErr: true,
		},
		{
			name: "err - invalid sample ratio",
			env: map[string]string{
				envTracesEndpoint:    "collector:4317",
				envTracesSampleRatio: "half",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			config := tt.config
			err := applyEnvOverrides(&config, func(key string) string { return tt.env[key] })
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantConfig, config)
		})
	}
}
