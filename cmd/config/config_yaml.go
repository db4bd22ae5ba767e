// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xataio/searchsync/internal/backoff"
	"github.com/xataio/searchsync/internal/kafka"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/orchestrator"
	"github.com/xataio/searchsync/pkg/orchestrator/counter/redis"
	kafkaqueue "github.com/xataio/searchsync/pkg/orchestrator/queue/kafka"
	"github.com/xataio/searchsync/pkg/otel"
	"github.com/xataio/searchsync/pkg/server"
	pgsource "github.com/xataio/searchsync/pkg/source/postgres"
	"github.com/xataio/searchsync/pkg/tls"
)

type YAMLConfig struct {
	Engines         map[string]EngineConfig `mapstructure:"engines" yaml:"engines"`
	Indexes         []IndexConfig           `mapstructure:"indexes" yaml:"indexes"`
	Sync            SyncConfig              `mapstructure:"sync" yaml:"sync"`
	Source          SourceConfig            `mapstructure:"source" yaml:"source"`
	Server          ServerConfig            `mapstructure:"server" yaml:"server"`
	Instrumentation InstrumentationConfig   `mapstructure:"instrumentation" yaml:"instrumentation"`
}

// EngineConfig is a named backend connection shared by any number of
// indexes. Config values may be $VAR placeholders.
type EngineConfig struct {
	Type   string         `mapstructure:"type" yaml:"type"`
	Config map[string]any `mapstructure:"config" yaml:"config"`
}

type IndexConfig struct {
	Handle        string                `mapstructure:"handle" yaml:"handle"`
	Engine        string                `mapstructure:"engine" yaml:"engine"`
	Mode          string                `mapstructure:"mode" yaml:"mode"`
	FieldMappings []engine.FieldMapping `mapstructure:"field_mappings" yaml:"field_mappings"`
	// Source holds the criteria selecting the live records of the index, as
	// understood by the configured source.
	Source map[string]any `mapstructure:"source" yaml:"source"`
}

type SyncConfig struct {
	BatchSize         int            `mapstructure:"batch_size" yaml:"batch_size"`
	Workers           int            `mapstructure:"workers" yaml:"workers"`
	OrphanBatchSize   int            `mapstructure:"orphan_batch_size" yaml:"orphan_batch_size"`
	OrphanConcurrency int            `mapstructure:"orphan_concurrency" yaml:"orphan_concurrency"`
	Retry             *BackoffConfig `mapstructure:"retry" yaml:"retry"`
	Counter           CounterConfig  `mapstructure:"counter" yaml:"counter"`
	Queue             QueueConfig    `mapstructure:"queue" yaml:"queue"`
}

type CounterConfig struct {
	Redis *RedisConfig `mapstructure:"redis" yaml:"redis"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
	// LockTTL in milliseconds
	LockTTL int `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	// LockWait in milliseconds
	LockWait int        `mapstructure:"lock_wait" yaml:"lock_wait"`
	TLS      *TLSConfig `mapstructure:"tls" yaml:"tls"`
}

type QueueConfig struct {
	Kafka *KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Servers       []string            `mapstructure:"servers" yaml:"servers"`
	Topic         TopicConfig         `mapstructure:"topic" yaml:"topic"`
	ConsumerGroup ConsumerGroupConfig `mapstructure:"consumer_group" yaml:"consumer_group"`
	TLS           *TLSConfig          `mapstructure:"tls" yaml:"tls"`
	// BatchTimeout in milliseconds
	BatchTimeout int `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

type TopicConfig struct {
	Name              string `mapstructure:"name" yaml:"name"`
	Partitions        int    `mapstructure:"partitions" yaml:"partitions"`
	ReplicationFactor int    `mapstructure:"replication_factor" yaml:"replication_factor"`
	AutoCreate        bool   `mapstructure:"auto_create" yaml:"auto_create"`
}

type ConsumerGroupConfig struct {
	ID          string `mapstructure:"id" yaml:"id"`
	StartOffset string `mapstructure:"start_offset" yaml:"start_offset"`
}

type TLSConfig struct {
	CACert     string `mapstructure:"ca_cert" yaml:"ca_cert"`
	ClientCert string `mapstructure:"client_cert" yaml:"client_cert"`
	ClientKey  string `mapstructure:"client_key" yaml:"client_key"`
	ServerName string `mapstructure:"server_name" yaml:"server_name"`
}

type BackoffConfig struct {
	Exponential *ExponentialBackoffConfig `mapstructure:"exponential" yaml:"exponential"`
	Constant    *ConstantBackoffConfig    `mapstructure:"constant" yaml:"constant"`
}

type ExponentialBackoffConfig struct {
	MaxRetries      int `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval int `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     int `mapstructure:"max_interval" yaml:"max_interval"`
}

type ConstantBackoffConfig struct {
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	Interval   int `mapstructure:"interval" yaml:"interval"`
}

type SourceConfig struct {
	Postgres *PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

type PostgresConfig struct {
	URL   string         `mapstructure:"url" yaml:"url"`
	Retry *BackoffConfig `mapstructure:"retry" yaml:"retry"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
	// ReadTimeout in seconds
	ReadTimeout int `mapstructure:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout in seconds
	WriteTimeout int `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type InstrumentationConfig struct {
	Metrics *MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Traces  *TracesConfig  `mapstructure:"traces" yaml:"traces"`
}

type MetricsConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// CollectionInterval in seconds
	CollectionInterval int `mapstructure:"collection_interval" yaml:"collection_interval"`
}

type TracesConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

const (
	defaultJobsTopic     = "searchsync-jobs"
	defaultConsumerGroup = "searchsync-workers"
)

var (
	errUnknownEngine          = errors.New("index references an undefined engine")
	errMissingIndexEngine     = errors.New("index has no engine")
	errMissingKafkaServers    = errors.New("kafka queue requires at least one server")
	errMissingRedisURL        = errors.New("redis counter store requires a url")
	errMissingPostgresURL     = errors.New("postgres source requires a url")
	errInvalidSampleRatio     = errors.New("trace sample ratio must be between 0 and 1")
	errInvalidBatchSize       = errors.New("sync batch size must not be negative")
	errInvalidWorkerCount     = errors.New("sync worker count must not be negative")
	errInvalidOrphanBatchSize = errors.New("sync orphan batch size must not be negative")
)

func (c *YAMLConfig) toConfig() (*Config, error) {
	catalog, err := c.parseCatalog()
	if err != nil {
		return nil, fmt.Errorf("parsing indexes: %w", err)
	}

	syncCfg, err := c.Sync.parseOrchestratorConfig()
	if err != nil {
		return nil, fmt.Errorf("parsing sync config: %w", err)
	}

	kafkaQueue, err := c.Sync.Queue.Kafka.parseKafkaQueueConfig(syncCfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("parsing kafka queue config: %w", err)
	}

	redisCounter, err := c.Sync.Counter.Redis.parseRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("parsing redis counter config: %w", err)
	}

	source, err := c.Source.Postgres.parsePostgresConfig()
	if err != nil {
		return nil, fmt.Errorf("parsing source config: %w", err)
	}

	otelCfg, err := c.Instrumentation.toOtelConfig()
	if err != nil {
		return nil, fmt.Errorf("parsing instrumentation config: %w", err)
	}

	return &Config{
		Catalog: catalog,
		Sync:    *syncCfg,
		LocalQueue: orchestrator.LocalQueueConfig{
			Workers: c.Sync.Workers,
			Retry:   syncCfg.Retry,
		},
		KafkaQueue:      kafkaQueue,
		RedisCounter:    redisCounter,
		Source:          source,
		Server:          c.Server.parseServerConfig(),
		Instrumentation: otelCfg,
	}, nil
}

func (c *YAMLConfig) parseCatalog() (engine.IndexSet, error) {
	// viper lowercases map keys, engine references are matched the same way
	engines := make(map[string]EngineConfig, len(c.Engines))
	for name, e := range c.Engines {
		engines[strings.ToLower(name)] = e
	}

	indexes := make([]*engine.Index, 0, len(c.Indexes))
	for _, ic := range c.Indexes {
		if ic.Engine == "" {
			return nil, fmt.Errorf("%s: %w", ic.Handle, errMissingIndexEngine)
		}
		e, found := engines[strings.ToLower(ic.Engine)]
		if !found {
			return nil, fmt.Errorf("%s: %w: %q", ic.Handle, errUnknownEngine, ic.Engine)
		}
		kind, err := engine.ParseKind(e.Type)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", ic.Engine, err)
		}
		indexes = append(indexes, &engine.Index{
			Handle:         ic.Handle,
			EngineType:     kind,
			EngineConfig:   engine.Config(e.Config),
			FieldMappings:  ic.FieldMappings,
			Mode:           engine.Mode(ic.Mode),
			SourceCriteria: ic.Source,
		})
	}
	return engine.NewIndexSet(indexes...)
}

func (c *SyncConfig) parseOrchestratorConfig() (*orchestrator.Config, error) {
	switch {
	case c.BatchSize < 0:
		return nil, errInvalidBatchSize
	case c.Workers < 0:
		return nil, errInvalidWorkerCount
	case c.OrphanBatchSize < 0:
		return nil, errInvalidOrphanBatchSize
	}
	return &orchestrator.Config{
		BatchSize:         c.BatchSize,
		OrphanBatchSize:   c.OrphanBatchSize,
		OrphanConcurrency: int64(c.OrphanConcurrency),
		Retry:             c.Retry.parseBackoffConfig(),
	}, nil
}

func (c *KafkaConfig) parseKafkaQueueConfig(retry backoff.Config) (*KafkaQueueConfig, error) {
	if c == nil {
		return nil, nil
	}
	if len(c.Servers) == 0 {
		return nil, errMissingKafkaServers
	}

	topic := c.Topic.Name
	if topic == "" {
		topic = defaultJobsTopic
	}
	conn := kafka.ConnConfig{
		Servers: c.Servers,
		Topic: kafka.TopicConfig{
			Name:              topic,
			NumPartitions:     c.Topic.Partitions,
			ReplicationFactor: c.Topic.ReplicationFactor,
			AutoCreate:        c.Topic.AutoCreate,
		},
		TLS: c.TLS.parseTLSConfig(),
	}
	group := c.ConsumerGroup.ID
	if group == "" {
		group = defaultConsumerGroup
	}

	return &KafkaQueueConfig{
		Writer: kafka.WriterConfig{
			Conn:         conn,
			BatchTimeout: time.Duration(c.BatchTimeout) * time.Millisecond,
		},
		Consumer: kafkaqueue.ConsumerConfig{
			Reader: kafka.ReaderConfig{
				Conn:                     conn,
				ConsumerGroupID:          group,
				ConsumerGroupStartOffset: c.ConsumerGroup.StartOffset,
			},
			Retry: retry,
		},
	}, nil
}

func (c *RedisConfig) parseRedisConfig() (*redis.Config, error) {
	if c == nil {
		return nil, nil
	}
	if c.URL == "" {
		return nil, errMissingRedisURL
	}
	return &redis.Config{
		URL:       c.URL,
		KeyPrefix: c.KeyPrefix,
		LockTTL:   time.Duration(c.LockTTL) * time.Millisecond,
		LockWait:  time.Duration(c.LockWait) * time.Millisecond,
		TLS:       c.TLS.parseTLSConfig(),
	}, nil
}

func (c *PostgresConfig) parsePostgresConfig() (*pgsource.Config, error) {
	if c == nil {
		return nil, nil
	}
	if c.URL == "" {
		return nil, errMissingPostgresURL
	}
	return &pgsource.Config{
		URL:   c.URL,
		Retry: c.Retry.parseBackoffConfig(),
	}, nil
}

func (c *ServerConfig) parseServerConfig() server.Config {
	return server.Config{
		Address:      c.Address,
		ReadTimeout:  time.Duration(c.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(c.WriteTimeout) * time.Second,
	}
}

func (c *InstrumentationConfig) toOtelConfig() (*otel.Config, error) {
	cfg := &otel.Config{}
	if c.Metrics != nil {
		cfg.Metrics = &otel.MetricsConfig{
			Endpoint:           c.Metrics.Endpoint,
			CollectionInterval: time.Duration(c.Metrics.CollectionInterval) * time.Second,
		}
	}
	if c.Traces != nil {
		if c.Traces.SampleRatio < 0 || c.Traces.SampleRatio > 1 {
			return nil, errInvalidSampleRatio
		}
		cfg.Traces = &otel.TracesConfig{
			Endpoint:    c.Traces.Endpoint,
			SampleRatio: c.Traces.SampleRatio,
		}
	}
	return cfg, nil
}

func (t *TLSConfig) parseTLSConfig() tls.Config {
	if t == nil {
		return tls.Config{Enabled: false}
	}
	return tls.Config{
		Enabled:        true,
		CaCertFile:     t.CACert,
		ClientCertFile: t.ClientCert,
		ClientKeyFile:  t.ClientKey,
		ServerName:     t.ServerName,
	}
}

func (bo *BackoffConfig) parseBackoffConfig() backoff.Config {
	if bo == nil {
		return backoff.Config{}
	}
	return backoff.Config{
		Exponential: bo.parseExponentialBackoffConfig(),
		Constant:    bo.parseConstantBackoffConfig(),
	}
}

func (bo *BackoffConfig) parseExponentialBackoffConfig() *backoff.ExponentialConfig {
	if bo.Exponential == nil {
		return nil
	}
	return &backoff.ExponentialConfig{
		InitialInterval: time.Duration(bo.Exponential.InitialInterval) * time.Millisecond,
		MaxInterval:     time.Duration(bo.Exponential.MaxInterval) * time.Millisecond,
		MaxRetries:      uint(bo.Exponential.MaxRetries),
	}
}

func (bo *BackoffConfig) parseConstantBackoffConfig() *backoff.ConstantConfig {
	if bo.Constant == nil {
		return nil
	}
	return &backoff.ConstantConfig{
		Interval:   time.Duration(bo.Constant.Interval) * time.Millisecond,
		MaxRetries: uint(bo.Constant.MaxRetries),
	}
}
