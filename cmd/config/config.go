// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/xataio/searchsync/internal/kafka"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/orchestrator"
	"github.com/xataio/searchsync/pkg/orchestrator/counter/redis"
	kafkaqueue "github.com/xataio/searchsync/pkg/orchestrator/queue/kafka"
	"github.com/xataio/searchsync/pkg/otel"
	"github.com/xataio/searchsync/pkg/server"
	pgsource "github.com/xataio/searchsync/pkg/source/postgres"
)

// Config is the configuration of every searchsync component, parsed out of
// the yaml config file and the environment.
type Config struct {
	Catalog    engine.IndexSet
	Sync       orchestrator.Config
	LocalQueue orchestrator.LocalQueueConfig
	// KafkaQueue is set when jobs are dispatched through kafka instead of the
	// in-process queue.
	KafkaQueue *KafkaQueueConfig
	// RedisCounter is set when swap counters are shared through redis instead
	// of kept in process memory.
	RedisCounter    *redis.Config
	Source          *pgsource.Config
	Server          server.Config
	Instrumentation *otel.Config
}

type KafkaQueueConfig struct {
	Writer   kafka.WriterConfig
	Consumer kafkaqueue.ConsumerConfig
}

func Load() error {
	return LoadFile(viper.GetString("config"))
}

func LoadFile(file string) error {
	if file == "" {
		return nil
	}
	viper.SetConfigFile(file)
	viper.SetConfigType(filepath.Ext(file)[1:])
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Parse decodes the loaded configuration, applies the SEARCHSYNC_*
// environment overrides and validates the result.
func Parse() (*Config, error) {
	yamlCfg := YAMLConfig{}
	if err := viper.Unmarshal(&yamlCfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := applyEnvOverrides(&yamlCfg, viper.GetString); err != nil {
		return nil, err
	}
	return yamlCfg.toConfig()
}
