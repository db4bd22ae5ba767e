// SPDX-License-Identifier: Apache-2.0

package kafka

import tlslib "github.com/xataio/searchsync/pkg/tls"

type ConnConfig struct {
	Servers []string      `mapstructure:"servers" yaml:"servers"`
	Topic   TopicConfig   `mapstructure:"topic" yaml:"topic"`
	TLS     tlslib.Config `mapstructure:"tls" yaml:"tls"`
}

type TopicConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Number of partitions to be created for the topic. Defaults to 1.
	NumPartitions int `mapstructure:"num_partitions" yaml:"num_partitions"`
	// Replication factor for the topic. Defaults to 1.
	ReplicationFactor int `mapstructure:"replication_factor" yaml:"replication_factor"`
	// AutoCreate defines if the topic should be created if it doesn't exist.
	// Defaults to false.
	AutoCreate bool `mapstructure:"auto_create" yaml:"auto_create"`
}

const (
	defaultNumPartitions     = 1
	defaultReplicationFactor = 1
)

func (c *TopicConfig) numPartitions() int {
	if c.NumPartitions > 0 {
		return c.NumPartitions
	}
	return defaultNumPartitions
}

func (c *TopicConfig) replicationFactor() int {
	if c.ReplicationFactor > 0 {
		return c.ReplicationFactor
	}
	return defaultReplicationFactor
}
