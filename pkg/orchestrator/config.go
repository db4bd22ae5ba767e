// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/xataio/searchsync/internal/backoff"
)

type Config struct {
	// BatchSize is the number of records fetched and indexed per batch job.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// OrphanBatchSize is the number of ids removed per delete request during
	// orphan cleanup.
	OrphanBatchSize int `mapstructure:"orphan_batch_size" yaml:"orphan_batch_size"`
	// OrphanConcurrency bounds the delete requests in flight during orphan
	// cleanup.
	OrphanConcurrency int64          `mapstructure:"orphan_concurrency" yaml:"orphan_concurrency"`
	Retry             backoff.Config `mapstructure:"retry" yaml:"retry"`
}

const (
	defaultBatchSize         = 100
	defaultOrphanBatchSize   = 500
	defaultOrphanConcurrency = 4
)

func (c *Config) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return defaultBatchSize
}

func (c *Config) orphanBatchSize() int {
	if c.OrphanBatchSize > 0 {
		return c.OrphanBatchSize
	}
	return defaultOrphanBatchSize
}

func (c *Config) orphanConcurrency() int64 {
	if c.OrphanConcurrency > 0 {
		return c.OrphanConcurrency
	}
	return defaultOrphanConcurrency
}
