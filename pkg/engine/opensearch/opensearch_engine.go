// SPDX-License-Identifier: Apache-2.0

package opensearch

import (
	"fmt"

	"github.com/xataio/searchsync/internal/searchstore"
	osstore "github.com/xataio/searchsync/internal/searchstore/opensearch"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/searchbase"
)

type Config struct {
	engine.ConnectionConfig `mapstructure:",squash"`
}

// New builds an OpenSearch engine out of a resolved engine config.
func New(cfg engine.Config, opts ...searchbase.Option) (*searchbase.Engine, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.URL == "" {
		return nil, engine.NewValidationError("opensearch: url is required")
	}

	client, err := osstore.NewClient(&osstore.Config{
		URL:      c.URL,
		APIKey:   c.APIKey,
		Username: c.Username,
		Password: c.Password,
		Timeout:  c.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch: %w", err)
	}
	return NewWithClient(client, &c.ConnectionConfig, opts...), nil
}

func NewWithClient(client searchstore.Client, cfg *engine.ConnectionConfig, opts ...searchbase.Option) *searchbase.Engine {
	return searchbase.New(engine.KindOpenSearch, client, cfg, KNNClause, opts...)
}

// KNNClause builds a k-NN plugin query clause over a knn_vector field.
func KNNClause(field string, vector []float32, k int) searchstore.Condition {
	return searchstore.Condition{KNN: map[string]searchstore.OSKNNQuery{
		field: {Vector: vector, K: k},
	}}
}
