// SPDX-License-Identifier: Apache-2.0

package elasticsearch

import (
	"fmt"

	"github.com/xataio/searchsync/internal/searchstore"
	esstore "github.com/xataio/searchsync/internal/searchstore/elasticsearch"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/searchbase"
)

type Config struct {
	engine.ConnectionConfig `mapstructure:",squash"`
}

// New builds an Elasticsearch engine out of a resolved engine config.
func New(cfg engine.Config, opts ...searchbase.Option) (*searchbase.Engine, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.URL == "" {
		return nil, engine.NewValidationError("elasticsearch: url is required")
	}

	client, err := esstore.NewClient(&esstore.Config{
		URL:      c.URL,
		APIKey:   c.APIKey,
		Username: c.Username,
		Password: c.Password,
		Timeout:  c.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: %w", err)
	}
	return NewWithClient(client, &c.ConnectionConfig, opts...), nil
}

func NewWithClient(client searchstore.Client, cfg *engine.ConnectionConfig, opts ...searchbase.Option) *searchbase.Engine {
	return searchbase.New(engine.KindElasticsearch, client, cfg, KNNClause, opts...)
}

// KNNClause builds an approximate kNN query clause over a dense_vector field.
func KNNClause(field string, vector []float32, k int) searchstore.Condition {
	return searchstore.Condition{KNN: searchstore.ESKNNQuery{
		Field:         field,
		QueryVector:   vector,
		K:             k,
		NumCandidates: max(k*10, 100),
	}}
}
