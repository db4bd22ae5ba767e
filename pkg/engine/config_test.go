// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_Resolve(t *testing.T) {
	t.Parallel()

	env := map[string]string{"ES_URL": "http://es:9200", "ES_KEY": "secret"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Config{
		"url":     "$ES_URL",
		"api_key": "${ES_KEY}",
		"nested":  map[string]any{"password": "$MISSING"},
		"hosts":   []any{"$ES_URL", "literal"},
		"prefix":  "dev_$ES_URL",
		"timeout": 5,
	}

	resolved := cfg.Resolve(lookup)
	require.Equal(t, Config{
		"url":     "http://es:9200",
		"api_key": "secret",
		"nested":  map[string]any{"password": ""},
		"hosts":   []any{"http://es:9200", "literal"},
		"prefix":  "dev_$ES_URL",
		"timeout": 5,
	}, resolved)
	// the original config keeps its placeholders
	require.Equal(t, "$ES_URL", cfg["url"])
}

func TestConfig_Hash(t *testing.T) {
	t.Parallel()

	a := Config{"url": "x", "api_key": "y"}
	b := Config{"api_key": "y", "url": "x"}
	c := Config{"api_key": "z", "url": "x"}

	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Hash(), c.Hash())
}

func TestConfig_Decode(t *testing.T) {
	t.Parallel()

	type adapterConfig struct {
		ConnectionConfig `mapstructure:",squash"`
		AppID            string `mapstructure:"app_id"`
	}

	var cfg adapterConfig
	err := Config{
		"url":                  "http://localhost",
		"app_id":               "app",
		"index_prefix":         "dev_",
		"embedding_dimensions": "384",
		"timeout":              "2s",
	}.Decode(&cfg)
	require.NoError(t, err)
	require.Equal(t, adapterConfig{
		ConnectionConfig: ConnectionConfig{
			URL:                 "http://localhost",
			IndexPrefix:         "dev_",
			EmbeddingDimensions: 384,
			Timeout:             2 * time.Second,
		},
		AppID: "app",
	}, cfg)
	require.Equal(t, "dev_products", cfg.IndexName(&Index{Handle: "products"}))

	err = Config{"embedding_dimensions": "many"}.Decode(&cfg)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
}

func TestConnectionConfig_Dimensions(t *testing.T) {
	t.Parallel()

	idx := &Index{Handle: "products"}
	cfg := &ConnectionConfig{}

	_, err := cfg.Dimensions(idx, FieldMapping{IndexFieldName: "vec"})
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	require.False(t, IsTransient(err))

	dims, err := cfg.Dimensions(idx, FieldMapping{IndexFieldName: "vec", Dimensions: 3})
	require.NoError(t, err)
	require.Equal(t, 3, dims)

	cfg.EmbeddingDimensions = 768
	dims, err = cfg.Dimensions(idx, FieldMapping{IndexFieldName: "vec"})
	require.NoError(t, err)
	require.Equal(t, 768, dims)
}
