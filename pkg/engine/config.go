// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/xataio/searchsync/internal/json"
)

// Config holds backend specific connection settings. String values may be
// $VAR or ${VAR} placeholders, resolved when an adapter is built.
type Config map[string]any

// ConnectionConfig is the common subset of settings understood by every
// adapter.
type ConnectionConfig struct {
	URL                 string        `mapstructure:"url"`
	APIKey              string        `mapstructure:"api_key"`
	Username            string        `mapstructure:"username"`
	Password            string        `mapstructure:"password"`
	IndexPrefix         string        `mapstructure:"index_prefix"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// IndexName returns the native index name for an index handle.
func (c *ConnectionConfig) IndexName(idx *Index) string {
	return c.IndexPrefix + idx.Handle
}

// Dimensions returns the vector size of an embedding field mapping.
func (c *ConnectionConfig) Dimensions(idx *Index, fm FieldMapping) (int, error) {
	dims := fm.Dimensions
	if dims == 0 {
		dims = c.EmbeddingDimensions
	}
	if dims <= 0 {
		return 0, &SchemaError{
			Index:  idx.Handle,
			Reason: fmt.Sprintf("embedding field %q requires a vector dimension", fm.IndexFieldName),
		}
	}
	return dims, nil
}

// EnvLookup resolves a placeholder name. os.LookupEnv is the default.
type EnvLookup func(string) (string, bool)

var placeholderRegex = regexp.MustCompile(`^\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?$`)

// Resolve returns a copy of the config with every placeholder substituted.
// Unset variables resolve to an empty string.
func (c Config) Resolve(lookup EnvLookup) Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = resolveValue(v, lookup)
	}
	return out
}

func resolveValue(v any, lookup EnvLookup) any {
	switch val := v.(type) {
	case string:
		m := placeholderRegex.FindStringSubmatch(val)
		if m == nil {
			return val
		}
		resolved, _ := lookup(m[1])
		return resolved
	case map[string]any:
		return map[string]any(Config(val).Resolve(lookup))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, lookup)
		}
		return out
	default:
		return v
	}
}

// Hash returns a stable hash of the unresolved config, independent of key
// order.
func (c Config) Hash() uint64 {
	b, err := json.Marshal(c)
	if err != nil {
		return xxhash.Sum64String(fmt.Sprintf("%v", map[string]any(c)))
	}
	return xxhash.Sum64(b)
}

// Decode maps the config onto a typed adapter config.
func (c Config) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Squash:           true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(c)); err != nil {
		return NewValidationError("decoding engine config: %v", err)
	}
	return nil
}
