// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"

	synclib "github.com/xataio/searchsync/internal/sync"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/algolia"
	"github.com/xataio/searchsync/pkg/engine/elasticsearch"
	"github.com/xataio/searchsync/pkg/engine/instrumentation"
	"github.com/xataio/searchsync/pkg/engine/meilisearch"
	"github.com/xataio/searchsync/pkg/engine/memory"
	"github.com/xataio/searchsync/pkg/engine/opensearch"
	"github.com/xataio/searchsync/pkg/engine/searchbase"
	"github.com/xataio/searchsync/pkg/engine/typesense"
	loglib "github.com/xataio/searchsync/pkg/log"
	"github.com/xataio/searchsync/pkg/otel"
)

// Constructor builds an engine out of a resolved connection config.
type Constructor func(cfg engine.Config, logger loglib.Logger) (engine.Engine, error)

// Factory maps every engine kind to its constructor.
type Factory struct {
	logger          loglib.Logger
	instrumentation *otel.Instrumentation
	lookup          engine.EnvLookup
	constructors    map[engine.Kind]Constructor
}

type Option func(*Factory)

func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		logger: loglib.NewNoopLogger(),
		constructors: map[engine.Kind]Constructor{
			engine.KindAlgolia: func(cfg engine.Config, l loglib.Logger) (engine.Engine, error) {
				return algolia.New(cfg, algolia.WithLogger(l))
			},
			engine.KindMeilisearch: func(cfg engine.Config, l loglib.Logger) (engine.Engine, error) {
				return meilisearch.New(cfg, meilisearch.WithLogger(l))
			},
			engine.KindTypesense: func(cfg engine.Config, l loglib.Logger) (engine.Engine, error) {
				return typesense.New(cfg, typesense.WithLogger(l))
			},
			engine.KindElasticsearch: func(cfg engine.Config, l loglib.Logger) (engine.Engine, error) {
				return elasticsearch.New(cfg, searchbase.WithLogger(l))
			},
			engine.KindOpenSearch: func(cfg engine.Config, l loglib.Logger) (engine.Engine, error) {
				return opensearch.New(cfg, searchbase.WithLogger(l))
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func WithLogger(l loglib.Logger) Option {
	return func(f *Factory) {
		f.logger = loglib.NewModuleLogger(l, "engine_registry")
	}
}

func WithInstrumentation(i *otel.Instrumentation) Option {
	return func(f *Factory) {
		f.instrumentation = i
	}
}

// WithEnvLookup overrides the environment used to resolve config
// placeholders.
func WithEnvLookup(lookup engine.EnvLookup) Option {
	return func(f *Factory) {
		f.lookup = lookup
	}
}

func WithConstructor(kind engine.Kind, c Constructor) Option {
	return func(f *Factory) {
		f.constructors[kind] = c
	}
}

// WithDryRun replaces every backend with an in-memory engine standing in for
// it, so that no backend is ever contacted. Indexes sharing a connection share
// one in-memory engine for the lifetime of the factory.
func WithDryRun() Option {
	return func(f *Factory) {
		shared := synclib.NewMap[scopeKey, engine.Engine]()
		for _, kind := range engine.Kinds() {
			f.constructors[kind] = func(cfg engine.Config, l loglib.Logger) (engine.Engine, error) {
				return shared.GetOrCreate(scopeKey{kind: kind, hash: cfg.Hash()}, func() (engine.Engine, error) {
					return memory.New(cfg, memory.WithKind(kind), memory.WithLogger(l))
				})
			}
		}
	}
}

// Build constructs a new engine for the index, resolving the config
// placeholders against the environment.
func (f *Factory) Build(idx *engine.Index) (engine.Engine, error) {
	kind, err := engine.ParseKind(string(idx.EngineType))
	if err != nil {
		return nil, err
	}
	constructor, found := f.constructors[kind]
	if !found {
		return nil, engine.NewValidationError("no constructor registered for engine type %q", kind)
	}

	e, err := constructor(idx.EngineConfig.Resolve(f.lookup), f.logger)
	if err != nil {
		return nil, fmt.Errorf("building %s engine: %w", kind, err)
	}
	f.logger.Debug("search engine built", loglib.Fields{loglib.EngineField: string(kind), loglib.IndexField: idx.Handle})
	return instrumentation.NewEngine(e, f.instrumentation)
}

// NewScope returns an engine cache for the duration of one request or job.
func (f *Factory) NewScope() *Scope {
	return &Scope{
		factory: f,
		engines: synclib.NewMap[scopeKey, engine.Engine](),
	}
}

// Scope caches the engines built for one request, keyed by engine kind and
// config hash, so indexes sharing a connection share one client.
type Scope struct {
	factory *Factory
	engines *synclib.Map[scopeKey, engine.Engine]
}

type scopeKey struct {
	kind engine.Kind
	hash uint64
}

func (s *Scope) Engine(idx *engine.Index) (engine.Engine, error) {
	if idx == nil {
		return nil, engine.NewValidationError("index is nil")
	}
	key := scopeKey{kind: idx.EngineType, hash: idx.EngineConfig.Hash()}
	return s.engines.GetOrCreate(key, func() (engine.Engine, error) {
		return s.factory.Build(idx)
	})
}

// Len returns the number of cached engines.
func (s *Scope) Len() int {
	return s.engines.Len()
}

// Close drops every cached engine.
func (s *Scope) Close() {
	for key := range s.engines.GetMap() {
		s.engines.Delete(key)
	}
}
