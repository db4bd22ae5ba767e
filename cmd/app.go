// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/xataio/searchsync/cmd/config"
	"github.com/xataio/searchsync/internal/log/zerolog"
	"github.com/xataio/searchsync/pkg/engine/registry"
	loglib "github.com/xataio/searchsync/pkg/log"
	"github.com/xataio/searchsync/pkg/orchestrator"
	"github.com/xataio/searchsync/pkg/orchestrator/counter/redis"
	kafkaqueue "github.com/xataio/searchsync/pkg/orchestrator/queue/kafka"
	"github.com/xataio/searchsync/pkg/otel"
	"github.com/xataio/searchsync/pkg/query"
	pgsource "github.com/xataio/searchsync/pkg/source/postgres"
)

var (
	errNoSource     = errors.New("no record source configured, set source.postgres.url")
	errNoKafkaQueue = errors.New("no kafka job queue configured, set sync.queue.kafka")
)

// app holds the components shared by the commands.
type app struct {
	logger   loglib.Logger
	config   *config.Config
	provider otel.InstrumentationProvider
	engines  *registry.Factory
}

type appOptions struct {
	dryRun bool
}

type appOption func(*appOptions)

func withDryRun(enabled bool) appOption {
	return func(o *appOptions) {
		o.dryRun = enabled
	}
}

func newApp(opts ...appOption) (*app, error) {
	options := appOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	zl := zerolog.NewLogger(&zerolog.Config{
		LogLevel: viper.GetString("LOG_LEVEL"),
		Format:   viper.GetString("LOG_FORMAT"),
	})
	zerolog.SetGlobalLogger(zl)
	logger := zerolog.NewStdLogger(zl)

	cfg, err := config.Parse()
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	provider, err := newInstrumentationProvider(cfg.Instrumentation)
	if err != nil {
		return nil, err
	}

	factoryOpts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithInstrumentation(provider.NewInstrumentation("search_engine")),
	}
	if options.dryRun {
		factoryOpts = append(factoryOpts, registry.WithDryRun())
		logger.Info("dry run, backends are replaced by in-memory engines")
	}

	return &app{
		logger:   logger,
		config:   cfg,
		provider: provider,
		engines:  registry.NewFactory(factoryOpts...),
	}, nil
}

func (a *app) Close() error {
	return a.provider.Close()
}

func (a *app) queryService() *query.Service {
	return query.NewService(a.config.Catalog, a.engines, query.WithLogger(a.logger))
}

// syncRuntime is an orchestrator along with the stores and queue it was built
// with.
type syncRuntime struct {
	orchestrator *orchestrator.Orchestrator
	// local is set when jobs are processed in process.
	local   *orchestrator.LocalQueue
	closers []func() error
	logger  loglib.Logger
}

type syncOptions struct {
	// forceLocal keeps the jobs in process even when a kafka queue is
	// configured.
	forceLocal bool
	progress   orchestrator.ProgressReporter
}

func (a *app) newSyncRuntime(ctx context.Context, opts syncOptions) (*syncRuntime, error) {
	if a.config.Source == nil {
		return nil, errNoSource
	}

	rt := &syncRuntime{logger: a.logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	source, err := pgsource.New(ctx, a.config.Source, a.provider.NewInstrumentation("record_source"), pgsource.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() error { return source.Close(context.Background()) })
	resolver := pgsource.NewResolver(pgsource.WithResolverLogger(a.logger))

	var counters orchestrator.CounterStore
	switch {
	case a.config.RedisCounter != nil && !opts.forceLocal:
		store, err := redis.New(a.config.RedisCounter)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		counters = store
	default:
		counters = orchestrator.NewMemoryCounterStore()
	}

	var queue orchestrator.Queue
	switch {
	case a.config.KafkaQueue != nil && !opts.forceLocal:
		q, err := kafkaqueue.NewQueue(a.config.KafkaQueue.Writer, kafkaqueue.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, q.Close)
		queue = q
	default:
		rt.local = orchestrator.NewLocalQueue(&a.config.LocalQueue, orchestrator.WithQueueLogger(a.logger))
		rt.closers = append(rt.closers, rt.local.Close)
		queue = rt.local
	}

	orchestratorOpts := []orchestrator.Option{orchestrator.WithLogger(a.logger)}
	if opts.progress != nil {
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithProgressReporter(opts.progress))
	}
	rt.orchestrator = orchestrator.New(&a.config.Sync, a.config.Catalog, a.engines, source, resolver, counters, queue, orchestratorOpts...)

	ok = true
	return rt, nil
}

// Close releases the runtime resources in reverse creation order.
func (rt *syncRuntime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn(err, "closing sync runtime")
		}
	}
}
