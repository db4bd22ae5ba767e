// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"

	"github.com/xataio/searchsync/internal/backoff"
	synclib "github.com/xataio/searchsync/internal/sync"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/registry"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// Orchestrator keeps the search indexes in sync with the system of record.
// It plans full refreshes into batch jobs and handles the jobs dispatched by
// the queue.
type Orchestrator struct {
	logger          loglib.Logger
	catalog         engine.Catalog
	engines         *registry.Factory
	source          Source
	resolver        Resolver
	counters        CounterStore
	queue           Queue
	progress        ProgressReporter
	backoffProvider backoff.Provider

	batchSize         int
	orphanBatchSize   int
	orphanConcurrency int64

	// completed tracks the batches done per run for refreshes without a swap
	// counter. It only feeds progress reporting.
	completed *synclib.Map[string, int]
}

type Option func(*Orchestrator)

var _ Handler = (*Orchestrator)(nil)

func New(cfg *Config, catalog engine.Catalog, engines *registry.Factory, source Source, resolver Resolver, counters CounterStore, queue Queue, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:            loglib.NewNoopLogger(),
		catalog:           catalog,
		engines:           engines,
		source:            source,
		resolver:          resolver,
		counters:          counters,
		queue:             queue,
		progress:          noopProgressReporter{},
		backoffProvider:   backoff.NewProvider(&cfg.Retry),
		batchSize:         cfg.batchSize(),
		orphanBatchSize:   cfg.orphanBatchSize(),
		orphanConcurrency: cfg.orphanConcurrency(),
		completed:         synclib.NewMap[string, int](),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithLogger(l loglib.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = loglib.NewModuleLogger(l, "sync_orchestrator")
	}
}

func WithProgressReporter(p ProgressReporter) Option {
	return func(o *Orchestrator) {
		o.progress = p
	}
}

func WithBackoffProvider(p backoff.Provider) Option {
	return func(o *Orchestrator) {
		o.backoffProvider = p
	}
}

// Handle processes a job dispatched by the queue.
func (o *Orchestrator) Handle(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	scope := o.engines.NewScope()
	defer scope.Close()

	switch job.Kind {
	case JobIndexBatch:
		return o.handleIndexBatch(ctx, scope, job.IndexBatch)
	case JobAtomicSwap:
		return o.handleAtomicSwap(ctx, scope, job.AtomicSwap)
	case JobOrphanCleanup:
		_, err := o.cleanupOrphans(ctx, scope, job.OrphanCleanup.RunID, job.OrphanCleanup.IndexHandle)
		return err
	case JobSyncDocument:
		return o.syncDocument(ctx, scope, job.SyncDocument)
	default:
		return engine.NewValidationError("unsupported job kind %q", job.Kind)
	}
}

// SyncDocument brings one document of the index in line with its record.
// Failures are returned to the caller.
func (o *Orchestrator) SyncDocument(ctx context.Context, s SyncDocument) error {
	scope := o.engines.NewScope()
	defer scope.Close()
	return o.syncDocument(ctx, scope, &s)
}

func (o *Orchestrator) syncDocument(ctx context.Context, scope *registry.Scope, s *SyncDocument) error {
	idx, err := o.writableIndex(s.IndexHandle)
	if err != nil {
		return err
	}
	eng, err := scope.Engine(idx)
	if err != nil {
		return err
	}

	logFields := loglib.Fields{loglib.IndexField: idx.Handle, "source_id": s.SourceID}
	if s.Delete {
		if err := eng.DeleteDocument(ctx, idx, s.SourceID); err != nil {
			return fmt.Errorf("deleting document %s from %s: %w", s.SourceID, idx.Handle, err)
		}
		o.logger.Debug("document deleted", logFields)
		return nil
	}

	record, err := o.source.Get(ctx, Criteria(idx.SourceCriteria), s.SourceID)
	if err != nil {
		return fmt.Errorf("fetching record %s: %w", s.SourceID, err)
	}
	if record == nil {
		if err := eng.DeleteDocument(ctx, idx, s.SourceID); err != nil {
			return fmt.Errorf("deleting document %s from %s: %w", s.SourceID, idx.Handle, err)
		}
		o.logger.Debug("record no longer live, document deleted", logFields)
		return nil
	}

	doc, err := o.resolver.Resolve(ctx, record, idx)
	if err != nil {
		return fmt.Errorf("resolving record %s: %w", s.SourceID, err)
	}
	id, err := doc.ObjectID()
	if err != nil {
		return err
	}
	if err := eng.IndexDocument(ctx, idx, id, doc); err != nil {
		return fmt.Errorf("indexing document %s into %s: %w", id, idx.Handle, err)
	}
	o.logger.Debug("document synced", logFields)
	return nil
}

func (o *Orchestrator) index(handle string) (*engine.Index, error) {
	idx, found := o.catalog.Index(handle)
	if !found {
		return nil, fmt.Errorf("%w: %s", engine.ErrIndexNotFound, handle)
	}
	return idx, nil
}

func (o *Orchestrator) writableIndex(handle string) (*engine.Index, error) {
	idx, err := o.index(handle)
	if err != nil {
		return nil, err
	}
	if idx.IsReadonly() {
		return nil, fmt.Errorf("%w: %w", engine.ErrReadonlyIndex, engine.NewValidationError("index %s is readonly", handle))
	}
	return idx, nil
}

func (o *Orchestrator) report(ctx context.Context, p Progress) {
	o.progress.Report(ctx, p)
}
