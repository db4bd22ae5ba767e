// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xataio/searchsync/internal/backoff"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/registry"
	loglib "github.com/xataio/searchsync/pkg/log"
)

const (
	tempSuffixA = "_a"
	tempSuffixB = "_b"
)

type RefreshOptions struct {
	// Force drops the swap counter left behind by an interrupted refresh.
	Force bool
}

// RefreshPlan describes the jobs a refresh dispatched.
type RefreshPlan struct {
	RunID       string
	IndexHandle string
	// TargetName is the index the batches write to, the temporary index when
	// Swap is set.
	TargetName string
	Swap       bool
	Total      int
	Batches    int
}

// Refresh rebuilds the index from the live records. Backends able to swap
// indexes atomically are rebuilt into a temporary index swapped in once every
// batch is done. Others are rebuilt in place, followed by an orphan cleanup.
// Refresh returns once the jobs are enqueued.
func (o *Orchestrator) Refresh(ctx context.Context, handle string, opts RefreshOptions) (*RefreshPlan, error) {
	idx, err := o.writableIndex(handle)
	if err != nil {
		return nil, err
	}

	scope := o.engines.NewScope()
	defer scope.Close()
	eng, err := scope.Engine(idx)
	if err != nil {
		return nil, err
	}

	plan := &RefreshPlan{
		RunID:       newRunID(),
		IndexHandle: idx.Handle,
		TargetName:  idx.Handle,
		Swap:        eng.SupportsAtomicSwap(),
	}
	logFields := loglib.Fields{
		loglib.RunIDField:  plan.RunID,
		loglib.IndexField:  idx.Handle,
		loglib.EngineField: string(eng.Kind()),
	}
	o.logger.Info("refresh started", loglib.MergeFields(logFields, loglib.Fields{"atomic_swap": plan.Swap}))
	o.report(ctx, Progress{RunID: plan.RunID, IndexHandle: idx.Handle, Step: StepPlanning})

	if plan.Swap {
		if opts.Force {
			if err := o.counters.Delete(ctx, idx.Handle); err != nil {
				return nil, fmt.Errorf("dropping swap counter: %w", err)
			}
		}
		if plan.TargetName, err = o.tempName(ctx, eng, idx); err != nil {
			return nil, err
		}
	}

	plan.Total, err = o.source.Count(ctx, Criteria(idx.SourceCriteria))
	if err != nil {
		return nil, fmt.Errorf("counting live records: %w", err)
	}
	plan.Batches = (plan.Total + o.batchSize - 1) / o.batchSize
	o.logger.Info("refresh planned", loglib.MergeFields(logFields, loglib.Fields{
		"target":  plan.TargetName,
		"total":   plan.Total,
		"batches": plan.Batches,
	}))

	if plan.Swap {
		err = o.planSwapRefresh(ctx, eng, idx, plan)
	} else {
		err = o.planInPlaceRefresh(ctx, eng, idx, plan)
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// planSwapRefresh claims the swap counter before the temporary index is
// touched, so that a refresh started while another one runs fails without
// wiping the batches already written.
func (o *Orchestrator) planSwapRefresh(ctx context.Context, eng engine.Engine, idx *engine.Index, plan *RefreshPlan) error {
	counter := SwapCounter{
		Remaining:   plan.Batches,
		Total:       plan.Batches,
		IndexHandle: plan.IndexHandle,
		TempName:    plan.TargetName,
		RunID:       plan.RunID,
	}
	if err := o.counters.Create(ctx, plan.IndexHandle, counter); err != nil {
		return err
	}

	err := o.recreateIndex(ctx, eng, idx.WithHandle(plan.TargetName))
	switch {
	case err != nil:
	case plan.Batches == 0:
		// nothing to index, swap the empty index in straight away
		err = o.queue.Enqueue(ctx, NewAtomicSwapJob(AtomicSwap{
			RunID:       plan.RunID,
			IndexHandle: plan.IndexHandle,
			TempName:    plan.TargetName,
		}))
	default:
		if err = o.enqueueBatches(ctx, plan); err == nil {
			return nil
		}
	}

	// past this point no batch counts the counter down
	if delErr := o.counters.Delete(ctx, plan.IndexHandle); delErr != nil {
		return errors.Join(err, delErr)
	}
	return err
}

// planInPlaceRefresh rebuilds the live index itself. Searches see a partial
// index until every batch is done.
func (o *Orchestrator) planInPlaceRefresh(ctx context.Context, eng engine.Engine, idx *engine.Index, plan *RefreshPlan) error {
	if err := o.recreateIndex(ctx, eng, idx); err != nil {
		return err
	}
	if err := o.enqueueBatches(ctx, plan); err != nil {
		return err
	}
	return o.queue.Enqueue(ctx, NewOrphanCleanupJob(OrphanCleanup{
		RunID:       plan.RunID,
		IndexHandle: plan.IndexHandle,
	}))
}

func (o *Orchestrator) enqueueBatches(ctx context.Context, plan *RefreshPlan) error {
	for i := range plan.Batches {
		job := NewIndexBatchJob(IndexBatch{
			RunID:       plan.RunID,
			IndexHandle: plan.IndexHandle,
			TargetName:  plan.TargetName,
			Offset:      i * o.batchSize,
			Limit:       o.batchSize,
			Batch:       i,
			Batches:     plan.Batches,
			Swap:        plan.Swap,
		})
		if err := o.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueuing batch %d/%d: %w", i+1, plan.Batches, err)
		}
	}
	return nil
}

// tempName alternates between two temporary names, so that the temporary
// index never collides with the one currently serving reads behind an alias.
func (o *Orchestrator) tempName(ctx context.Context, eng engine.Engine, idx *engine.Index) (string, error) {
	if resolver, ok := eng.(engine.LiveTargetResolver); ok {
		target, err := resolver.LiveTarget(ctx, idx)
		if err != nil {
			return "", fmt.Errorf("resolving live target of %s: %w", idx.Handle, err)
		}
		if target == idx.Handle+tempSuffixA {
			return idx.Handle + tempSuffixB, nil
		}
	}
	return idx.Handle + tempSuffixA, nil
}

func (o *Orchestrator) recreateIndex(ctx context.Context, eng engine.Engine, idx *engine.Index) error {
	if err := eng.DeleteIndex(ctx, idx); err != nil {
		return fmt.Errorf("deleting index %s: %w", idx.Handle, err)
	}
	if err := eng.CreateIndex(ctx, idx); err != nil {
		return fmt.Errorf("creating index %s: %w", idx.Handle, err)
	}
	return nil
}

func (o *Orchestrator) handleIndexBatch(ctx context.Context, scope *registry.Scope, b *IndexBatch) error {
	idx, err := o.writableIndex(b.IndexHandle)
	if err != nil {
		return err
	}
	eng, err := scope.Engine(idx)
	if err != nil {
		return err
	}
	logFields := loglib.Fields{
		loglib.RunIDField: b.RunID,
		loglib.IndexField: b.TargetName,
		"batch":           b.Batch,
		"offset":          b.Offset,
	}

	records, err := o.source.Fetch(ctx, Criteria(idx.SourceCriteria), b.Offset, b.Limit)
	if err != nil {
		return fmt.Errorf("fetching records: %w", err)
	}
	docs := make([]engine.Document, 0, len(records))
	for _, record := range records {
		doc, err := o.resolver.Resolve(ctx, record, idx)
		if err != nil {
			// a record that cannot be resolved must not hold the rest of the
			// batch back
			o.logger.Error(err, "resolving record", logFields)
			continue
		}
		docs = append(docs, doc)
	}

	if err := o.indexDocuments(ctx, eng, idx.WithHandle(b.TargetName), docs); err != nil {
		return err
	}
	o.logger.Debug("batch indexed", loglib.MergeFields(logFields, loglib.Fields{"documents": len(docs)}))

	if b.Swap {
		return o.completeSwapBatch(ctx, b)
	}

	var done int
	_ = o.completed.Update(b.RunID, func(current int, _ bool) (int, bool, error) {
		done = current + 1
		return done, done < b.Batches, nil
	})
	o.report(ctx, Progress{RunID: b.RunID, IndexHandle: b.IndexHandle, Step: StepIndexing, Fraction: fraction(done, b.Batches)})
	return nil
}

// indexDocuments writes the documents, retrying the subset the backend
// rejected with a retriable status. Documents rejected for good are logged
// and do not fail the batch.
func (o *Orchestrator) indexDocuments(ctx context.Context, eng engine.Engine, idx *engine.Index, docs []engine.Document) error {
	if len(docs) == 0 {
		return nil
	}

	pending := docs
	var rejected []engine.DocumentFailure
	err := o.backoffProvider(ctx).RetryNotify(func() error {
		err := eng.IndexDocuments(ctx, idx, pending)
		if err == nil {
			return nil
		}

		var bulkErr *engine.BulkError
		if !errors.As(err, &bulkErr) {
			if engine.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		retriable := map[string]struct{}{}
		for _, f := range bulkErr.Failures {
			if f.Retriable {
				retriable[f.ObjectID] = struct{}{}
				continue
			}
			rejected = append(rejected, f)
		}
		if len(retriable) == 0 {
			return nil
		}
		next := make([]engine.Document, 0, len(retriable))
		for _, doc := range pending {
			if id, err := doc.ObjectID(); err == nil {
				if _, found := retriable[id]; found {
					next = append(next, doc)
				}
			}
		}
		pending = next
		return err
	}, func(err error, d time.Duration) {
		o.logger.Warn(err, "indexing documents, retrying", loglib.Fields{
			loglib.IndexField: idx.Handle,
			"documents":       len(pending),
			"backoff":         d,
		})
	})

	if len(rejected) > 0 {
		o.logger.Error(&engine.BulkError{Index: idx.Handle, Total: len(docs), Failures: rejected}, "documents rejected", loglib.Fields{
			loglib.IndexField: idx.Handle,
		})
	}
	if err != nil {
		return fmt.Errorf("indexing documents into %s: %w", idx.Handle, err)
	}
	return nil
}

// completeSwapBatch counts the batch down. The batch bringing the counter to
// zero enqueues the swap. If that fails the counter is restored so that a
// retry of the batch enqueues it again.
func (o *Orchestrator) completeSwapBatch(ctx context.Context, b *IndexBatch) error {
	counter, reachedZero, err := o.counters.Decrement(ctx, b.IndexHandle, b.RunID)
	if err != nil {
		return fmt.Errorf("counting down batch %d of %s: %w", b.Batch, b.IndexHandle, err)
	}
	o.report(ctx, Progress{
		RunID:       b.RunID,
		IndexHandle: b.IndexHandle,
		Step:        StepIndexing,
		Fraction:    fraction(counter.Total-counter.Remaining, counter.Total),
	})
	if !reachedZero {
		return nil
	}

	job := NewAtomicSwapJob(AtomicSwap{
		RunID:       counter.RunID,
		IndexHandle: b.IndexHandle,
		TempName:    counter.TempName,
	})
	if err := o.queue.Enqueue(ctx, job); err != nil {
		counter.Remaining = 1
		if restoreErr := o.counters.Restore(ctx, b.IndexHandle, counter); restoreErr != nil {
			return backoff.Permanent(errors.Join(fmt.Errorf("enqueuing swap of %s: %w", b.IndexHandle, err), restoreErr))
		}
		return fmt.Errorf("enqueuing swap of %s: %w", b.IndexHandle, err)
	}
	o.logger.Info("all batches indexed, swap enqueued", loglib.Fields{
		loglib.RunIDField: counter.RunID,
		loglib.IndexField: b.IndexHandle,
	})
	return nil
}

// handleAtomicSwap swaps the temporary index in and removes the stale one.
// Once the swap went through, failures are not retried, since retrying would
// swap the indexes back.
func (o *Orchestrator) handleAtomicSwap(ctx context.Context, scope *registry.Scope, s *AtomicSwap) error {
	idx, err := o.writableIndex(s.IndexHandle)
	if err != nil {
		return err
	}
	eng, err := scope.Engine(idx)
	if err != nil {
		return err
	}
	logFields := loglib.Fields{
		loglib.RunIDField: s.RunID,
		loglib.IndexField: idx.Handle,
		"temp":            s.TempName,
	}

	o.report(ctx, Progress{RunID: s.RunID, IndexHandle: idx.Handle, Step: StepSwap})
	stale, err := eng.SwapIndex(ctx, idx, idx.WithHandle(s.TempName))
	if err != nil {
		return fmt.Errorf("swapping %s into %s: %w", s.TempName, idx.Handle, err)
	}
	o.logger.Info("index swapped", logFields)
	o.report(ctx, Progress{RunID: s.RunID, IndexHandle: idx.Handle, Step: StepSwap, Fraction: 1})

	var errs []error
	if stale != nil {
		if err := eng.DeleteIndex(ctx, stale); err != nil {
			errs = append(errs, fmt.Errorf("deleting stale index %s: %w", stale.Handle, err))
		} else {
			o.logger.Debug("stale index deleted", loglib.MergeFields(logFields, loglib.Fields{"stale": stale.Handle}))
		}
	}
	if err := o.queue.Enqueue(ctx, NewOrphanCleanupJob(OrphanCleanup{RunID: s.RunID, IndexHandle: idx.Handle})); err != nil {
		errs = append(errs, fmt.Errorf("enqueuing orphan cleanup of %s: %w", idx.Handle, err))
	}
	return backoff.Permanent(errors.Join(errs...))
}
