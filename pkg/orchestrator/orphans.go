// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	synclib "github.com/xataio/searchsync/internal/sync"
	"github.com/xataio/searchsync/pkg/engine/registry"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// OrphanReport summarises an orphan cleanup.
type OrphanReport struct {
	Indexed int
	Live    int
	Deleted int
}

// CleanupOrphans removes from the index the documents whose record is no
// longer live.
func (o *Orchestrator) CleanupOrphans(ctx context.Context, handle string) (*OrphanReport, error) {
	scope := o.engines.NewScope()
	defer scope.Close()
	return o.cleanupOrphans(ctx, scope, newRunID(), handle)
}

func (o *Orchestrator) cleanupOrphans(ctx context.Context, scope *registry.Scope, runID, handle string) (*OrphanReport, error) {
	idx, err := o.writableIndex(handle)
	if err != nil {
		return nil, err
	}
	eng, err := scope.Engine(idx)
	if err != nil {
		return nil, err
	}
	o.report(ctx, Progress{RunID: runID, IndexHandle: handle, Step: StepOrphans})

	indexed, err := eng.GetAllDocumentIDs(ctx, idx)
	if err != nil {
		return nil, fmt.Errorf("listing documents of %s: %w", handle, err)
	}
	live, err := o.source.IDs(ctx, Criteria(idx.SourceCriteria))
	if err != nil {
		return nil, fmt.Errorf("listing live records: %w", err)
	}
	liveSet := make(map[string]struct{}, len(live))
	for _, id := range live {
		liveSet[id] = struct{}{}
	}
	orphans := make([]string, 0)
	for _, id := range indexed {
		if _, found := liveSet[id]; !found {
			orphans = append(orphans, id)
		}
	}

	report := &OrphanReport{Indexed: len(indexed), Live: len(live)}
	logFields := loglib.Fields{
		loglib.RunIDField: runID,
		loglib.IndexField: handle,
		"orphans":         len(orphans),
	}
	if len(orphans) == 0 {
		o.logger.Info("no orphans found", logFields)
		o.report(ctx, Progress{RunID: runID, IndexHandle: handle, Step: StepOrphans, Fraction: 1})
		return report, nil
	}

	sem := synclib.NewWeightedSemaphore(o.orphanConcurrency)
	eg, egCtx := errgroup.WithContext(ctx)
	var deleted atomic.Int64
	for batch := range slices.Chunk(orphans, o.orphanBatchSize) {
		if err := sem.Acquire(egCtx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			if err := eng.DeleteDocuments(egCtx, idx, batch); err != nil {
				return fmt.Errorf("deleting orphans of %s: %w", handle, err)
			}
			done := deleted.Add(int64(len(batch)))
			o.report(ctx, Progress{
				RunID:       runID,
				IndexHandle: handle,
				Step:        StepOrphans,
				Fraction:    fraction(int(done), len(orphans)),
			})
			return nil
		})
	}
	err = eg.Wait()
	report.Deleted = int(deleted.Load())
	if err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	o.logger.Info("orphans deleted", logFields)
	return report, nil
}
