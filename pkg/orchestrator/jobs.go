// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/xataio/searchsync/pkg/engine"
)

type JobKind string

const (
	JobIndexBatch    JobKind = "index_batch"
	JobAtomicSwap    JobKind = "atomic_swap"
	JobOrphanCleanup JobKind = "orphan_cleanup"
	JobSyncDocument  JobKind = "sync_document"
)

// Job is the unit of work dispatched to a queue. Exactly one payload matching
// the kind is set.
type Job struct {
	ID            string         `json:"id"`
	Kind          JobKind        `json:"kind"`
	IndexBatch    *IndexBatch    `json:"indexBatch,omitempty"`
	AtomicSwap    *AtomicSwap    `json:"atomicSwap,omitempty"`
	OrphanCleanup *OrphanCleanup `json:"orphanCleanup,omitempty"`
	SyncDocument  *SyncDocument  `json:"syncDocument,omitempty"`
}

// IndexBatch indexes one page of the live documents into TargetName. When
// Swap is set, completing the batch counts down the swap counter of the index.
type IndexBatch struct {
	RunID       string `json:"runId"`
	IndexHandle string `json:"indexHandle"`
	TargetName  string `json:"targetName"`
	Offset      int    `json:"offset"`
	Limit       int    `json:"limit"`
	Batch       int    `json:"batch"`
	Batches     int    `json:"batches"`
	Swap        bool   `json:"swap"`
}

// AtomicSwap replaces the live index with the temporary one and removes the
// stale index left behind.
type AtomicSwap struct {
	RunID       string `json:"runId"`
	IndexHandle string `json:"indexHandle"`
	TempName    string `json:"tempName"`
}

// OrphanCleanup removes the documents no longer backed by a live record.
type OrphanCleanup struct {
	RunID       string `json:"runId"`
	IndexHandle string `json:"indexHandle"`
}

// SyncDocument adds, updates or removes a single document.
type SyncDocument struct {
	IndexHandle string `json:"indexHandle"`
	SourceID    string `json:"sourceId"`
	Delete      bool   `json:"delete"`
}

func NewIndexBatchJob(b IndexBatch) Job {
	return Job{ID: uuid.NewString(), Kind: JobIndexBatch, IndexBatch: &b}
}

func NewAtomicSwapJob(s AtomicSwap) Job {
	return Job{ID: uuid.NewString(), Kind: JobAtomicSwap, AtomicSwap: &s}
}

func NewOrphanCleanupJob(c OrphanCleanup) Job {
	return Job{ID: uuid.NewString(), Kind: JobOrphanCleanup, OrphanCleanup: &c}
}

func NewSyncDocumentJob(s SyncDocument) Job {
	return Job{ID: uuid.NewString(), Kind: JobSyncDocument, SyncDocument: &s}
}

// newRunID identifies one refresh. xids sort by creation time, which keeps
// log lines of successive runs in order.
func newRunID() string {
	return xid.New().String()
}

// IndexHandle returns the handle of the index the job applies to.
func (j Job) IndexHandle() string {
	switch {
	case j.IndexBatch != nil:
		return j.IndexBatch.IndexHandle
	case j.AtomicSwap != nil:
		return j.AtomicSwap.IndexHandle
	case j.OrphanCleanup != nil:
		return j.OrphanCleanup.IndexHandle
	case j.SyncDocument != nil:
		return j.SyncDocument.IndexHandle
	default:
		return ""
	}
}

func (j Job) Validate() error {
	var set bool
	switch j.Kind {
	case JobIndexBatch:
		set = j.IndexBatch != nil
		if set && j.IndexBatch.Limit <= 0 {
			return engine.NewValidationError("job %s: batch limit must be positive", j.ID)
		}
	case JobAtomicSwap:
		set = j.AtomicSwap != nil
	case JobOrphanCleanup:
		set = j.OrphanCleanup != nil
	case JobSyncDocument:
		set = j.SyncDocument != nil
	default:
		return engine.NewValidationError("job %s: unsupported kind %q", j.ID, j.Kind)
	}
	if !set {
		return engine.NewValidationError("job %s: missing %s payload", j.ID, j.Kind)
	}
	if j.IndexHandle() == "" {
		return engine.NewValidationError("job %s: missing index handle", j.ID)
	}
	return nil
}
