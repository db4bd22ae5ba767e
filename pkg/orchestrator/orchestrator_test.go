// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/internal/backoff"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/mocks"
)

func waitForQueue(t *testing.T, q *LocalQueue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
	require.NoError(t, q.Err())
}

func TestOrchestrator_Refresh_atomicSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemoryEngine(t)
	// a document whose record is long gone must not survive the swap
	require.NoError(t, mem.IndexDocument(ctx, testIndex, "999", engine.Document{"title": "stale"}))

	queue := NewLocalQueue(&LocalQueueConfig{Workers: 4})
	counters := NewMemoryCounterStore()
	o := New(&Config{BatchSize: 100}, newTestCatalog(t), newTestFactory(mem), newTestSource(500), testResolver, counters, queue)
	jobs := &jobCounter{}
	runQueue(t, queue, jobs.wrap(o))

	plan, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
	require.NoError(t, err)
	require.True(t, plan.Swap)
	require.Equal(t, "articles_a", plan.TargetName)
	require.Equal(t, 500, plan.Total)
	require.Equal(t, 5, plan.Batches)
	require.NotEmpty(t, plan.RunID)

	waitForQueue(t, queue)

	require.Equal(t, 5, jobs.get(JobIndexBatch))
	require.Equal(t, 1, jobs.get(JobAtomicSwap))
	require.Equal(t, 1, jobs.get(JobOrphanCleanup))

	count, err := mem.GetDocumentCount(ctx, testIndex)
	require.NoError(t, err)
	require.Equal(t, 500, count)
	doc, err := mem.GetDocument(ctx, testIndex, "999")
	require.NoError(t, err)
	require.Nil(t, doc)
	require.Equal(t, []string{"articles"}, mem.IndexNames())

	_, found, err := counters.Get(ctx, testIndex.Handle)
	require.NoError(t, err)
	require.False(t, found)
}

func TestOrchestrator_Refresh_inPlace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemoryEngine(t)
	queue := NewLocalQueue(&LocalQueueConfig{Workers: 2})

	var mutex sync.Mutex
	var progress []Progress
	reporter := ProgressReporterFn(func(ctx context.Context, p Progress) {
		mutex.Lock()
		defer mutex.Unlock()
		progress = append(progress, p)
	})
	o := New(&Config{BatchSize: 20}, newTestCatalog(t), newTestFactory(inPlaceEngine{mem}), newTestSource(45), testResolver,
		NewMemoryCounterStore(), queue, WithProgressReporter(reporter))
	jobs := &jobCounter{}
	runQueue(t, queue, jobs.wrap(o))

	plan, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
	require.NoError(t, err)
	require.False(t, plan.Swap)
	require.Equal(t, testIndex.Handle, plan.TargetName)
	require.Equal(t, 3, plan.Batches)

	waitForQueue(t, queue)
	require.Equal(t, 3, jobs.get(JobIndexBatch))
	require.Zero(t, jobs.get(JobAtomicSwap))
	require.Equal(t, 1, jobs.get(JobOrphanCleanup))

	res, err := mem.Search(ctx, testIndex, "", &engine.SearchOptions{PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, 45, res.TotalHits)
	require.Equal(t, 5, res.TotalPages)
	require.Len(t, res.Hits, 10)

	mutex.Lock()
	defer mutex.Unlock()
	var maxIndexing float64
	for _, p := range progress {
		require.Equal(t, plan.RunID, p.RunID)
		require.GreaterOrEqual(t, p.Fraction, 0.0)
		require.LessOrEqual(t, p.Fraction, 1.0)
		if p.Step == StepIndexing {
			maxIndexing = max(maxIndexing, p.Fraction)
		}
	}
	require.Equal(t, 1.0, maxIndexing)
}

func TestOrchestrator_Refresh_empty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemoryEngine(t)
	require.NoError(t, mem.IndexDocument(ctx, testIndex, "1", engine.Document{"title": "gone"}))

	queue := &recordingQueue{}
	o := New(&Config{}, newTestCatalog(t), newTestFactory(mem), newTestSource(0), testResolver, NewMemoryCounterStore(), queue)

	plan, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
	require.NoError(t, err)
	require.Zero(t, plan.Batches)
	require.Equal(t, []JobKind{JobAtomicSwap}, queue.kinds())

	require.NoError(t, o.Handle(ctx, queue.jobs[0]))
	count, err := mem.GetDocumentCount(ctx, testIndex)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Equal(t, []JobKind{JobAtomicSwap, JobOrphanCleanup}, queue.kinds())
}

func TestOrchestrator_Refresh_tempName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		liveTarget string
		wantTemp   string
	}{
		{name: "first migration", liveTarget: "", wantTemp: "articles_a"},
		{name: "alias on a", liveTarget: "articles_a", wantTemp: "articles_b"},
		{name: "alias on b", liveTarget: "articles_b", wantTemp: "articles_a"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var deleted, created []string
			eng := &mocks.AliasEngine{
				Engine: mocks.Engine{
					SupportsAtomicSwapFn: func() bool { return true },
					DeleteIndexFn: func(ctx context.Context, idx *engine.Index) error {
						deleted = append(deleted, idx.Handle)
						return nil
					},
					CreateIndexFn: func(ctx context.Context, idx *engine.Index) error {
						created = append(created, idx.Handle)
						return nil
					},
				},
				LiveTargetFn: func(ctx context.Context, live *engine.Index) (string, error) {
					require.Equal(t, testIndex.Handle, live.Handle)
					return tc.liveTarget, nil
				},
			}
			queue := &recordingQueue{}
			o := New(&Config{BatchSize: 2}, newTestCatalog(t), newTestFactory(eng), newTestSource(3), testResolver, NewMemoryCounterStore(), queue)

			plan, err := o.Refresh(context.Background(), testIndex.Handle, RefreshOptions{})
			require.NoError(t, err)
			require.Equal(t, tc.wantTemp, plan.TargetName)
			require.Equal(t, []string{tc.wantTemp}, deleted)
			require.Equal(t, []string{tc.wantTemp}, created)
			require.Equal(t, []JobKind{JobIndexBatch, JobIndexBatch}, queue.kinds())
			for i, job := range queue.jobs {
				require.Equal(t, tc.wantTemp, job.IndexBatch.TargetName)
				require.Equal(t, i*2, job.IndexBatch.Offset)
				require.True(t, job.IndexBatch.Swap)
			}
		})
	}
}

func TestOrchestrator_Refresh_errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	errTest := errors.New("oh noes")

	t.Run("readonly index", func(t *testing.T) {
		t.Parallel()

		o := New(&Config{}, newTestCatalog(t), newTestFactory(&mocks.Engine{}), newTestSource(1), testResolver, NewMemoryCounterStore(), &recordingQueue{})
		_, err := o.Refresh(ctx, testReadonlyIndex.Handle, RefreshOptions{})
		require.ErrorIs(t, err, engine.ErrReadonlyIndex)
		var validationErr *engine.ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("unknown index", func(t *testing.T) {
		t.Parallel()

		o := New(&Config{}, newTestCatalog(t), newTestFactory(&mocks.Engine{}), newTestSource(1), testResolver, NewMemoryCounterStore(), &recordingQueue{})
		_, err := o.Refresh(ctx, "nope", RefreshOptions{})
		require.ErrorIs(t, err, engine.ErrIndexNotFound)
	})

	t.Run("refresh in progress", func(t *testing.T) {
		t.Parallel()

		counters := NewMemoryCounterStore()
		require.NoError(t, counters.Create(ctx, testIndex.Handle, SwapCounter{Remaining: 3, Total: 3, RunID: "old"}))
		queue := &recordingQueue{}
		o := New(&Config{}, newTestCatalog(t), newTestFactory(newTestMemoryEngine(t)), newTestSource(1), testResolver, counters, queue)

		_, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
		require.ErrorIs(t, err, ErrRefreshInProgress)
		require.Empty(t, queue.kinds())

		plan, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{Force: true})
		require.NoError(t, err)
		counter, found, err := counters.Get(ctx, testIndex.Handle)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, plan.RunID, counter.RunID)
		require.Equal(t, 1, counter.Remaining)
	})

	t.Run("enqueue failure drops the counter", func(t *testing.T) {
		t.Parallel()

		counters := NewMemoryCounterStore()
		queue := &recordingQueue{enqueueFn: func(Job) error { return errTest }}
		o := New(&Config{}, newTestCatalog(t), newTestFactory(newTestMemoryEngine(t)), newTestSource(1), testResolver, counters, queue)

		_, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
		require.ErrorIs(t, err, errTest)
		_, found, err := counters.Get(ctx, testIndex.Handle)
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("source failure", func(t *testing.T) {
		t.Parallel()

		source := newTestSource(1)
		source.err = errTest
		o := New(&Config{}, newTestCatalog(t), newTestFactory(newTestMemoryEngine(t)), source, testResolver, NewMemoryCounterStore(), &recordingQueue{})
		_, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
		require.ErrorIs(t, err, errTest)
	})
}

func TestOrchestrator_Refresh_concurrentRefreshKeepsTempIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemoryEngine(t)
	queue := &recordingQueue{}
	counters := NewMemoryCounterStore()
	o := New(&Config{BatchSize: 100}, newTestCatalog(t), newTestFactory(mem), newTestSource(500), testResolver, counters, queue)

	plan, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
	require.NoError(t, err)
	require.Equal(t, 5, plan.Batches)
	temp := testIndex.WithHandle(plan.TargetName)

	batches := queue.jobs
	for _, job := range batches[:2] {
		require.NoError(t, o.Handle(ctx, job))
	}
	count, err := mem.GetDocumentCount(ctx, temp)
	require.NoError(t, err)
	require.Equal(t, 200, count)

	_, err = o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
	require.ErrorIs(t, err, ErrRefreshInProgress)
	count, err = mem.GetDocumentCount(ctx, temp)
	require.NoError(t, err)
	require.Equal(t, 200, count)

	for _, job := range batches[2:] {
		require.NoError(t, o.Handle(ctx, job))
	}
	require.Equal(t, JobAtomicSwap, queue.jobs[len(queue.jobs)-1].Kind)
	require.NoError(t, o.Handle(ctx, queue.jobs[len(queue.jobs)-1]))

	count, err = mem.GetDocumentCount(ctx, testIndex)
	require.NoError(t, err)
	require.Equal(t, 500, count)
}

func TestOrchestrator_Refresh_supersededRunCannotCountDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := &recordingQueue{}
	counters := NewMemoryCounterStore()
	o := New(&Config{BatchSize: 100}, newTestCatalog(t), newTestFactory(newTestMemoryEngine(t)), newTestSource(300), testResolver, counters, queue)

	first, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
	require.NoError(t, err)
	staleBatch := queue.jobs[0]

	second, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{Force: true})
	require.NoError(t, err)
	require.NotEqual(t, first.RunID, second.RunID)

	err = o.Handle(ctx, staleBatch)
	require.ErrorIs(t, err, ErrStaleRun)

	counter, found, err := counters.Get(ctx, testIndex.Handle)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, second.RunID, counter.RunID)
	require.Equal(t, 3, counter.Remaining)
}

func TestOrchestrator_Refresh_recreateFailureReleasesCounter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	errTest := errors.New("index creation failed")
	eng := &mocks.Engine{
		SupportsAtomicSwapFn: func() bool { return true },
		DeleteIndexFn:        func(ctx context.Context, idx *engine.Index) error { return nil },
		CreateIndexFn:        func(ctx context.Context, idx *engine.Index) error { return errTest },
	}
	counters := NewMemoryCounterStore()
	queue := &recordingQueue{}
	o := New(&Config{}, newTestCatalog(t), newTestFactory(eng), newTestSource(3), testResolver, counters, queue)

	_, err := o.Refresh(ctx, testIndex.Handle, RefreshOptions{})
	require.ErrorIs(t, err, errTest)
	require.Empty(t, queue.kinds())
	_, found, err := counters.Get(ctx, testIndex.Handle)
	require.NoError(t, err)
	require.False(t, found)
}

func TestOrchestrator_Handle_swapEnqueueFailureRestoresCounter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	errTest := errors.New("queue unavailable")
	failSwap := true
	queue := &recordingQueue{enqueueFn: func(job Job) error {
		if job.Kind == JobAtomicSwap && failSwap {
			return errTest
		}
		return nil
	}}
	counters := NewMemoryCounterStore()
	require.NoError(t, counters.Create(ctx, testIndex.Handle, SwapCounter{
		Remaining: 1, Total: 2, IndexHandle: testIndex.Handle, TempName: "articles_a", RunID: "run",
	}))
	o := New(&Config{}, newTestCatalog(t), newTestFactory(newTestMemoryEngine(t)), newTestSource(3), testResolver, counters, queue)

	job := NewIndexBatchJob(IndexBatch{
		RunID: "run", IndexHandle: testIndex.Handle, TargetName: "articles_a", Offset: 0, Limit: 10, Batch: 1, Batches: 2, Swap: true,
	})
	err := o.Handle(ctx, job)
	require.ErrorIs(t, err, errTest)
	require.NotErrorIs(t, err, backoff.ErrPermanent)

	counter, found, err := counters.Get(ctx, testIndex.Handle)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, counter.Remaining)
	require.Empty(t, queue.kinds())

	failSwap = false
	require.NoError(t, o.Handle(ctx, job))
	require.Equal(t, []JobKind{JobAtomicSwap}, queue.kinds())
	require.Equal(t, "articles_a", queue.jobs[0].AtomicSwap.TempName)
	require.Equal(t, "run", queue.jobs[0].AtomicSwap.RunID)
	_, found, err = counters.Get(ctx, testIndex.Handle)
	require.NoError(t, err)
	require.False(t, found)
}

func TestOrchestrator_Handle_indexBatchRetriesRetriableFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	calls := 0
	eng := &mocks.Engine{
		IndexDocumentsFn: func(ctx context.Context, idx *engine.Index, docs []engine.Document) error {
			calls++
			require.Equal(t, testIndex.Handle, idx.Handle)
			switch calls {
			case 1:
				require.Len(t, docs, 3)
				return &engine.BulkError{Index: idx.Handle, Total: 3, Failures: []engine.DocumentFailure{
					{ObjectID: "2", Status: 429, Retriable: true},
					{ObjectID: "3", Status: 400, Reason: "mapper_parsing_exception"},
				}}
			case 2:
				require.Equal(t, []engine.Document{{engine.ObjectIDField: "2", "title": "article 2"}}, docs)
				return nil
			default:
				t.Fatalf("unexpected call %d", calls)
				return nil
			}
		},
	}
	provider := backoff.NewProvider(&backoff.Config{Constant: &backoff.ConstantConfig{Interval: time.Millisecond, MaxRetries: 3}})
	o := New(&Config{}, newTestCatalog(t), newTestFactory(eng), newTestSource(3), testResolver, NewMemoryCounterStore(), &recordingQueue{},
		WithBackoffProvider(provider))

	err := o.Handle(ctx, NewIndexBatchJob(IndexBatch{RunID: "run", IndexHandle: testIndex.Handle, TargetName: testIndex.Handle, Limit: 10, Batches: 1}))
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestOrchestrator_Handle_indexBatchSkipsUnresolvableRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemoryEngine(t)
	resolver := ResolverFn(func(ctx context.Context, record Record, idx *engine.Index) (engine.Document, error) {
		if record["id"] == "2" {
			return nil, errors.New("broken record")
		}
		return testResolver(ctx, record, idx)
	})
	o := New(&Config{}, newTestCatalog(t), newTestFactory(mem), newTestSource(3), resolver, NewMemoryCounterStore(), &recordingQueue{})

	err := o.Handle(ctx, NewIndexBatchJob(IndexBatch{RunID: "run", IndexHandle: testIndex.Handle, TargetName: testIndex.Handle, Limit: 10, Batches: 1}))
	require.NoError(t, err)
	ids, err := mem.GetAllDocumentIDs(ctx, testIndex)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "3"}, ids)
}

func TestOrchestrator_Handle_atomicSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	errTest := errors.New("oh noes")

	tests := []struct {
		name      string
		swapErr   error
		deleteErr error

		wantDeleted []string
		wantJobs    []JobKind
		wantErr     error
		wantFinal   bool
	}{
		{
			name:        "ok",
			wantDeleted: []string{"articles_b"},
			wantJobs:    []JobKind{JobOrphanCleanup},
		},
		{
			name:    "swap failure",
			swapErr: errTest,
			wantErr: errTest,
		},
		{
			name:        "stale deletion failure",
			deleteErr:   errTest,
			wantDeleted: []string{"articles_b"},
			wantJobs:    []JobKind{JobOrphanCleanup},
			wantErr:     errTest,
			wantFinal:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var deleted []string
			eng := &mocks.Engine{
				SwapIndexFn: func(ctx context.Context, live, temp *engine.Index) (*engine.Index, error) {
					require.Equal(t, "articles", live.Handle)
					require.Equal(t, "articles_a", temp.Handle)
					if tc.swapErr != nil {
						return nil, tc.swapErr
					}
					return live.WithHandle("articles_b"), nil
				},
				DeleteIndexFn: func(ctx context.Context, idx *engine.Index) error {
					deleted = append(deleted, idx.Handle)
					return tc.deleteErr
				},
			}
			queue := &recordingQueue{}
			o := New(&Config{}, newTestCatalog(t), newTestFactory(eng), newTestSource(0), testResolver, NewMemoryCounterStore(), queue)

			err := o.Handle(ctx, NewAtomicSwapJob(AtomicSwap{RunID: "run", IndexHandle: testIndex.Handle, TempName: "articles_a"}))
			require.ErrorIs(t, err, tc.wantErr)
			if tc.wantFinal {
				require.ErrorIs(t, err, backoff.ErrPermanent)
			}
			require.Equal(t, tc.wantDeleted, deleted)
			require.Equal(t, tc.wantJobs, queue.kinds())
			require.Equal(t, uint64(1), eng.GetSwapIndexCalls())
		})
	}
}

func TestOrchestrator_SyncDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	errTest := errors.New("oh noes")

	tests := []struct {
		name     string
		sync     SyncDocument
		engErr   error
		resolver Resolver

		wantIndexed string
		wantDeleted string
		wantErr     error
	}{
		{
			name:        "upsert",
			sync:        SyncDocument{IndexHandle: testIndex.Handle, SourceID: "2"},
			wantIndexed: "2",
		},
		{
			name:        "record gone",
			sync:        SyncDocument{IndexHandle: testIndex.Handle, SourceID: "42"},
			wantDeleted: "42",
		},
		{
			name:        "delete",
			sync:        SyncDocument{IndexHandle: testIndex.Handle, SourceID: "2", Delete: true},
			wantDeleted: "2",
		},
		{
			name:        "engine failure",
			sync:        SyncDocument{IndexHandle: testIndex.Handle, SourceID: "1"},
			engErr:      errTest,
			wantIndexed: "1",
			wantErr:     errTest,
		},
		{
			name: "resolver failure",
			sync: SyncDocument{IndexHandle: testIndex.Handle, SourceID: "1"},
			resolver: ResolverFn(func(context.Context, Record, *engine.Index) (engine.Document, error) {
				return nil, errTest
			}),
			wantErr: errTest,
		},
		{
			name:    "readonly index",
			sync:    SyncDocument{IndexHandle: testReadonlyIndex.Handle, SourceID: "1"},
			wantErr: engine.ErrReadonlyIndex,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var indexed, deleted string
			eng := &mocks.Engine{
				IndexDocumentFn: func(ctx context.Context, idx *engine.Index, id string, doc engine.Document) error {
					indexed = id
					require.Equal(t, id, doc[engine.ObjectIDField])
					return tc.engErr
				},
				DeleteDocumentFn: func(ctx context.Context, idx *engine.Index, id string) error {
					deleted = id
					return tc.engErr
				},
			}
			resolver := tc.resolver
			if resolver == nil {
				resolver = testResolver
			}
			o := New(&Config{}, newTestCatalog(t), newTestFactory(eng), newTestSource(3), resolver, NewMemoryCounterStore(), &recordingQueue{})

			err := o.SyncDocument(ctx, tc.sync)
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, tc.wantIndexed, indexed)
			require.Equal(t, tc.wantDeleted, deleted)

			// the queued variant behaves the same
			indexed, deleted = "", ""
			err = o.Handle(ctx, NewSyncDocumentJob(tc.sync))
			require.ErrorIs(t, err, tc.wantErr)
			require.Equal(t, tc.wantIndexed, indexed)
			require.Equal(t, tc.wantDeleted, deleted)
		})
	}
}

func TestOrchestrator_CleanupOrphans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := newTestMemoryEngine(t)
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, mem.IndexDocument(ctx, testIndex, id, engine.Document{"title": id}))
	}

	var mutex sync.Mutex
	var last float64
	reporter := ProgressReporterFn(func(ctx context.Context, p Progress) {
		mutex.Lock()
		defer mutex.Unlock()
		require.Equal(t, StepOrphans, p.Step)
		last = max(last, p.Fraction)
	})
	o := New(&Config{OrphanBatchSize: 1, OrphanConcurrency: 2}, newTestCatalog(t), newTestFactory(mem), newTestSource(3), testResolver,
		NewMemoryCounterStore(), &recordingQueue{}, WithProgressReporter(reporter))

	report, err := o.CleanupOrphans(ctx, testIndex.Handle)
	require.NoError(t, err)
	require.Equal(t, &OrphanReport{Indexed: 5, Live: 3, Deleted: 2}, report)

	ids, err := mem.GetAllDocumentIDs(ctx, testIndex)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, ids)
	require.Equal(t, 1.0, last)

	report, err = o.CleanupOrphans(ctx, testIndex.Handle)
	require.NoError(t, err)
	require.Zero(t, report.Deleted)
}

func TestOrchestrator_CleanupOrphans_deleteFailure(t *testing.T) {
	t.Parallel()

	errTest := errors.New("oh noes")
	eng := &mocks.Engine{
		GetAllDocumentIDsFn: func(ctx context.Context, idx *engine.Index) ([]string, error) {
			return []string{"1", "7", "8"}, nil
		},
		DeleteDocumentsFn: func(ctx context.Context, idx *engine.Index, ids []string) error {
			return errTest
		},
	}
	o := New(&Config{}, newTestCatalog(t), newTestFactory(eng), newTestSource(1), testResolver, NewMemoryCounterStore(), &recordingQueue{})

	_, err := o.CleanupOrphans(context.Background(), testIndex.Handle)
	require.ErrorIs(t, err, errTest)
}
