// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/memory"
	"github.com/xataio/searchsync/pkg/engine/registry"
	loglib "github.com/xataio/searchsync/pkg/log"
)

var (
	testIndex = &engine.Index{
		Handle:     "articles",
		EngineType: engine.KindElasticsearch,
		FieldMappings: []engine.FieldMapping{
			{SourceField: "title", IndexFieldName: "title", IndexFieldType: engine.FieldText, Role: engine.RoleTitle},
		},
		SourceCriteria: map[string]any{"table": "articles"},
	}
	testReadonlyIndex = &engine.Index{
		Handle:     "archive",
		EngineType: engine.KindElasticsearch,
		Mode:       engine.ModeReadonly,
	}
)

func newTestCatalog(t *testing.T) engine.Catalog {
	t.Helper()
	catalog, err := engine.NewIndexSet(testIndex, testReadonlyIndex)
	require.NoError(t, err)
	return catalog
}

// newTestFactory returns a factory handing out the same engine for every
// kind.
func newTestFactory(e engine.Engine) *registry.Factory {
	opts := []registry.Option{}
	for _, kind := range engine.Kinds() {
		opts = append(opts, registry.WithConstructor(kind, func(engine.Config, loglib.Logger) (engine.Engine, error) {
			return e, nil
		}))
	}
	return registry.NewFactory(opts...)
}

func newTestMemoryEngine(t *testing.T) *memory.Engine {
	t.Helper()
	e, err := memory.New(engine.Config{})
	require.NoError(t, err)
	return e
}

// inPlaceEngine hides the swap support of the memory engine.
type inPlaceEngine struct {
	*memory.Engine
}

func (inPlaceEngine) SupportsAtomicSwap() bool {
	return false
}

type testSource struct {
	records []Record
	err     error
}

func newTestSource(n int) *testSource {
	s := &testSource{}
	for i := range n {
		s.records = append(s.records, Record{"id": strconv.Itoa(i + 1), "title": fmt.Sprintf("article %d", i+1)})
	}
	return s
}

func (s *testSource) Count(ctx context.Context, criteria Criteria) (int, error) {
	return len(s.records), s.err
}

func (s *testSource) IDs(ctx context.Context, criteria Criteria) ([]string, error) {
	ids := make([]string, 0, len(s.records))
	for _, r := range s.records {
		ids = append(ids, r["id"].(string))
	}
	return ids, s.err
}

func (s *testSource) Fetch(ctx context.Context, criteria Criteria, offset, limit int) ([]Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	if offset >= len(s.records) {
		return nil, nil
	}
	return slices.Clone(s.records[offset:min(offset+limit, len(s.records))]), nil
}

func (s *testSource) Get(ctx context.Context, criteria Criteria, id string) (Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, r := range s.records {
		if r["id"] == id {
			return r, nil
		}
	}
	return nil, nil
}

type ResolverFn func(ctx context.Context, record Record, idx *engine.Index) (engine.Document, error)

func (fn ResolverFn) Resolve(ctx context.Context, record Record, idx *engine.Index) (engine.Document, error) {
	return fn(ctx, record, idx)
}

var testResolver = ResolverFn(func(ctx context.Context, record Record, idx *engine.Index) (engine.Document, error) {
	return engine.Document{engine.ObjectIDField: record["id"], "title": record["title"]}, nil
})

// recordingQueue keeps the enqueued jobs without running them.
type recordingQueue struct {
	mutex     sync.Mutex
	jobs      []Job
	enqueueFn func(job Job) error
}

func (q *recordingQueue) Enqueue(ctx context.Context, job Job) error {
	if q.enqueueFn != nil {
		if err := q.enqueueFn(job); err != nil {
			return err
		}
	}
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) kinds() []JobKind {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	var kinds []JobKind
	for _, j := range q.jobs {
		kinds = append(kinds, j.Kind)
	}
	return kinds
}

// jobCounter counts the jobs handled per kind.
type jobCounter struct {
	mutex  sync.Mutex
	counts map[JobKind]int
}

func (c *jobCounter) wrap(h Handler) Handler {
	return HandlerFn(func(ctx context.Context, job Job) error {
		c.mutex.Lock()
		if c.counts == nil {
			c.counts = map[JobKind]int{}
		}
		c.counts[job.Kind]++
		c.mutex.Unlock()
		return h.Handle(ctx, job)
	})
}

func (c *jobCounter) get(kind JobKind) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.counts[kind]
}

// runQueue processes the queue in the background until the test ends.
func runQueue(t *testing.T, q *LocalQueue, h Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, h)
	}()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}
