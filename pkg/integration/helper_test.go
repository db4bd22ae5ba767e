// SPDX-License-Identifier: Apache-2.0

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xataio/searchsync/internal/log/zerolog"
	pglib "github.com/xataio/searchsync/internal/postgres"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/registry"
	loglib "github.com/xataio/searchsync/pkg/log"
	"github.com/xataio/searchsync/pkg/orchestrator"
	"github.com/xataio/searchsync/pkg/query"
	pgsource "github.com/xataio/searchsync/pkg/source/postgres"
)

const (
	eventuallyTimeout = 30 * time.Second
	eventuallyTick    = 500 * time.Millisecond
)

func skipUnlessIntegration(t *testing.T) {
	if os.Getenv("SEARCHSYNC_INTEGRATION_TESTS") == "" {
		t.Skip("skipping integration test...")
	}
}

func testLogger() loglib.Logger {
	return zerolog.NewStdLogger(zerolog.NewLogger(&zerolog.Config{LogLevel: "debug"}))
}

// createArticles creates a fresh articles table with n published rows and
// returns its name.
func createArticles(t *testing.T, ctx context.Context, conn *pglib.Pool, n int) string {
	table := fmt.Sprintf("articles_%d", time.Now().UnixNano())
	execQuery(t, ctx, conn, fmt.Sprintf(`CREATE TABLE %s(
		id serial PRIMARY KEY,
		title text NOT NULL,
		body text,
		category text,
		views int DEFAULT 0,
		published boolean DEFAULT true)`, table))
	for i := range n {
		execQuery(t, ctx, conn,
			fmt.Sprintf("INSERT INTO %s(title, body, category, views) VALUES($1, $2, $3, $4)", table),
			fmt.Sprintf("golang release %d", i), "notes about the release", []string{"news", "blog"}[i%2], i*10)
	}
	return table
}

func execQuery(t *testing.T, ctx context.Context, conn *pglib.Pool, query string, args ...any) {
	_, err := conn.Exec(ctx, query, args...)
	require.NoError(t, err)
}

func articlesIndex(handle, table string, kind engine.Kind, url string) *engine.Index {
	return &engine.Index{
		Handle:       handle,
		EngineType:   kind,
		EngineConfig: engine.Config{"url": url},
		Mode:         engine.ModeSynced,
		FieldMappings: []engine.FieldMapping{
			{SourceField: "title", IndexFieldName: "title", IndexFieldType: engine.FieldText, Weight: 2, Role: engine.RoleTitle},
			{SourceField: "body", IndexFieldName: "body", IndexFieldType: engine.FieldText, Role: engine.RoleSummary},
			{SourceField: "category", IndexFieldName: "category", IndexFieldType: engine.FieldFacet},
			{SourceField: "views", IndexFieldName: "views", IndexFieldType: engine.FieldInteger},
		},
		SourceCriteria: map[string]any{
			"table":  table,
			"filter": "published",
		},
	}
}

type testRuntime struct {
	orchestrator *orchestrator.Orchestrator
	query        *query.Service
	source       *pgsource.Source
}

func newTestRuntime(t *testing.T, ctx context.Context, idx *engine.Index, queue orchestrator.Queue, counters orchestrator.CounterStore) *testRuntime {
	catalog, err := engine.NewIndexSet(idx)
	require.NoError(t, err)

	logger := testLogger()
	engines := registry.NewFactory(registry.WithLogger(logger))

	source, err := pgsource.New(ctx, &pgsource.Config{URL: pgurl}, nil, pgsource.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { source.Close(context.Background()) })

	cfg := &orchestrator.Config{BatchSize: 7, OrphanBatchSize: 3}
	return &testRuntime{
		orchestrator: orchestrator.New(cfg, catalog, engines, source, pgsource.NewResolver(), counters, queue, orchestrator.WithLogger(logger)),
		query:        query.NewService(catalog, engines, query.WithLogger(logger)),
		source:       source,
	}
}

func (rt *testRuntime) requireDocCount(t *testing.T, ctx context.Context, handle string, want int) {
	session := rt.query.NewSession()
	defer session.Close()

	require.Eventually(t, func() bool {
		count, err := session.DocCount(ctx, handle)
		if err != nil {
			t.Logf("reading doc count: %v", err)
			return false
		}
		return count == want
	}, eventuallyTimeout, eventuallyTick)
}
