// SPDX-License-Identifier: Apache-2.0

package query

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	synclib "github.com/xataio/searchsync/internal/sync"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/registry"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// Session serves the queries of one request.
type Session struct {
	logger  loglib.Logger
	catalog engine.Catalog
	scope   *registry.Scope
	roles   *synclib.Map[string, []string]
}

// Request is one search of a multi search.
type Request struct {
	Handle  string         `json:"handle"`
	Query   string         `json:"query"`
	Options map[string]any `json:"options,omitempty"`
}

// IndexStatus summarises the health of one index.
type IndexStatus struct {
	Handle    string      `json:"handle"`
	Engine    engine.Kind `json:"engine"`
	Mode      engine.Mode `json:"mode"`
	Connected bool        `json:"connected"`
	Ready     bool        `json:"ready"`
	// DocCount is nil when the count could not be read.
	DocCount *int `json:"docCount"`
}

func newSession(s *Service) *Session {
	return &Session{
		logger:  s.logger,
		catalog: s.catalog,
		scope:   s.engines.NewScope(),
		roles:   synclib.NewMap[string, []string](),
	}
}

func (s *Session) Close() {
	s.scope.Close()
}

func (s *Session) Search(ctx context.Context, handle, query string, rawOpts map[string]any) (*engine.SearchResult, error) {
	idx, e, err := s.engine(handle)
	if err != nil {
		return nil, err
	}
	opts, err := engine.ParseOptions(rawOpts)
	if err != nil {
		return nil, newSearchError(handle, err)
	}

	res, err := e.Search(ctx, idx, query, opts)
	if err != nil {
		return nil, newSearchError(handle, err)
	}
	return res, nil
}

// Autocomplete is a search with a small page size and hits narrowed to the
// objectID and the fields carrying a role.
func (s *Session) Autocomplete(ctx context.Context, handle, query string, rawOpts map[string]any) (*engine.SearchResult, error) {
	idx, e, err := s.engine(handle)
	if err != nil {
		return nil, err
	}
	opts, err := s.autocompleteOptions(idx, rawOpts)
	if err != nil {
		return nil, newSearchError(handle, err)
	}

	res, err := e.Search(ctx, idx, query, opts)
	if err != nil {
		return nil, newSearchError(handle, err)
	}
	return res, nil
}

// MultiSearch runs the requests batched per backend connection. Results are
// returned in request order.
func (s *Session) MultiSearch(ctx context.Context, requests []Request) ([]*engine.SearchResult, error) {
	type batch struct {
		engine    engine.Engine
		queries   []engine.Query
		positions []int
	}

	batches := map[string]*batch{}
	order := []string{}
	for i, req := range requests {
		idx, e, err := s.engine(req.Handle)
		if err != nil {
			return nil, err
		}
		opts, err := engine.ParseOptions(req.Options)
		if err != nil {
			return nil, newSearchError(req.Handle, err)
		}

		key := fmt.Sprintf("%s/%d", idx.EngineType, idx.EngineConfig.Hash())
		b, found := batches[key]
		if !found {
			b = &batch{engine: e}
			batches[key] = b
			order = append(order, key)
		}
		b.queries = append(b.queries, engine.Query{Index: idx, Query: req.Query, Options: opts})
		b.positions = append(b.positions, i)
	}

	results := make([]*engine.SearchResult, len(requests))
	eg, egCtx := errgroup.WithContext(ctx)
	for _, key := range order {
		b := batches[key]
		eg.Go(func() error {
			res, err := b.engine.MultiSearch(egCtx, b.queries)
			if err != nil {
				return newSearchError(b.queries[0].Index.Handle, err)
			}
			if len(res) != len(b.queries) {
				return newSearchError(b.queries[0].Index.Handle,
					fmt.Errorf("backend returned %d results for %d queries", len(res), len(b.queries)))
			}
			for i, pos := range b.positions {
				results[pos] = res[i]
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// SearchFacetValues returns the values of the facet field matching the query
// prefix. The filters and maxValuesPerFacet options apply.
func (s *Session) SearchFacetValues(ctx context.Context, handle, field, query string, rawOpts map[string]any) ([]engine.FacetValue, error) {
	idx, e, err := s.engine(handle)
	if err != nil {
		return nil, err
	}
	opts, err := engine.ParseOptions(rawOpts)
	if err != nil {
		return nil, newSearchError(handle, err)
	}

	values, err := e.SearchFacetValues(ctx, idx, engine.FacetValuesRequest{
		Fields:      []string{field},
		Query:       query,
		MaxPerField: opts.MaxValuesPerFacet,
		Filters:     opts.Filters,
	})
	if err != nil {
		return nil, newSearchError(handle, err)
	}
	if values[field] == nil {
		return []engine.FacetValue{}, nil
	}
	return values[field], nil
}

// GetDocument returns nil when the document does not exist.
func (s *Session) GetDocument(ctx context.Context, handle, id string) (engine.Document, error) {
	idx, e, err := s.engine(handle)
	if err != nil {
		return nil, err
	}
	doc, err := e.GetDocument(ctx, idx, id)
	if err != nil {
		return nil, newSearchError(handle, err)
	}
	return doc, nil
}

// IsReady reports whether the index exists on its backend. Backend failures
// read as not ready.
func (s *Session) IsReady(ctx context.Context, handle string) (bool, error) {
	idx, e, err := s.engine(handle)
	if err != nil {
		return false, err
	}
	exists, err := e.IndexExists(ctx, idx)
	if err != nil {
		s.logger.Warn(err, "checking index existence", loglib.Fields{loglib.IndexField: handle})
		return false, nil
	}
	return exists, nil
}

func (s *Session) DocCount(ctx context.Context, handle string) (int, error) {
	idx, e, err := s.engine(handle)
	if err != nil {
		return 0, err
	}
	count, err := e.GetDocumentCount(ctx, idx)
	if err != nil {
		return 0, newSearchError(handle, err)
	}
	return count, nil
}

// Status checks the connection, readiness and document count of the index.
func (s *Session) Status(ctx context.Context, handle string) (*IndexStatus, error) {
	idx, e, err := s.engine(handle)
	if err != nil {
		return nil, err
	}

	status := &IndexStatus{
		Handle:    idx.Handle,
		Engine:    idx.EngineType,
		Mode:      idx.Mode,
		Connected: e.TestConnection(ctx),
	}
	if !status.Connected {
		return status, nil
	}
	if status.Ready, err = s.IsReady(ctx, handle); err != nil {
		return nil, err
	}
	if !status.Ready {
		return status, nil
	}
	count, err := s.DocCount(ctx, handle)
	if err != nil {
		s.logger.Warn(err, "reading document count", loglib.Fields{loglib.IndexField: handle})
		return status, nil
	}
	status.DocCount = &count
	return status, nil
}

func (s *Session) autocompleteOptions(idx *engine.Index, rawOpts map[string]any) (*engine.SearchOptions, error) {
	opts, err := engine.ParseOptions(rawOpts)
	if err != nil {
		return nil, err
	}
	if _, found := rawOpts[engine.OptPerPage]; !found {
		opts.PerPage = DefaultAutocompletePerPage
	}
	fields, _ := s.roles.GetOrCreate(idx.Handle, func() ([]string, error) {
		fields := []string{engine.ObjectIDField}
		for _, name := range idx.RoleFields() {
			fields = append(fields, name)
		}
		slices.Sort(fields[1:])
		return fields, nil
	})
	opts.Retrieve = slices.Clone(fields)
	return opts, nil
}

func (s *Session) engine(handle string) (*engine.Index, engine.Engine, error) {
	idx, found := s.catalog.Index(handle)
	if !found {
		return nil, nil, fmt.Errorf("%w: %s", ErrIndexNotFound, handle)
	}
	e, err := s.scope.Engine(idx)
	if err != nil {
		return nil, nil, newSearchError(handle, err)
	}
	return idx, e, nil
}
