// SPDX-License-Identifier: Apache-2.0

package query

import (
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/engine/registry"
	loglib "github.com/xataio/searchsync/pkg/log"
)

// Service is the entry point of the read side. Each request opens its own
// Session.
type Service struct {
	logger  loglib.Logger
	catalog engine.Catalog
	engines *registry.Factory
}

type Option func(*Service)

// DefaultAutocompletePerPage is the page size of autocomplete requests that
// don't set one.
const DefaultAutocompletePerPage = 5

func NewService(catalog engine.Catalog, engines *registry.Factory, opts ...Option) *Service {
	s := &Service{
		logger:  loglib.NewNoopLogger(),
		catalog: catalog,
		engines: engines,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func WithLogger(l loglib.Logger) Option {
	return func(s *Service) {
		s.logger = loglib.NewModuleLogger(l, "query")
	}
}

// NewSession returns a session holding the engines and role field maps
// built while serving one request. It must be closed once the request is
// done.
func (s *Service) NewSession() *Session {
	return newSession(s)
}

// Indexes returns the configured indexes.
func (s *Service) Indexes() []*engine.Index {
	return s.catalog.Indexes()
}
