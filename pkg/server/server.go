// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/engine"
	loglib "github.com/xataio/searchsync/pkg/log"
	"github.com/xataio/searchsync/pkg/orchestrator"
	"github.com/xataio/searchsync/pkg/query"
)

// Server exposes the query facade and the sync triggers over HTTP.
type Server struct {
	server  *echo.Echo
	logger  loglib.Logger
	query   *query.Service
	sync    Syncer
	address string
}

// Syncer starts index refreshes and syncs single documents.
type Syncer interface {
	Refresh(ctx context.Context, handle string, opts orchestrator.RefreshOptions) (*orchestrator.RefreshPlan, error)
	SyncDocument(ctx context.Context, s orchestrator.SyncDocument) error
}

type Option func(*Server)

const sessionKey = "query_session"

type errorResponse struct {
	Error string `json:"error"`
}

func New(cfg *Config, querySvc *query.Service, syncer Syncer, opts ...Option) *Server {
	s := &Server{
		address: cfg.address(),
		query:   querySvc,
		sync:    syncer,
		logger:  loglib.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.readTimeout()
	e.Server.WriteTimeout = cfg.writeTimeout()
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/health", s.health)
	e.POST("/multi-search", s.multiSearch, s.withSession)

	indexes := e.Group("/indexes/:handle", s.withSession)
	indexes.GET("/search", s.search)
	indexes.GET("/autocomplete", s.autocomplete)
	indexes.GET("/facets/:field", s.facetValues)
	indexes.GET("/documents/:id", s.getDocument)
	indexes.GET("/status", s.status)
	// sync endpoints are only served when a record source is configured
	if syncer != nil {
		indexes.POST("/refresh", s.refresh)
		indexes.POST("/documents/:id/sync", s.syncDocument)
		indexes.DELETE("/documents/:id", s.deleteDocument)
	}

	s.server = e
	return s
}

func WithLogger(l loglib.Logger) Option {
	return func(s *Server) {
		s.logger = loglib.NewModuleLogger(l, "http_server")
	}
}

// Start will start the server. This call is blocking.
func (s *Server) Start() error {
	s.logger.Info(fmt.Sprintf("search server listening on: %s...", s.address))
	if err := s.server.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.server
}

func (s *Server) withSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session := s.query.NewSession()
		defer session.Close()
		c.Set(sessionKey, session)
		return next(c)
	}
}

func session(c echo.Context) *query.Session {
	return c.Get(sessionKey).(*query.Session)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) search(c echo.Context) error {
	opts, err := searchOptions(c)
	if err != nil {
		return err
	}
	res, err := session(c).Search(c.Request().Context(), c.Param("handle"), c.QueryParam("q"), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) autocomplete(c echo.Context) error {
	opts, err := searchOptions(c)
	if err != nil {
		return err
	}
	res, err := session(c).Autocomplete(c.Request().Context(), c.Param("handle"), c.QueryParam("q"), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) multiSearch(c echo.Context) error {
	requests := []query.Request{}
	if err := json.NewDecoder(c.Request().Body).Decode(&requests); err != nil {
		return engine.NewValidationError("invalid multi search body: %v", err)
	}
	res, err := session(c).MultiSearch(c.Request().Context(), requests)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) facetValues(c echo.Context) error {
	opts, err := searchOptions(c)
	if err != nil {
		return err
	}
	values, err := session(c).SearchFacetValues(c.Request().Context(), c.Param("handle"), c.Param("field"), c.QueryParam("q"), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, values)
}

func (s *Server) getDocument(c echo.Context) error {
	doc, err := session(c).GetDocument(c.Request().Context(), c.Param("handle"), c.Param("id"))
	if err != nil {
		return err
	}
	if doc == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: fmt.Sprintf("document %s not found", c.Param("id"))})
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) status(c echo.Context) error {
	status, err := session(c).Status(c.Request().Context(), c.Param("handle"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) refresh(c echo.Context) error {
	force := c.QueryParam("force") == "true"
	plan, err := s.sync.Refresh(c.Request().Context(), c.Param("handle"), orchestrator.RefreshOptions{Force: force})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, plan)
}

func (s *Server) syncDocument(c echo.Context) error {
	return s.syncOne(c, false)
}

func (s *Server) deleteDocument(c echo.Context) error {
	return s.syncOne(c, true)
}

func (s *Server) syncOne(c echo.Context, del bool) error {
	err := s.sync.SyncDocument(c.Request().Context(), orchestrator.SyncDocument{
		IndexHandle: c.Param("handle"),
		SourceID:    c.Param("id"),
		Delete:      del,
	})
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func searchOptions(c echo.Context) (map[string]any, error) {
	raw := c.QueryParam("options")
	if raw == "" {
		return nil, nil
	}
	opts := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, engine.NewValidationError("options: invalid JSON: %v", err)
	}
	return opts, nil
}

// errorHandler maps the error taxonomy onto status codes: unknown indexes and
// documents are 404, invalid input is 400 and backend failures are 502.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(err, "request failed", loglib.Fields{"path": c.Path(), "handle": c.Param("handle")})
	}

	msg := err.Error()
	httpErr := &echo.HTTPError{}
	if errors.As(err, &httpErr) {
		msg = fmt.Sprint(httpErr.Message)
	}
	if err := c.JSON(status, errorResponse{Error: msg}); err != nil {
		s.logger.Error(err, "writing error response")
	}
}

func statusCode(err error) int {
	validationErr := &engine.ValidationError{}
	httpErr := &echo.HTTPError{}
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, query.ErrIndexNotFound), errors.Is(err, engine.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
