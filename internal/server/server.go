// Package server provides the HTTP API for Kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/registry"
	"github.com/hyperjump/kioku/internal/retrieval"
	"github.com/hyperjump/kioku/internal/storage"
)

// WatchService is the watcher surface the watch management endpoints need.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the Kioku API.
type Server struct {
	engine   *retrieval.Engine
	ingestor *ingest.Ingestor
	store    storage.Store
	registry *registry.Registry
	keyword  keyword.Index
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server

	// watch management; nil when the watcher is disabled
	watch      WatchService
	configPath string
	configMu   sync.Mutex
}

// NewServer creates a server with the given dependencies. keyword may be nil
// when keyword search is disabled.
func NewServer(
	engine *retrieval.Engine,
	ingestor *ingest.Ingestor,
	store storage.Store,
	reg *registry.Registry,
	kw keyword.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		ingestor: ingestor,
		store:    store,
		registry: reg,
		keyword:  kw,
		config:   cfg,
		logger:   logger,
	}
}

// SetWatcher enables the watch management endpoints. configPath, when
// non-empty, is where watch directory changes are persisted.
func (s *Server) SetWatcher(w WatchService, configPath string) {
	s.watch = w
	s.configPath = configPath
}

// routes builds the chi router. Split out so tests can exercise handlers
// without binding a listener.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/retrieve", s.handleRetrieve)
	r.Post("/api/v1/keyword-search", s.handleKeywordSearch)

	r.Post("/api/v1/datasets", s.handleCreateDataset)
	r.Get("/api/v1/datasets", s.handleListDatasets)
	r.Get("/api/v1/datasets/{id}", s.handleGetDataset)
	r.Delete("/api/v1/datasets/{id}", s.handleDeleteDataset)
	r.Post("/api/v1/datasets/{id}/ingest", s.handleIngest)

	r.Put("/api/v1/consumers/{id}", s.handleUpsertConsumer)
	r.Get("/api/v1/consumers/{id}/links", s.handleListLinks)
	r.Put("/api/v1/consumers/{id}/links/{datasetID}", s.handleSetLink)

	r.Get("/api/v1/watch/directories", s.handleWatchDirectoriesList)
	r.Post("/api/v1/watch/directories", s.handleWatchDirectoriesAdd)
	r.Delete("/api/v1/watch/directories", s.handleWatchDirectoriesRemove)

	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
