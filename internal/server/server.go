// Package server provides the HTTP API for Kura.
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

	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/vfs"
	"github.com/hyperjump/kura/internal/watcher"
)

// identityHeader names the request header carrying the caller's identity.
// Requests without it act as the profile owner.
const identityHeader = "X-Kura-Identity"

// Server is the HTTP server for the Kura API.
type Server struct {
	fs       *vfs.VectorFS
	embedder embedding.Embedder
	node     identity.Identity
	cfg      *config.Config
	logger   *zap.Logger
	server   *http.Server

	watch      *watcher.Watcher
	configPath string
	configMu   sync.Mutex
}

// ServerOption configures optional server features.
type ServerOption func(*Server)

// WithWatcher exposes the watch-directory management endpoints.
func WithWatcher(w *watcher.Watcher) ServerOption {
	return func(s *Server) { s.watch = w }
}

// WithConfigPath makes watch-directory changes persist to the config file.
func WithConfigPath(path string) ServerOption {
	return func(s *Server) { s.configPath = path }
}

// NewServer creates a server with the given dependencies. node is the
// identity whose profile is used when a request names no profile.
func NewServer(
	fs *vfs.VectorFS,
	embedder embedding.Embedder,
	node identity.Identity,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		fs:       fs,
		embedder: embedder,
		node:     node,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/profiles", s.handleProfilesList)
	r.Delete("/api/v1/profiles", s.handleProfileDelete)

	r.Route("/api/v1/fs", func(r chi.Router) {
		r.Post("/folders", s.handleCreateFolder)
		r.Get("/entries", s.handleGetEntry)
		r.Delete("/entries", s.handleDeleteEntry)
		r.Post("/move", s.handleMove)
		r.Post("/items", s.handleSaveItem)
		r.Get("/source", s.handleSource)
		r.Get("/vrkai", s.handleExportVRKai)
		r.Post("/vrkai", s.handleImportVRKai)
		r.Post("/vrpack", s.handleImportVRPack)
		r.Post("/search", s.handleSearch)
		r.Get("/permissions", s.handleGetPermission)
		r.Post("/permissions", s.handleSetPermission)
		r.Delete("/permissions", s.handleRemovePermission)
		r.Get("/subscribers", s.handleSubscribers)
		r.Post("/subscriptions", s.handleSubscribe)
		r.Delete("/subscriptions", s.handleUnsubscribe)
		r.Post("/subscriptions/synced", s.handleSetLastSynced)
	})

	if s.watch != nil {
		r.Get("/api/v1/watch/directories", s.handleWatchList)
		r.Post("/api/v1/watch/directories", s.handleWatchAdd)
		r.Delete("/api/v1/watch/directories", s.handleWatchRemove)
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
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
