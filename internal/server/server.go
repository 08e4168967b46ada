// Package server provides the HTTP API for Kirinuki.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/models"
	"github.com/hyperjump/kirinuki/internal/storage"
)

// Pipeline is the ingestion side of the API.
type Pipeline interface {
	Ingest(ctx context.Context, scopeID string, doc *models.Document) (*models.ChunkSet, error)
	IngestBatch(ctx context.Context, scopeID string, docs []*models.Document) []models.IngestStatus
	DeleteDocument(ctx context.Context, docID string) error
}

// Retriever answers queries.
type Retriever interface {
	Retrieve(ctx context.Context, q *models.RetrievalQuery) (*models.RetrievalResponse, error)
}

// Server is the HTTP server for the Kirinuki API.
type Server struct {
	pipeline  Pipeline
	retriever Retriever
	catalog   storage.Catalog
	config    *config.ServerConfig
	logger    *zap.Logger
	vectors   func(ctx context.Context) (int, error)
	sparse    func() int
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithVectorCount reports the vector collection size on /api/v1/status.
func WithVectorCount(count func(ctx context.Context) (int, error)) Option {
	return func(s *Server) { s.vectors = count }
}

// WithSparseCount reports the number of sparse indices on /api/v1/status.
func WithSparseCount(count func() int) Option {
	return func(s *Server) { s.sparse = count }
}

// NewServer creates a server with the given dependencies.
func NewServer(pipeline Pipeline, retriever Retriever, catalog storage.Catalog, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		pipeline:  pipeline,
		retriever: retriever,
		catalog:   catalog,
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/scopes/{scope}", func(r chi.Router) {
			r.Get("/documents", s.handleListDocuments)
			r.Post("/documents", s.handleIngest)
			r.Post("/documents/batch", s.handleIngestBatch)
			r.Post("/retrieve", s.handleRetrieve)
		})
		r.Get("/documents/{id}/chunks", s.handleGetChunks)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
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

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
