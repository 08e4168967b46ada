package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/ingest"
	"github.com/hyperjump/kirinuki/internal/models"
)

const maxBodyBytes = 64 << 20

type batchRequest struct {
	Documents []*models.Document `json:"documents"`
}

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type chunksResponse struct {
	DocID    string           `json:"doc_id"`
	ScopeID  string           `json:"scope_id"`
	Chunks   []*models.Chunk  `json:"chunks"`
	Warnings []models.Warning `json:"warnings,omitempty"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	var doc models.Document
	if !s.decode(w, r, &doc) {
		return
	}
	s.logger.Debug("ingest request", zap.String("scope_id", scope), zap.String("doc_id", doc.DocID))
	set, err := s.pipeline.Ingest(r.Context(), scope, &doc)
	if err != nil {
		s.logger.Error("ingest failed", zap.String("doc_id", doc.DocID), zap.Error(err))
		s.respondError(w, statusCode(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, ingest.StatusOf(doc.DocID, set, nil))
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	var req batchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		s.respondError(w, http.StatusBadRequest, "documents is required")
		return
	}
	s.logger.Debug("batch ingest request", zap.String("scope_id", scope), zap.Int("documents", len(req.Documents)))
	statuses := s.pipeline.IngestBatch(r.Context(), scope, req.Documents)
	s.respondJSON(w, http.StatusOK, map[string]any{"results": statuses})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	q := &models.RetrievalQuery{Query: req.Query, ScopeID: chi.URLParam(r, "scope"), TopK: req.TopK}
	resp, err := s.retriever.Retrieve(r.Context(), q)
	if err != nil {
		s.logger.Error("retrieve failed", zap.String("scope_id", q.ScopeID), zap.Error(err))
		s.respondError(w, statusCode(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	docs, err := s.catalog.ListDocuments(r.Context(), chi.URLParam(r, "scope"), max(offset, 0), limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "offset": offset, "limit": limit})
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.catalog.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, statusCode(err), "document not found")
		return
	}
	chunks, err := s.catalog.GetChunks(r.Context(), id)
	if err != nil {
		s.logger.Error("get chunks failed", zap.String("doc_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, chunksResponse{DocID: id, ScopeID: rec.ScopeID, Chunks: chunks, Warnings: rec.Warnings})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("doc_id", id))
	if err := s.pipeline.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("deletion failed", zap.String("doc_id", id), zap.Error(err))
		s.respondError(w, statusCode(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"doc_id": id, "status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.catalog.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.catalog.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"documents": docCount,
		"chunks":    chunkCount,
	}
	if s.vectors != nil {
		if n, err := s.vectors(ctx); err == nil {
			resp["vectors"] = n
		} else {
			s.logger.Warn("status: count vectors failed", zap.Error(err))
			resp["vectors_error"] = err.Error()
		}
	}
	if s.sparse != nil {
		resp["sparse_indices"] = s.sparse()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusCode maps pipeline and retrieval errors onto HTTP statuses.
func statusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrMalformedInput), errors.Is(err, models.ErrDimensionMismatch),
		errors.Is(err, models.ErrMissingPayloadField):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
