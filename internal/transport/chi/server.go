// Package chi exposes the mailvec HTTP API.
package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mailio/mailvec/internal/domain"
	healthuc "github.com/mailio/mailvec/internal/usecase/health"
	searchuc "github.com/mailio/mailvec/internal/usecase/search"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server implements the HTTP API handlers.
type Server struct {
	search        Searcher
	indexer       Indexer
	health        Health
	model         string
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. model is reported in search responses
// so clients know which embedding space produced the scores.
func NewServer(search Searcher, indexer Indexer, health Health, model string, logger *zap.Logger) *Server {
	s := &Server{
		search:  search,
		indexer: indexer,
		health:  health,
		model:   model,
		logger:  logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrAddressNotFound, http.StatusNotFound, codeAddressNotFound),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeVectorDimMismatch),
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, codeUnauthorized),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProviderError),
		sentinelHandler(domain.ErrBrokerUnavailable, http.StatusServiceUnavailable, codeBrokerUnavailable),
	}
	return s
}

// Routes registers every handler on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Post("/index", s.handleUpsert)
		r.Post("/index/{address}/message/{messageID}", s.handleEnqueue)
		r.Delete("/index/{address}/message/{messageID}", s.handleDelete)
	})
}

// handleSearch handles GET /api/v1/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	address := q.Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "address is required")
		return
	}
	queryText := q.Get("query")
	if queryText == "" {
		queryText = q.Get("q")
	}
	if queryText == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "query is required")
		return
	}

	topK := 0
	if raw := q.Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTopK {
			writeError(w, http.StatusBadRequest, codeValidationFailed,
				"top_k must be an integer between 1 and "+strconv.Itoa(maxTopK))
			return
		}
		topK = n
	}

	res, err := s.search.Search(r.Context(), searchuc.Request{
		Address: address,
		Query:   queryText,
		TopK:    topK,
		Folder:  q.Get("folder"),
		Filter:  q.Get("filter"),
		Sort:    q.Get("sort"),
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	matches := res.Matches
	if matches == nil {
		matches = []domain.SearchMatch{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Matches: matches,
		Knee:    res.Knee,
		Model:   s.model,
	})
}

// handleUpsert handles POST /api/v1/index: a synchronous upsert. With a
// client-supplied vector the embedding provider is bypassed; without one the
// document is embedded inline before the response.
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "address is required")
		return
	}
	if req.Email == nil || req.Email.MessageID == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "email.message_id is required")
		return
	}

	if len(req.Vector) > 0 {
		if err := s.indexer.UpsertWithVector(r.Context(), req.Address, req.Email, req.Vector); err != nil {
			s.handleDomainError(w, err)
			return
		}
	} else {
		// Store without a queue job: the inline upsert below makes the
		// document searchable before the response.
		if err := s.indexer.Store(r.Context(), req.Address, req.Email); err != nil {
			s.handleDomainError(w, err)
			return
		}
		if err := s.indexer.UpsertDirect(r.Context(), req.Address, req.Email.MessageID); err != nil {
			s.handleDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, statusResponse{Status: "indexed", MessageID: req.Email.MessageID})
}

// handleEnqueue handles POST /api/v1/index/{address}/message/{messageID}.
// A document body is stored first; an empty body schedules embedding for an
// already-stored document.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	messageID := chi.URLParam(r, "messageID")

	var email domain.Email
	err := json.NewDecoder(r.Body).Decode(&email)
	switch {
	case errors.Is(err, io.EOF):
		if err := s.indexer.Enqueue(r.Context(), address, messageID); err != nil {
			s.handleDomainError(w, err)
			return
		}
	case err != nil:
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	default:
		// The path segment is authoritative for the message id.
		email.MessageID = messageID
		if err := s.indexer.Put(r.Context(), address, &email); err != nil {
			s.handleDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued", MessageID: messageID})
}

// handleDelete handles DELETE /api/v1/index/{address}/message/{messageID}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	messageID := chi.URLParam(r, "messageID")

	if err := s.indexer.Delete(r.Context(), address, messageID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: report.Checks,
	})
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrDocumentNotFound,
		domain.ErrAddressNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrUnauthorized,
		domain.ErrEmbeddingProviderError,
		domain.ErrBrokerUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
