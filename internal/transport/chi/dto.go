package chi

import (
	"github.com/mailio/mailvec/internal/domain"
	healthuc "github.com/mailio/mailvec/internal/usecase/health"
)

const maxTopK = 100

// errorCode is a machine-readable error class in API error bodies.
type errorCode string

const (
	codeBadRequest             errorCode = "bad_request"
	codeValidationFailed       errorCode = "validation_failed"
	codeUnauthorized           errorCode = "unauthorized"
	codeAddressNotFound        errorCode = "address_not_found"
	codeDocumentNotFound       errorCode = "document_not_found"
	codeVectorDimMismatch      errorCode = "vector_dim_mismatch"
	codeEmbeddingProviderError errorCode = "embedding_provider_error"
	codeBrokerUnavailable      errorCode = "broker_unavailable"
	codeInternalError          errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

type searchResponse struct {
	Matches []domain.SearchMatch `json:"matches"`
	Knee    int                  `json:"knee"`
	Model   string               `json:"model,omitempty"`
}

// indexRequest is the synchronous upsert body. Vector, when present, replaces
// the server-side embedding call.
type indexRequest struct {
	Address string        `json:"address"`
	Email   *domain.Email `json:"email"`
	Vector  []float32     `json:"vector,omitempty"`
}

type statusResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
}

type healthResponse struct {
	Status string                          `json:"status"`
	Checks map[string]healthuc.CheckResult `json:"checks"`
}
