package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAddressNotFound signals that no corpus exists for an address.
	// Searches against an unknown address degrade to empty results.
	ErrAddressNotFound = errors.New("address not found")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrUnauthorized signals a failed credential check.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrRewriteFailed signals a query rewriter failure. The search path treats
	// it as advisory and continues with the raw query.
	ErrRewriteFailed = errors.New("query rewrite failed")
	// ErrRerankFailed signals a reranker failure.
	ErrRerankFailed = errors.New("rerank failed")
	// ErrBrokerUnavailable signals the queue broker is unreachable. Workers
	// retry it indefinitely; it is never a job-level failure.
	ErrBrokerUnavailable = errors.New("queue broker unavailable")
	// ErrMalformedJob signals a queue payload that does not decode into a job.
	// The payload is already consumed; workers drop it and keep going.
	ErrMalformedJob = errors.New("malformed queue job")
)
