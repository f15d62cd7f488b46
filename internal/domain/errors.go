package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation signals a malformed input payload.
	ErrValidation = errors.New("validation failed")
	// ErrURLNotAllowed signals a fetch target outside the source allow-list.
	ErrURLNotAllowed = errors.New("url not allowed")
	// ErrTransport signals a network failure talking to an external dependency.
	ErrTransport = errors.New("transport error")
	// ErrIndexUnavailable signals that the knowledge index cannot be reached.
	ErrIndexUnavailable = errors.New("knowledge index unavailable")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrNotConfigured signals a capability whose client was never wired.
	ErrNotConfigured = errors.New("not configured")
	// ErrPipelineRunning signals an ingestion run overlapping another.
	ErrPipelineRunning = errors.New("ingestion already running")
)

// PartialIngestionError aggregates per-source ingestion failures.
// Non-fatal: the pipeline stays usable for the sources that succeeded.
type PartialIngestionError struct {
	Failures []string
}

func (e *PartialIngestionError) Error() string {
	return fmt.Sprintf("partial ingestion: %d source(s) failed: %s",
		len(e.Failures), strings.Join(e.Failures, "; "))
}
