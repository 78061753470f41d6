package memory

import (
	"errors"
	"strings"
)

// Error taxonomy for the memory pipeline. Callers distinguish "nothing
// relevant found" (empty result, nil error) from "could not search"
// (ErrStoreUnavailable) and from caller bugs (ErrInvalidScope).
var (
	// ErrEmbedding indicates an upstream embedding failure. Retryable.
	ErrEmbedding = errors.New("embedding failed")

	// ErrStoreUnavailable indicates the storage backend is unreachable.
	// Retryable with backoff; retrieval may degrade to an empty result.
	ErrStoreUnavailable = errors.New("memory store unavailable")

	// ErrNotFound indicates an absent record on a direct id lookup.
	// Not an error for retrieval queries.
	ErrNotFound = errors.New("memory record not found")

	// ErrInvalidScope indicates a malformed or missing scope. Caller
	// bug; never retried.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrIngestionAborted indicates a salience-positive turn failed to
	// persist after retries. Surfaced to operators, never swallowed.
	ErrIngestionAborted = errors.New("ingestion aborted")
)

// Retryable reports whether err is a transient condition worth retrying
// with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrEmbedding) || errors.Is(err, ErrStoreUnavailable)
}

// ValidateScope rejects empty or malformed scopes before any store
// traffic happens.
func ValidateScope(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return ErrInvalidScope
	}
	return nil
}
