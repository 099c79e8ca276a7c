package core

import (
	"errors"
	"fmt"
)

// Stable error kinds the caller can branch on with errors.Is. Collaborator
// failures are wrapped with the step that produced them; raw user text is
// never included beyond a bounded prefix.
var (
	// ErrValidation marks bad caller input.
	ErrValidation = errors.New("validation error")
	// ErrRetrieval marks a retriever collaborator failure. Fatal for the
	// request; never retried here.
	ErrRetrieval = errors.New("retrieval error")
	// ErrTemplate marks a missing required placeholder. A configuration
	// defect, always fatal.
	ErrTemplate = errors.New("template error")
	// ErrTimeout marks a deadline hit after any in-flight cache entry for
	// the key has been released.
	ErrTimeout = errors.New("timeout")
	// ErrCache marks a cache-layer failure. Non-fatal: the orchestrator
	// falls through to direct generation.
	ErrCache = errors.New("cache error")
)

// ProviderError wraps an LLM vendor failure. Transient errors (rate limits,
// 5xx, network) are retried with backoff; fatal ones (auth, malformed
// request) surface immediately.
type ProviderError struct {
	Provider  string
	Status    int
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s provider error (%s, http %d): %v", e.Provider, kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a provider error worth retrying.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// LogPrefix bounds user-supplied text before it reaches a log field.
func LogPrefix(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
