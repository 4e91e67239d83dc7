package media

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the referenced content id has no record.
var ErrNotFound = errors.New("content not found")

// ErrNoSession indicates an operation that needs a live transfer
// session found none for the content id.
var ErrNoSession = errors.New("no active transfer session")

// EngineStartError represents a transfer engine refusing to start a
// session, either because the locator was rejected or storage
// allocation failed. The persisted record is marked failed before this
// is returned.
type EngineStartError struct {
	ContentID string // Content the start was requested for
	Reason    string // Human-readable explanation
	Err       error  // Underlying error, if any
}

func (e *EngineStartError) Error() string {
	return fmt.Sprintf("engine failed to start download for %s: %s", e.ContentID, e.Reason)
}

func (e *EngineStartError) Unwrap() error {
	return e.Err
}

// CatalogError represents external catalog failures including network
// errors, non-2xx responses and malformed payloads. Callers above the
// cache boundary never see it: the cache layer degrades to local data.
type CatalogError struct {
	Provider string // Catalog provider name
	Op       string // The operation that failed (e.g. "search", "details")
	Err      error  // Underlying error, if any
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog %s failed during %s: %v", e.Provider, e.Op, e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}
