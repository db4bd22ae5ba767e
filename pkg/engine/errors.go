// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrConnection is returned when the backend is unreachable or rejects
	// the credentials.
	ErrConnection = errors.New("search engine connection error")
	// ErrPermissionRestricted is returned when the credentials are valid but
	// scoped (for instance a search-only key).
	ErrPermissionRestricted = errors.New("search engine permission restricted")
	ErrIndexNotFound        = errors.New("index not found")
	ErrUnsupported          = errors.New("operation not supported by search engine")
	ErrReadonlyIndex        = errors.New("index is readonly")
)

// ValidationError reports malformed caller input. It is raised before any
// backend call is attempted.
type ValidationError struct {
	Reason string
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return "invalid input: " + e.Reason
}

// SchemaError reports an index or collection that cannot be created with the
// configured schema. It is never retried.
type SchemaError struct {
	Index  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on index %s: %s", e.Index, e.Reason)
}

// StatusError carries a non successful HTTP status returned by a backend.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search engine returned status %d: %s", e.Status, e.Message)
}

// Is maps statuses onto the sentinel errors of the taxonomy.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Status == http.StatusUnauthorized
	case ErrPermissionRestricted:
		return e.Status == http.StatusForbidden
	case ErrIndexNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// DocumentFailure describes one document rejected inside a bulk operation.
type DocumentFailure struct {
	ObjectID  string `json:"objectID"`
	Status    int    `json:"status"`
	Reason    string `json:"reason"`
	Retriable bool   `json:"retriable"`
}

// BulkError aggregates the per document failures of a bulk call in which some
// documents were accepted.
type BulkError struct {
	Index    string
	Total    int
	Failures []DocumentFailure
}

func (e *BulkError) Error() string {
	reasons := make([]string, 0, min(len(e.Failures), 3))
	for _, f := range e.Failures[:min(len(e.Failures), 3)] {
		reasons = append(reasons, fmt.Sprintf("%s: %s", f.ObjectID, f.Reason))
	}
	return fmt.Sprintf("bulk operation on %s: %d of %d documents failed (%s)", e.Index, len(e.Failures), e.Total, strings.Join(reasons, "; "))
}

// RetriableIDs returns the object IDs whose failure may succeed on retry.
func (e *BulkError) RetriableIDs() []string {
	ids := []string{}
	for _, f := range e.Failures {
		if f.Retriable {
			ids = append(ids, f.ObjectID)
		}
	}
	return ids
}

// IsRetriableStatus reports whether a failed request with the given status is
// worth retrying.
func IsRetriableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusLocked, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= http.StatusInternalServerError
}

// IsTransient decides whether an error returned by an engine call is worth
// retrying. Validation, schema, permission and unsupported errors are
// permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	var schemaErr *SchemaError
	switch {
	case errors.As(err, &validationErr), errors.As(err, &schemaErr),
		errors.Is(err, ErrUnsupported), errors.Is(err, ErrPermissionRestricted),
		errors.Is(err, ErrReadonlyIndex):
		return false
	}

	var bulkErr *BulkError
	if errors.As(err, &bulkErr) {
		return len(bulkErr.RetriableIDs()) > 0
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return IsRetriableStatus(statusErr.Status)
	}

	// network failures and unknown backend errors
	return !errors.Is(err, ErrIndexNotFound)
}
