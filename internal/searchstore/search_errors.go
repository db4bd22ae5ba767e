// SPDX-License-Identifier: Apache-2.0

package searchstore

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mitchellh/mapstructure"
	"github.com/xataio/searchsync/internal/json"
)

type ResponseError struct {
	Type      string      `mapstructure:"type"`
	Reason    string      `mapstructure:"reason"`
	CausedBy  *CausedBy   `mapstructure:"caused_by"`
	RootCause []RootCause `mapstructure:"root_cause"`
}

type CausedBy struct {
	Type   string `mapstructure:"type"`
	Reason string `mapstructure:"reason"`
}

type RootCause struct {
	Type   string `mapstructure:"type"`
	Reason string `mapstructure:"reason"`
}

// ErrResponse is a non successful response from the search store.
type ErrResponse struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *ErrResponse) Error() string {
	return fmt.Sprintf("[%d] %s: %s", e.StatusCode, e.Type, e.Reason)
}

type RetryableError struct {
	Cause error
}

func (r RetryableError) Error() string {
	return fmt.Sprintf("%v", r.Cause)
}

func (r RetryableError) Unwrap() error {
	return r.Cause
}

type ErrResourceAlreadyExists struct {
	Reason string
}

func (e ErrResourceAlreadyExists) Error() string {
	return fmt.Sprintf("resource already exists: %s", e.Reason)
}

type ErrQueryInvalid struct {
	Cause error
}

func (e ErrQueryInvalid) Error() string {
	return e.Cause.Error()
}

func (e ErrQueryInvalid) Unwrap() error {
	return e.Cause
}

const (
	SearchExecutionException       = "search_phase_execution_exception"
	ResourceAlreadyExistsException = "resource_already_exists_exception"
	IndexNotFoundException         = "index_not_found_exception"
	SnapshotInProgressException    = "snapshot_in_progress_exception"
)

var (
	ErrResourceNotFound           = errors.New("search resource not found")
	ErrUnsupportedSearchFieldType = errors.New("unsupported search field type")
	errInvalidSearchEnvelope      = errors.New("invalid search response")
)

type apiResponse interface {
	GetBody() io.ReadCloser
	GetStatusCode() int
	IsError() bool
}

func IsErrResponse(res apiResponse) error {
	if res.IsError() {
		return ExtractResponseError(res.GetBody(), res.GetStatusCode())
	}
	return nil
}

// ExtractResponseError decodes an error response body and classifies it.
func ExtractResponseError(body io.Reader, statusCode int) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading error response: %w", err)
	}

	var e map[string]any
	if err := json.Unmarshal(b, &e); err != nil {
		// HEAD requests and proxies answer without a JSON body
		return classify(&ErrResponse{StatusCode: statusCode, Type: "<unknown error type>", Reason: string(b)})
	}

	errValue, found := e["error"]
	if !found {
		return classify(&ErrResponse{StatusCode: statusCode, Type: "<unknown error type>", Reason: string(b)})
	}
	return classify(decodeResponseError(statusCode, errValue))
}

// newResponseError builds the error of a multi search entry.
func newResponseError(statusCode int, rawErr string) error {
	var errValue any
	if err := json.Unmarshal([]byte(rawErr), &errValue); err != nil {
		errValue = rawErr
	}
	return classify(decodeResponseError(statusCode, errValue))
}

func decodeResponseError(statusCode int, errValue any) *ErrResponse {
	respErr := &ErrResponse{StatusCode: statusCode}
	// some errors, such as missing credentials, are plain strings
	if s, ok := errValue.(string); ok {
		respErr.Type = "<unknown error type>"
		respErr.Reason = s
		return respErr
	}

	var esError ResponseError
	if err := mapstructure.Decode(errValue, &esError); err != nil {
		respErr.Type = "<unknown error type>"
		respErr.Reason = "<unknown error reason>"
		return respErr
	}

	respErr.Type = esError.Type
	respErr.Reason = esError.Reason
	if esError.Type == SearchExecutionException {
		switch {
		case esError.CausedBy != nil:
			respErr.Reason = esError.CausedBy.Reason
		case len(esError.RootCause) > 0:
			respErr.Reason = esError.RootCause[0].Reason
		}
	}
	return respErr
}

func classify(respErr *ErrResponse) error {
	if isRetryableStatus(respErr.StatusCode) {
		return RetryableError{Cause: respErr}
	}

	switch respErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrResourceNotFound, respErr)
	case http.StatusBadRequest:
		switch respErr.Type {
		case ResourceAlreadyExistsException:
			return ErrResourceAlreadyExists{Reason: respErr.Reason}
		case SnapshotInProgressException:
			return RetryableError{Cause: respErr}
		default:
			return ErrQueryInvalid{Cause: respErr}
		}
	}

	return respErr
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusLocked, http.StatusTooEarly,
		http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
