// SPDX-License-Identifier: Apache-2.0

package query

import (
	"errors"
	"fmt"
)

// ErrIndexNotFound is returned for handles missing from the catalog. It is
// never sent to a backend.
var ErrIndexNotFound = errors.New("index not found")

// SearchError reports a failure of the search backend serving the index.
type SearchError struct {
	Handle string
	Err    error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search on index %s failed: %v", e.Handle, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

func newSearchError(handle string, err error) error {
	if err == nil {
		return nil
	}
	return &SearchError{Handle: handle, Err: err}
}
