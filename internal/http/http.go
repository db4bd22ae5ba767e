// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
)

// Client sends HTTP requests, *http.Client being the usual implementation.
type Client interface {
	Do(*http.Request) (*http.Response, error)
}
