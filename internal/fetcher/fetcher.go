// Package fetcher downloads remote documents and streams CSV and XML content
// from local or remote readers.
package fetcher

import (
	"context"
	"io"
	"net/url"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Get performs a single GET of baseURL with the given query parameters and
	// returns the response body. Non-2xx responses are returned as errors;
	// retryable statuses are wrapped in resilience.TransientError.
	Get(ctx context.Context, baseURL string, query url.Values) (io.ReadCloser, error)
}
