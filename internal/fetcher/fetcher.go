// Package fetcher downloads OCDS release pages and bulk files and decodes
// spreadsheet, CSV and JSON rows.
package fetcher

import (
	"context"
	"io"
	"net/url"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// Get fetches the URL with the given query parameters and returns the
	// whole response body.
	Get(ctx context.Context, url string, query url.Values) ([]byte, error)
}
