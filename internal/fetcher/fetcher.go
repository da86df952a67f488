// Package fetcher performs rate-limited, retried HTTP requests for carrier
// adapters and boundary resolvers.
package fetcher

import (
	"context"
	"net/url"
)

// Fetcher is the HTTP surface used by carrier adapters and the Overpass
// boundary resolver.
type Fetcher interface {
	// GetJSON issues a GET with the query parameters and decodes the JSON body into out.
	GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error

	// PostFormJSON posts a form and decodes the JSON body into out.
	PostFormJSON(ctx context.Context, rawURL string, form url.Values, out any) error

	// GetText issues a GET and returns the body as a string (HTML pages).
	GetText(ctx context.Context, rawURL string, query url.Values) (string, error)
}
