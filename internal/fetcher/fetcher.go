package fetcher

import (
	"context"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed HTML page together with the raw body it came from.
type Document struct {
	Doc  *goquery.Document
	Body []byte
}

// DocumentFetcher retrieves and parses HTML pages.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, rawURL string) (*Document, error)
}

// JSONFetcher retrieves JSON endpoints. It returns the raw body alongside
// decoding into out.
type JSONFetcher interface {
	FetchJSON(ctx context.Context, rawURL string, query url.Values, out any) ([]byte, error)
}
