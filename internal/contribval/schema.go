package contribval

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// SchemaProvider returns the canonical schema, cache-aside with a fixed ttl.
// There is no versioning: whatever the schema URL serves on a miss wins.
type SchemaProvider struct {
	url     string
	ttl     time.Duration
	store   Store
	fetch   *fetcher
	metrics *metrics
}

func NewSchemaProvider(url string, ttl time.Duration, store Store, f *fetcher, m *metrics) *SchemaProvider {
	return &SchemaProvider{url: url, ttl: ttl, store: store, fetch: f, metrics: m}
}

func (p *SchemaProvider) URL() string { return p.url }

// Get returns the cached schema or fetches it. Any failure is wrapped in
// ErrSchemaFetch.
func (p *SchemaProvider) Get(ctx context.Context) (SchemaDocument, error) {
	var content any
	ok, err := getJSON(ctx, p.store, schemaCacheKey, &content)
	if err != nil {
		log.Printf("schema cache read: %v", err)
	}
	if ok {
		p.metrics.observeCache(schemaCacheKey, true)
		return SchemaDocument{URL: p.url, Content: content}, nil
	}
	p.metrics.observeCache(schemaCacheKey, false)

	status, body, err := p.fetch.do(ctx, "schema", p.url)
	if err != nil {
		return SchemaDocument{}, fmt.Errorf("%w: %w", ErrSchemaFetch, err)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return SchemaDocument{}, fmt.Errorf("%w: %w", ErrSchemaFetch, &FetchError{URL: p.url, Status: status})
	}
	content, err = decodeDocument(body)
	if err != nil {
		return SchemaDocument{}, fmt.Errorf("%w: decode %s: %w", ErrSchemaFetch, p.url, err)
	}

	if err := setJSON(ctx, p.store, schemaCacheKey, content, p.ttl); err != nil {
		log.Printf("schema cache write: %v", err)
	}
	return SchemaDocument{URL: p.url, Content: content}, nil
}
