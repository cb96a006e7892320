package contribval

import (
	"context"
	"sync"
	"time"
)

// History is the most-recent-first, duplicate-free list of submitted URLs.
//
// Record is a read-modify-write on a single cache key. The mutex serializes
// writers within one process; instances sharing a memcached backend can
// still lose an update when two of them write at the same moment.
type History struct {
	store           Store
	ttl             time.Duration
	recordAnonymous bool
	canonicalURL    string

	mu sync.Mutex
}

func NewHistory(store Store, ttl time.Duration, recordAnonymous bool, canonicalURL string) *History {
	return &History{store: store, ttl: ttl, recordAnonymous: recordAnonymous, canonicalURL: canonicalURL}
}

// Record moves url to the front of the history. An empty url stands for a
// body-only submission and is ignored unless anonymous entries are enabled.
func (h *History) Record(ctx context.Context, url string) error {
	if url == "" && !h.recordAnonymous {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.read(ctx)
	if err != nil {
		return err
	}
	out := make([]*string, 0, len(entries)+1)
	out = append(out, entryFor(url))
	for _, e := range entries {
		if entryValue(e) == url {
			continue
		}
		out = append(out, e)
	}
	return setJSON(ctx, h.store, historyCacheKey, out, h.ttl)
}

// List returns the raw history, most recent first.
func (h *History) List(ctx context.Context) ([]*string, error) {
	return h.read(ctx)
}

// Examples is the history with the canonical contribute.json appended when
// it is not already present.
func (h *History) Examples(ctx context.Context) (ExamplesFeed, error) {
	entries, err := h.read(ctx)
	if err != nil {
		return ExamplesFeed{}, err
	}
	for _, e := range entries {
		if entryValue(e) == h.canonicalURL {
			return ExamplesFeed{URLs: entries}, nil
		}
	}
	canonical := h.canonicalURL
	return ExamplesFeed{URLs: append(entries, &canonical)}, nil
}

func (h *History) read(ctx context.Context) ([]*string, error) {
	var entries []*string
	if _, err := getJSON(ctx, h.store, historyCacheKey, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*string{}
	}
	return entries, nil
}

// Anonymous submissions are stored as JSON null.
func entryFor(url string) *string {
	if url == "" {
		return nil
	}
	return &url
}

func entryValue(e *string) string {
	if e == nil {
		return ""
	}
	return *e
}
