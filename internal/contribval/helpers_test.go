package contribval

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testSchema = `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "required": ["name", "description", "repository"],
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "repository": {
      "type": "object",
      "required": ["url"],
      "properties": {"url": {"type": "string"}}
    }
  }
}`

const validDocument = `{
  "name": "x",
  "description": "y",
  "repository": {"url": "https://example.com/x"}
}`

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// upstream is a fake remote host counting hits per path.
type upstream struct {
	*httptest.Server

	mu     sync.Mutex
	hits   map[string]int
	routes map[string]func(w http.ResponseWriter, r *http.Request)
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{
		hits:   map[string]int{},
		routes: map[string]func(w http.ResponseWriter, r *http.Request){},
	}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.hits[r.URL.Path]++
		h, ok := u.routes[r.URL.Path]
		u.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) serveJSON(path, body string) {
	u.serve(path, http.StatusOK, body)
}

func (u *upstream) serve(path string, status int, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.routes[path] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (u *upstream) Hits(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

// failingTransport refuses every request to hosts ending in ".invalid" and
// counts those attempts; anything else goes to the default transport.
type failingTransport struct {
	attempts atomic.Int64
}

func (f *failingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if strings.HasSuffix(r.URL.Hostname(), ".invalid") {
		f.attempts.Add(1)
		return nil, errors.New("dial tcp: lookup " + r.URL.Hostname() + ": no such host")
	}
	return http.DefaultTransport.RoundTrip(r)
}

func testConfig(schemaURL string) Config {
	cfg := DefaultConfig()
	cfg.Upstream.SchemaURL = schemaURL
	cfg.Upstream.CanonicalContributeURL = "https://raw.example.org/contribute.json"
	cfg.Fetch.timeoutDur = 2 * time.Second
	return cfg
}

func testFetcher(client *http.Client) *fetcher {
	return newFetcher(client, 2*time.Second, 1<<20, "contribval-test", nil)
}
