package contribval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// fetcher issues the outbound GETs for schema, content and reachability.
// Every call is bounded by timeout.
type fetcher struct {
	client    *http.Client
	timeout   time.Duration
	maxBody   int64
	userAgent string
	metrics   *metrics
}

func newFetcher(client *http.Client, timeout time.Duration, maxBody int64, userAgent string, m *metrics) *fetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &fetcher{client: client, timeout: timeout, maxBody: maxBody, userAgent: userAgent, metrics: m}
}

// do performs a GET and returns the response with its body already read.
func (f *fetcher) do(ctx context.Context, target, rawURL string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		f.metrics.observeFetch(target, "error")
		return 0, nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.observeFetch(target, "error")
		return 0, nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if f.maxBody > 0 {
		r = io.LimitReader(resp.Body, f.maxBody+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		f.metrics.observeFetch(target, "error")
		return resp.StatusCode, nil, &FetchError{URL: rawURL, Status: resp.StatusCode, Err: err}
	}
	if f.maxBody > 0 && int64(len(body)) > f.maxBody {
		f.metrics.observeFetch(target, "error")
		return resp.StatusCode, nil, &FetchError{
			URL:    rawURL,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("response body exceeds %s", formatBytes(uint64(f.maxBody))),
		}
	}
	f.metrics.observeFetch(target, statusClass(resp.StatusCode))
	return resp.StatusCode, body, nil
}

// status performs a GET and reports only the status code. The body is
// drained up to a small bound and discarded.
func (f *fetcher) status(ctx context.Context, target, rawURL string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		f.metrics.observeFetch(target, "error")
		return 0, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.observeFetch(target, "error")
		return 0, &FetchError{URL: rawURL, Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()

	f.metrics.observeFetch(target, statusClass(resp.StatusCode))
	return resp.StatusCode, nil
}

// getJSON fetches rawURL and decodes the body as JSON regardless of status.
func (f *fetcher) getJSON(ctx context.Context, target, rawURL string) (any, error) {
	_, body, err := f.do(ctx, target, rawURL)
	if err != nil {
		return nil, err
	}
	return decodeDocument(body)
}

// decodeDocument parses a JSON value, rejecting trailing data. Numbers stay
// json.Number so integers beyond 2^53 keep their exact value.
func decodeDocument(b []byte) (any, error) {
	var v any
	if err := decodeExact(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var errTrailingData = errors.New("invalid character after top-level value")

func decodeExact(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return errTrailingData
	}
	return nil
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	}
	return "1xx"
}
