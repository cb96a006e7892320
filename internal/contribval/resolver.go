package contribval

import (
	"context"
	"net/http"
	"strings"
)

// Resolution is what the resolver produced: either Content (and the URL it
// came from, empty for a posted body) or a terminal RequestError.
type Resolution struct {
	Content any
	URL     string

	RequestError error
	// RawBody is echoed back when a posted body fails to parse.
	RawBody []byte
}

func (r Resolution) Failed() bool { return r.RequestError != nil }

// ContentResolver obtains the document to validate.
type ContentResolver struct {
	fetch        *fetcher
	canonicalURL string
	failLog      *rateLimitedLogger
}

func NewContentResolver(f *fetcher, canonicalURL string, failLog *rateLimitedLogger) *ContentResolver {
	return &ContentResolver{fetch: f, canonicalURL: canonicalURL, failLog: failLog}
}

// Resolve fetches req.URL when present, otherwise parses req.Body. A request
// for this service's own contribute.json is served from the canonical
// upstream copy instead of calling back into ourselves.
func (r *ContentResolver) Resolve(ctx context.Context, req ValidationRequest) Resolution {
	if req.HasURL {
		target := r.rewriteSelf(req.URL, req.SelfURL)
		content, err := r.fetch.getJSON(ctx, "content", target)
		if err != nil {
			r.failLog.Printf("content fetch %s: %v", target, err)
			return Resolution{RequestError: err}
		}
		return Resolution{Content: content, URL: target}
	}

	if len(req.Body) > 0 {
		content, err := decodeDocument(req.Body)
		if err != nil {
			return Resolution{RequestError: err, RawBody: req.Body}
		}
		return Resolution{Content: content}
	}

	return Resolution{RequestError: ErrNoDocument}
}

func (r *ContentResolver) rewriteSelf(url, self string) string {
	if self != "" && url == self {
		return r.canonicalURL
	}
	return url
}

// selfContributeURL reconstructs the address a client used to reach our own
// /contribute.json.
func selfContributeURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil || strings.EqualFold(req.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + req.Host + "/contribute.json"
}
