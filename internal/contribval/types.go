package contribval

import (
	"errors"
	"fmt"
)

// Cache keys. Reachability results are stored under reachabilityKeyPrefix
// followed by a digest of the URL.
const (
	schemaCacheKey        = "schema"
	historyCacheKey       = "urls_submitted"
	reachabilityKeyPrefix = "reachability:"
)

var (
	// ErrNoDocument is returned when a validation request carries neither a
	// url nor a body.
	ErrNoDocument = errors.New("no document supplied: pass a url query parameter or a JSON body")

	// ErrSchemaFetch wraps any failure to obtain the schema document.
	ErrSchemaFetch = errors.New("fetch schema")
)

// FetchError describes an outbound GET that did not produce a usable body.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationRequest names the document to validate. HasURL distinguishes an
// empty url parameter from an absent one.
type ValidationRequest struct {
	URL    string
	HasURL bool
	Body   []byte

	// SelfURL is this service's own /contribute.json address as seen by the
	// caller; a request for it is answered from the canonical upstream copy.
	SelfURL string
}

// SchemaDocument is the current JSON Schema and where it came from.
type SchemaDocument struct {
	URL     string
	Content any
}

// ValidationResult is the /validate response. Exactly one of the error
// fields is set, or Errors points at a nil list and renders as null.
// Response is a pointer so a document that is itself null still renders.
type ValidationResult struct {
	Schema          any       `json:"schema,omitempty"`
	SchemaURL       string    `json:"schema_url,omitempty"`
	Response        *any      `json:"response,omitempty"`
	URL             string    `json:"url,omitempty"`
	Errors          *[]string `json:"errors,omitempty"`
	ValidationError string    `json:"validation_error,omitempty"`
	SchemaError     string    `json:"schema_error,omitempty"`
	RequestError    string    `json:"request_error,omitempty"`
}

func echo(v any) *any { return &v }

// Outcome labels, also used as metric label values.
const (
	OutcomeValid            = "valid"
	OutcomeValidationError  = "validation_error"
	OutcomeSchemaError      = "schema_error"
	OutcomeRequestError     = "request_error"
	OutcomeSchemaFetchError = "schema_fetch_error"
)

// Outcome classifies the result for logging and metrics.
func (r ValidationResult) Outcome() string {
	switch {
	case r.RequestError != "":
		return OutcomeRequestError
	case r.SchemaError != "":
		return OutcomeSchemaError
	case r.ValidationError != "":
		return OutcomeValidationError
	}
	return OutcomeValid
}

// ReachabilityResult is the /validateurl response.
type ReachabilityResult struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
}

// ExamplesFeed is the /examples.json response. Anonymous (body-only)
// submissions, when recorded, appear as null.
type ExamplesFeed struct {
	URLs []*string `json:"urls"`
}
