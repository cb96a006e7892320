package contribval

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Outcome of a single validation. At most one field is non-empty.
type Outcome struct {
	ValidationError string
	SchemaError     string
}

func (o Outcome) Valid() bool { return o.ValidationError == "" && o.SchemaError == "" }

// Validator applies a JSON Schema to a document. The compiled form of the
// last schema is kept, so repeated validations against the cached schema do
// not recompile it.
type Validator struct {
	mu       sync.Mutex
	digest   [sha256.Size]byte
	compiled *jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks content against schema. A schema that does not compile is
// reported as SchemaError before the document is looked at.
func (v *Validator) Validate(content any, schema SchemaDocument) Outcome {
	compiled, err := v.compile(schema)
	if err != nil {
		return Outcome{SchemaError: schemaErrorMessage(err)}
	}
	if err := compiled.Validate(content); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return Outcome{ValidationError: firstViolation(verr)}
		}
		return Outcome{ValidationError: err.Error()}
	}
	return Outcome{}
}

func (v *Validator) compile(schema SchemaDocument) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema.Content)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(raw)

	v.mu.Lock()
	if v.compiled != nil && v.digest == digest {
		s := v.compiled
		v.mu.Unlock()
		return s, nil
	}
	v.mu.Unlock()

	url := schema.URL
	if url == "" {
		url = "mem://schema.json"
	}
	c := jsonschema.NewCompiler()
	c.LoadURL = func(s string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("remote $ref %q not allowed", s)
	}
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.digest = digest
	v.compiled = s
	v.mu.Unlock()
	return s, nil
}

// firstViolation follows the first cause down to the most specific error.
func firstViolation(e *jsonschema.ValidationError) string {
	for len(e.Causes) > 0 {
		e = e.Causes[0]
	}
	if e.InstanceLocation == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.InstanceLocation, e.Message)
}

func schemaErrorMessage(err error) string {
	var serr *jsonschema.SchemaError
	if errors.As(err, &serr) {
		var verr *jsonschema.ValidationError
		if errors.As(serr.Err, &verr) {
			return firstViolation(verr)
		}
		if serr.Err != nil {
			return serr.Err.Error()
		}
	}
	return err.Error()
}
