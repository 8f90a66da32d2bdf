// Package schema validates study configuration and outbound telemetry against
// fixed JSON Schemas.
//
// Validation mismatches are reported as data (Result), never as errors. An
// error is returned only when the schema itself cannot be compiled or the data
// cannot be converted to a JSON value; callers treat that as "cannot validate".
package schema

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/maypok86/otter"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Names of the embedded schemas.
const (
	ShieldStudy      = "shield-study"
	ShieldStudyAddon = "shield-study-addon"
	ShieldStudyError = "shield-study-error"
	StudySetup       = "study-setup"
)

// DefaultAdhocCapacity bounds the cache of compiled ad-hoc schemas.
const DefaultAdhocCapacity = 256

// ErrUnknownSchema is returned when a named schema is not registered.
var ErrUnknownSchema = errors.New("unknown schema")

//go:embed schemas/*.schema.json
var embedded embed.FS

// Error is one structured validation failure.
type Error struct {
	// InstanceLocation is the JSON pointer of the offending value in the data.
	InstanceLocation string `json:"instance_location"`

	// KeywordLocation is the JSON pointer of the failing keyword in the schema.
	KeywordLocation string `json:"keyword_location"`

	Message string `json:"message"`
}

func (e Error) String() string {
	loc := e.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}

// Result is the outcome of a validation. Valid is true iff Errors is empty.
type Result struct {
	Valid  bool    `json:"valid"`
	Errors []Error `json:"errors"`
}

// Summary joins all errors in a single line, suitable for logs and error pings.
func (r Result) Summary() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// Validator holds the compiled named schemas plus a bounded cache of ad-hoc
// schemas keyed by document text. It is safe for concurrent use.
type Validator struct {
	named         map[string]*jsonschema.Schema
	adhoc         otter.Cache[string, *jsonschema.Schema]
	adhocCapacity int
}

// Option customizes a Validator.
type Option func(*Validator)

// WithAdhocCapacity sets how many compiled ad-hoc schemas are kept.
// n <= 0 keeps DefaultAdhocCapacity.
func WithAdhocCapacity(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.adhocCapacity = n
		}
	}
}

// New compiles every embedded schema. A failure here is a build defect.
// Call Close to release the ad-hoc cache.
func New(opts ...Option) (*Validator, error) {
	entries, err := embedded.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schemas: %w", err)
	}

	v := &Validator{
		named:         make(map[string]*jsonschema.Schema, len(entries)),
		adhocCapacity: DefaultAdhocCapacity,
	}
	for _, opt := range opts {
		opt(v)
	}

	v.adhoc, err = otter.MustBuilder[string, *jsonschema.Schema](v.adhocCapacity).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build schema cache: %w", err)
	}

	for _, entry := range entries {
		raw, err := embedded.ReadFile("schemas/" + entry.Name())
		if err != nil {
			v.adhoc.Close()
			return nil, fmt.Errorf("failed to read schema %s: %w", entry.Name(), err)
		}

		name := strings.TrimSuffix(entry.Name(), ".schema.json")
		compiled, err := jsonschema.CompileString(entry.Name(), string(raw))
		if err != nil {
			v.adhoc.Close()
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		v.named[name] = compiled
	}

	return v, nil
}

// MustNew is New for package-level wiring and tests.
func MustNew(opts ...Option) *Validator {
	v, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// Close stops the ad-hoc cache's background goroutines.
func (v *Validator) Close() {
	v.adhoc.Close()
}

// Names returns the registered schema names in sorted order.
func (v *Validator) Names() []string {
	names := make([]string, 0, len(v.named))
	for name := range v.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Document returns the raw JSON of a named schema.
func (v *Validator) Document(name string) ([]byte, error) {
	raw, err := embedded.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	return raw, nil
}

// ValidateNamed validates data against one of the embedded schemas.
func (v *Validator) ValidateNamed(data any, name string) (Result, error) {
	compiled, ok := v.named[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	return validate(compiled, data)
}

// Validate validates data against an arbitrary schema document. The document
// may be raw JSON ([]byte, string, json.RawMessage) or any JSON-encodable value.
// Compiled documents are cached.
func (v *Validator) Validate(data any, schemaDoc any) (Result, error) {
	compiled, err := v.compile(schemaDoc)
	if err != nil {
		return Result{}, err
	}
	return validate(compiled, data)
}

// ValidateOrError is the input-contract variant: an invalid document becomes
// an error. It is never used for outbound telemetry.
func (v *Validator) ValidateOrError(data any, name string) error {
	res, err := v.ValidateNamed(data, name)
	if err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("%s validation failed: %s", name, res.Summary())
	}
	return nil
}

func (v *Validator) compile(schemaDoc any) (*jsonschema.Schema, error) {
	var key string
	switch doc := schemaDoc.(type) {
	case []byte:
		key = string(doc)
	case json.RawMessage:
		key = string(doc)
	case string:
		key = doc
	default:
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema: %w", err)
		}
		key = string(raw)
	}

	if compiled, ok := v.adhoc.Get(key); ok {
		return compiled, nil
	}

	compiled, err := jsonschema.CompileString("adhoc.schema.json", key)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	v.adhoc.Set(key, compiled)
	return compiled, nil
}

func validate(compiled *jsonschema.Schema, data any) (Result, error) {
	doc, err := toJSONValue(data)
	if err != nil {
		return Result{}, err
	}

	err = compiled.Validate(doc)
	if err == nil {
		return Result{Valid: true, Errors: []Error{}}, nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return Result{}, fmt.Errorf("schema engine failure: %w", err)
	}

	var out []Error
	collectLeaves(verr, &out)
	return Result{Valid: false, Errors: out}, nil
}

// collectLeaves flattens the cause tree. The root error only says "doesn't
// validate with ..."; the leaves carry the useful messages.
func collectLeaves(verr *jsonschema.ValidationError, out *[]Error) {
	if len(verr.Causes) == 0 {
		*out = append(*out, Error{
			InstanceLocation: verr.InstanceLocation,
			KeywordLocation:  verr.KeywordLocation,
			Message:          verr.Message,
		})
		return
	}
	for _, cause := range verr.Causes {
		collectLeaves(cause, out)
	}
}

// toJSONValue round-trips data through encoding/json so structs, typed maps and
// numbers reach the schema engine as plain JSON values.
func toJSONValue(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data for validation: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode data for validation: %w", err)
	}
	return doc, nil
}
