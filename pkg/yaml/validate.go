package yaml

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks decoded YAML data against a compiled JSON schema and
// maps validation failures back onto YAML paths.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator(url string, schemaData []byte) (*Validator, error) {
	var schema any

	err := json.Unmarshal(schemaData, &schema)
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()

	err = compiler.AddResource(url, schema)
	if err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{schema: compiled}, nil
}

// MustNewValidator creates a new [Validator] and panics on error. Intended
// for embedded schemas, where failure is a build defect.
func MustNewValidator(url string, schemaData []byte) *Validator {
	v, err := NewValidator(url, schemaData)
	if err != nil {
		panic(err)
	}

	return v
}

// Validate checks data against the schema. Failures come back as [Error]
// carrying the YAML path of the most specific failing node, so loaders can
// annotate the source document.
func (s *Validator) Validate(data any) error {
	err := s.schema.Validate(data)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("schema validation: %w", err)
	}

	return &Error{
		Err:  validationErr,
		Path: locationPath(deepestLocation(validationErr)),
	}
}

// deepestLocation walks the cause tree for the longest instance location,
// which points at the most specific failing node.
func deepestLocation(err *jsonschema.ValidationError) []string {
	longest := err.InstanceLocation

	for _, cause := range err.Causes {
		if loc := deepestLocation(cause); len(loc) > len(longest) {
			longest = loc
		}
	}

	return longest
}

// locationPath converts a jsonschema instance location into a [yaml.Path].
// Numeric segments address sequence items.
func locationPath(location []string) *yaml.Path {
	current := NewPathBuilder().Root()

	for _, part := range location {
		idx, err := strconv.ParseUint(part, 10, 32)
		if err == nil {
			current = current.Index(uint(idx))

			continue
		}

		current = current.Child(part)
	}

	return current.Build()
}
