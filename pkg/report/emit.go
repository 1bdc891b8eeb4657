package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/yaml"
)

// Emit formats. Downstream tooling consumes JSON; YAML is for humans.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var AllFormats = []string{FormatJSON, FormatYAML}

// Write serializes the report in the requested format.
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		return r.WriteJSON(w)
	case FormatYAML:
		return r.WriteYAML(w)
	}

	return fmt.Errorf("unknown report format %q", format)
}

func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	err := enc.Encode(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return nil
}

func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)

	err := enc.Encode(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return nil
}
