package yaml

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaGenerator reflects a configuration struct into a JSON schema.
// Doc comments from the listed Go packages are attached as descriptions.
type SchemaGenerator struct {
	v    any
	pkgs []string
}

func NewSchemaGenerator(v any, pkgs ...string) *SchemaGenerator {
	return &SchemaGenerator{
		v:    v,
		pkgs: pkgs,
	}
}

func (g *SchemaGenerator) Generate() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
	}

	for _, pkg := range g.pkgs {
		err := r.AddGoComments(pkg, "./")
		if err != nil {
			return nil, fmt.Errorf("add comments for %s: %w", pkg, err)
		}
	}

	jss := r.Reflect(g.v)

	jsData, err := json.MarshalIndent(jss, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	return append(jsData, '\n'), nil
}
