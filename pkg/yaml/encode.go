package yaml

import (
	"bytes"
	"io"

	"github.com/goccy/go-yaml"
)

// encodeOpts are the encoder defaults shared by every YAML surface in the
// module: two-space indent, sequence items indented under their key.
var encodeOpts = []yaml.EncodeOption{
	yaml.Indent(2),
	yaml.IndentSequence(true),
}

type Encoder struct {
	e *yaml.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		e: yaml.NewEncoder(w, encodeOpts...),
	}
}

func (e *Encoder) Encode(v any) error {
	return e.e.Encode(v) //nolint:wrapcheck // Return the original error.
}

func (e *Encoder) Close() error {
	return e.e.Close() //nolint:wrapcheck // Return the original error.
}

// Marshal renders v with the module's encoder defaults.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := NewEncoder(&buf)

	err := enc.Encode(v)
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
