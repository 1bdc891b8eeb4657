package rule

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/expr"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/pattern"
)

// Kind identifies one executor type. It is immutable after load.
type Kind string

const (
	// KindStripBlocks removes marker-delimited regions from matched files.
	KindStripBlocks Kind = "strip-blocks"
	// KindStripLines removes lines containing a tag token from matched files.
	KindStripLines Kind = "strip-lines"
	// KindDelete deletes every file matched by the rule's pattern set.
	KindDelete Kind = "delete"
	// KindPruneDeps removes named entries from a dependency manifest.
	KindPruneDeps Kind = "prune-deps"
	// KindPruneEmpty removes empty files and directories after all other
	// rules have executed.
	KindPruneEmpty Kind = "prune-empty"
)

var (
	AllKinds = []Kind{
		KindStripBlocks,
		KindStripLines,
		KindDelete,
		KindPruneDeps,
		KindPruneEmpty,
	}

	ErrUnknownKind      = errors.New("unknown rule kind")
	ErrInvalidRule      = errors.New("invalid rule")
	ErrMissingCondition = errors.New("rule missing a compiled condition")
)

// MarkerPair is a start/end textual delimiter bounding a removable block.
type MarkerPair struct {
	// Start marks the first line of a removable block.
	Start string `json:"start" jsonschema:"title=Start Marker"`
	// End marks the last line of a removable block.
	End string `json:"end" jsonschema:"title=End Marker"`
}

func (m MarkerPair) Validate() error {
	if m.Start == "" || m.End == "" {
		return fmt.Errorf("%w: marker pair requires start and end", ErrInvalidRule)
	}
	if m.Start == m.End {
		return fmt.Errorf("%w: marker start and end must differ", ErrInvalidRule)
	}
	// Line classification matches markers by substring; an overlapping
	// pair would misread every end line as a stray start.
	if strings.Contains(m.Start, m.End) || strings.Contains(m.End, m.Start) {
		return fmt.Errorf("%w: marker start and end must not contain each other", ErrInvalidRule)
	}

	return nil
}

// ManifestKind identifies the dependency manifest dialect.
type ManifestKind string

const (
	// ManifestNPM is a package.json manifest.
	ManifestNPM ManifestKind = "npm"
	// ManifestPip is a requirements.txt manifest.
	ManifestPip ManifestKind = "pip"
)

var AllManifestKinds = []ManifestKind{ManifestNPM, ManifestPip}

// Manifest describes a dependency pruning target.
type Manifest struct {
	// Kind selects the manifest dialect.
	Kind ManifestKind `json:"kind" jsonschema:"title=Manifest Kind"`
	// Path is the manifest location relative to the root. Defaults to the
	// conventional file for the kind (package.json, requirements.txt).
	Path string `json:"path,omitempty" jsonschema:"title=Manifest Path"`
	// Groups lists the dependency groups to prune from. Only meaningful
	// for npm manifests; defaults to dependencies and devDependencies.
	Groups []string `json:"groups,omitempty" jsonschema:"title=Dependency Groups"`
	// Dependencies lists the dependency names to remove.
	Dependencies []string `json:"dependencies" jsonschema:"title=Dependencies"`
}

// EnsureDefaults fills the conventional path and groups for the kind.
func (m *Manifest) EnsureDefaults() {
	if m.Path == "" {
		switch m.Kind {
		case ManifestNPM:
			m.Path = "package.json"
		case ManifestPip:
			m.Path = "requirements.txt"
		}
	}

	if m.Kind == ManifestNPM && len(m.Groups) == 0 {
		m.Groups = []string{"dependencies", "devDependencies"}
	}
}

func (m *Manifest) Validate() error {
	if !slices.Contains(AllManifestKinds, m.Kind) {
		return fmt.Errorf("%w: manifest kind %q", ErrInvalidRule, m.Kind)
	}
	if len(m.Dependencies) == 0 {
		return fmt.Errorf("%w: manifest requires at least one dependency", ErrInvalidRule)
	}

	return nil
}

// Empty configures the empty-artifact removal pass.
type Empty struct {
	// WhitespaceOnly also removes files that contain only whitespace.
	WhitespaceOnly bool `json:"whitespaceOnly,omitempty" jsonschema:"title=Whitespace Only"`
	// MaxPasses bounds the cascading fixed-point iteration. Defaults to 8.
	MaxPasses int `json:"maxPasses,omitempty" jsonschema:"title=Max Passes"`
}

const DefaultMaxPasses = 8

func (e *Empty) EnsureDefaults() {
	if e.MaxPasses <= 0 {
		e.MaxPasses = DefaultMaxPasses
	}
}

// Rule is a named, typed cleanup directive. The kind selects which executor
// consumes the rule; the remaining fields are kind-specific parameters.
//
// When given, the `when` condition is a CEL expression over the project's
// feature flags:
//   - flags.docker - true if the "docker" feature is enabled
//   - flags.docker && !flags.ci - boolean combinations
//   - "gpu" in flags - true if the flag is present at all
//
// A rule whose condition evaluates false is excluded from the resolved set
// entirely.
type Rule struct {
	whenProgram cel.Program
	markerPair  *MarkerPair

	// ID uniquely identifies the rule within a resolved rule set.
	ID string `json:"id" jsonschema:"title=Rule ID"`
	// Kind selects the executor for this rule.
	Kind Kind `json:"kind" jsonschema:"title=Rule Kind"`
	// Description is an optional natural-language summary.
	Description string `json:"description,omitempty" jsonschema:"title=Description"`
	// When is an optional CEL condition over feature flags.
	When string `json:"when,omitempty" jsonschema:"title=Condition"`
	// Paths selects the files the rule applies to.
	Paths *pattern.Set `json:"paths,omitempty" jsonschema:"title=Paths"`
	// Marker names a marker pair from the top-level markers map.
	Marker string `json:"marker,omitempty" jsonschema:"title=Marker Name"`
	// Tag is the token marking lines for removal.
	Tag string `json:"tag,omitempty" jsonschema:"title=Line Tag"`
	// Manifest configures dependency pruning.
	Manifest *Manifest `json:"manifest,omitempty" jsonschema:"title=Manifest"`
	// Empty configures empty-artifact removal.
	Empty *Empty `json:"empty,omitempty" jsonschema:"title=Empty"`
}

// New creates a new rule with the given id and kind.
func New(id string, kind Kind, opts ...Opt) (*Rule, error) {
	r := &Rule{
		ID:   id,
		Kind: kind,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("rule %q: %w", id, err)
	}

	return r, nil
}

// MustNew creates a new rule and panics if there's an error.
func MustNew(id string, kind Kind, opts ...Opt) *Rule {
	r, err := New(id, kind, opts...)
	if err != nil {
		panic(err)
	}

	return r
}

type Opt func(r *Rule)

func WithDescription(desc string) Opt {
	return func(r *Rule) { r.Description = desc }
}

func WithWhen(when string) Opt {
	return func(r *Rule) { r.When = when }
}

func WithPaths(ps *pattern.Set) Opt {
	return func(r *Rule) { r.Paths = ps }
}

func WithMarker(name string) Opt {
	return func(r *Rule) { r.Marker = name }
}

func WithTag(tag string) Opt {
	return func(r *Rule) { r.Tag = tag }
}

func WithManifest(m *Manifest) Opt {
	return func(r *Rule) { r.Manifest = m }
}

func WithEmpty(e *Empty) Opt {
	return func(r *Rule) { r.Empty = e }
}

// Validate rejects unrecognized shapes early. The executor kinds are a
// closed set; each kind demands its own parameters.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if !slices.Contains(AllKinds, r.Kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}

	switch r.Kind {
	case KindStripBlocks:
		if r.Marker == "" {
			return fmt.Errorf("%w: strip-blocks requires a marker name", ErrInvalidRule)
		}

		return r.validatePaths()

	case KindStripLines:
		if r.Tag == "" {
			return fmt.Errorf("%w: strip-lines requires a tag", ErrInvalidRule)
		}

		return r.validatePaths()

	case KindDelete:
		return r.validatePaths()

	case KindPruneDeps:
		if r.Manifest == nil {
			return fmt.Errorf("%w: prune-deps requires a manifest", ErrInvalidRule)
		}
		r.Manifest.EnsureDefaults()

		return r.Manifest.Validate()

	case KindPruneEmpty:
		if r.Empty == nil {
			r.Empty = &Empty{}
		}
		r.Empty.EnsureDefaults()

		if r.Paths != nil {
			return r.Paths.Validate()
		}

		return nil
	}

	return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
}

func (r *Rule) validatePaths() error {
	if r.Paths == nil {
		return fmt.Errorf("%w: %s requires paths", ErrInvalidRule, r.Kind)
	}

	return r.Paths.Validate()
}

// CompileWhen compiles the rule's condition into a CEL program.
func (r *Rule) CompileWhen(env *expr.Environment) error {
	if r.When == "" || r.whenProgram != nil {
		return nil
	}

	program, err := env.Compile(r.When)
	if err != nil {
		return fmt.Errorf("compile condition: %w", err)
	}

	r.whenProgram = program

	return nil
}

// Enabled evaluates the rule's condition against the feature flags. Rules
// without a condition are always enabled.
func (r *Rule) Enabled(flags expr.FlagMap) bool {
	if r.When == "" {
		return true
	}
	if r.whenProgram == nil {
		panic(ErrMissingCondition)
	}

	result, _, err := r.whenProgram.Eval(map[string]any{
		"flags": flags,
	})
	if err != nil {
		// If evaluation fails, consider the rule disabled.
		return false
	}

	if boolVal, ok := result.Value().(bool); ok {
		return boolVal
	}

	// Non-boolean conditions never enable a rule.
	return false
}

// SetMarkerPair binds the named marker pair during resolution.
func (r *Rule) SetMarkerPair(m *MarkerPair) {
	r.markerPair = m
}

// GetMarkerPair returns the bound marker pair.
func (r *Rule) GetMarkerPair() *MarkerPair {
	if r.markerPair == nil {
		panic(fmt.Errorf("rule %q: marker pair not bound", r.ID))
	}

	return r.markerPair
}

func (r *Rule) String() string {
	if r.Description != "" {
		return fmt.Sprintf("%s (%s): %s", r.ID, r.Kind, r.Description)
	}

	return fmt.Sprintf("%s (%s)", r.ID, r.Kind)
}
