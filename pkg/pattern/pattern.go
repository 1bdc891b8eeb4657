package pattern

import (
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/bmatcuk/doublestar/v4"
)

var ErrInvalidPattern = errors.New("invalid pattern")

// Set is a glob-style path pattern set with inclusions and optional
// exclusions. Patterns use doublestar syntax ("**", "*", "?", classes) and
// match paths relative to the engine root, with forward slashes.
//
// A pattern that matches a directory selects the whole subtree beneath it.
// Exclusions always take precedence over inclusions, regardless of
// declaration order.
type Set struct {
	// Include lists patterns for paths the rule applies to.
	Include []string `json:"include" jsonschema:"title=Include Patterns"`
	// Exclude lists patterns for paths the rule must never touch.
	Exclude []string `json:"exclude,omitempty" jsonschema:"title=Exclude Patterns"`
}

// New creates a new [Set] with the given inclusions.
func New(include ...string) *Set {
	return &Set{Include: include}
}

// MustNew creates a new [Set] and panics if a pattern is invalid.
func MustNew(include ...string) *Set {
	s := New(include...)
	if err := s.Validate(); err != nil {
		panic(err)
	}

	return s
}

// WithExclude returns the set with the given exclusions appended.
func (s *Set) WithExclude(exclude ...string) *Set {
	s.Exclude = append(s.Exclude, exclude...)

	return s
}

// Validate checks every pattern in the set.
func (s *Set) Validate() error {
	if len(s.Include) == 0 {
		return fmt.Errorf("%w: at least one include pattern is required", ErrInvalidPattern)
	}

	for _, p := range append(append([]string{}, s.Include...), s.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
	}

	return nil
}

// Matches reports whether the relative path is selected by the set.
// An excluded path never matches, regardless of inclusions.
func (s *Set) Matches(relPath string) bool {
	if s.Excluded(relPath) {
		return false
	}

	return matchAny(s.Include, relPath)
}

// Excluded reports whether the relative path is hit by an exclusion.
func (s *Set) Excluded(relPath string) bool {
	return matchAny(s.Exclude, relPath)
}

// Resolve walks the rooted tree and returns all matching file paths in
// lexical order. A set matching zero paths yields an empty, non-nil slice;
// it is not an error.
func (s *Set) Resolve(fsys fs.FS) ([]string, error) {
	matched := []string{}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}

		if d.IsDir() {
			// Prune excluded subtrees early.
			if s.Excluded(p) {
				return fs.SkipDir
			}

			return nil
		}

		if s.Matches(p) {
			matched = append(matched, p)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}

	// fs.WalkDir visits entries in lexical order, so matched is already
	// deterministic. Keep the slice as-is for reproducible reports.
	return matched, nil
}

// matchAny reports whether any pattern matches the path directly or as a
// directory prefix (a pattern naming a directory covers its subtree).
func matchAny(patterns []string, relPath string) bool {
	for _, p := range patterns {
		if doublestar.MatchUnvalidated(p, relPath) {
			return true
		}

		// Treat "dir" like "dir/**" so directory patterns select their
		// descendants.
		if doublestar.MatchUnvalidated(path.Join(p, "**"), relPath) {
			return true
		}
	}

	return false
}
