package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrInvalidManifest = errors.New("invalid manifest")

// Removal records one pruned dependency entry.
type Removal struct {
	// Group is the dependency group the entry was removed from, when the
	// dialect has groups.
	Group string
	// Name is the removed dependency name.
	Name string
}

func (r Removal) String() string {
	if r.Group == "" {
		return r.Name
	}

	return r.Group + "/" + r.Name
}

// PruneNPM removes the named dependencies from the given groups of a
// package.json document. Unrelated structure and formatting are preserved;
// names absent from the manifest are silent no-ops.
func PruneNPM(data []byte, groups, names []string) ([]byte, []Removal, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, fmt.Errorf("%w: not valid JSON", ErrInvalidManifest)
	}

	var removed []Removal

	out := data
	for _, group := range groups {
		if !gjson.GetBytes(out, escapeKey(group)).Exists() {
			continue
		}

		for _, name := range names {
			path := escapeKey(group) + "." + escapeKey(name)
			if !gjson.GetBytes(out, path).Exists() {
				continue
			}

			var err error

			out, err = sjson.DeleteBytes(out, path)
			if err != nil {
				return nil, nil, fmt.Errorf("remove %s from %s: %w", name, group, err)
			}

			removed = append(removed, Removal{Group: group, Name: name})
		}
	}

	return out, removed, nil
}

// PrunePip removes the named requirements from a requirements.txt
// document. Matching is by normalized project name (PEP 503: lowercase,
// runs of -_. fold to -) against the requirement line's name part;
// comments, pins, extras, and markers on the line are removed with it.
func PrunePip(data []byte, names []string) ([]byte, []Removal, error) {
	targets := make(map[string]bool, len(names))
	for _, name := range names {
		targets[normalizePip(name)] = true
	}

	var removed []Removal

	lines := strings.Split(string(data), "\n")
	kept := lines[:0]

	for _, line := range lines {
		name := pipLineName(line)
		if name != "" && targets[normalizePip(name)] {
			removed = append(removed, Removal{Name: name})

			continue
		}

		kept = append(kept, line)
	}

	return []byte(strings.Join(kept, "\n")), removed, nil
}

// pipLineName extracts the project name from one requirement line, or ""
// for blanks, comments, and option lines.
func pipLineName(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "-") {
		return ""
	}

	// The name ends at the first version, extras, marker, or comment
	// delimiter.
	end := len(trimmed)
	for i, r := range trimmed {
		if strings.ContainsRune(" \t[=<>!~;#", r) {
			end = i

			break
		}
	}

	return trimmed[:end]
}

func normalizePip(name string) string {
	var b strings.Builder

	prevDash := false
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' || r == '.' {
			if !prevDash {
				b.WriteByte('-')
			}

			prevDash = true

			continue
		}

		prevDash = false

		b.WriteRune(r)
	}

	return b.String()
}

// escapeKey escapes a literal object key for use in a gjson/sjson path.
func escapeKey(key string) string {
	var b strings.Builder

	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteByte('\\')
		}

		b.WriteRune(r)
	}

	return b.String()
}
