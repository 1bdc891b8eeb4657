package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

// digest hashes everything outside the resolution fingerprint that could
// alter the plan: the content of every file the rule set could touch plus
// the output-affecting run options. Two runs with equal (fingerprint,
// digest) pairs produce equal plans, which is what makes cache replay safe.
func (e *Engine) digest(ctx context.Context, rules []*rule.Rule) (string, error) {
	_, span := e.tracer.Start(ctx, "digest")
	defer span.End()

	h := sha256.New()

	opts, err := json.Marshal(struct {
		Allow    []string `json:"allow"`
		Deny     []string `json:"deny"`
		Excludes []string `json:"excludes"`
		Diff     bool     `json:"diff"`
	}{
		Allow:    e.allowRules,
		Deny:     e.denyRules,
		Excludes: e.extraExcludes,
		Diff:     e.diff,
	})
	if err != nil {
		return "", fmt.Errorf("serialize options: %w", err)
	}

	h.Write(opts)

	paths, whole, err := e.touchablePaths(rules)
	if err != nil {
		return "", err
	}

	span.SetAttributes(
		attribute.Bool("whole_tree", whole),
		attribute.Int("paths", len(paths)),
	)

	fsys := os.DirFS(e.root)
	for _, p := range paths {
		if err := hashPath(h, fsys, p); err != nil {
			return "", err
		}
	}

	// Rule count keeps filter-emptied runs distinct from genuinely empty
	// profiles.
	fmt.Fprintf(h, "r\x00%d\x00", len(rules))

	return hex.EncodeToString(h.Sum(nil)), nil
}

// touchablePaths computes the union of paths the rule set could affect, in
// lexical order. A rule with an unbounded scope (the empty pass, or a rule
// without a pattern set) widens the union to the whole tree: those rules
// can touch any path, and their outcome depends on directory structure.
func (e *Engine) touchablePaths(rules []*rule.Rule) ([]string, bool, error) {
	fsys := os.DirFS(e.root)

	for _, r := range rules {
		if r.Kind == rule.KindPruneEmpty || (r.Paths == nil && r.Kind != rule.KindPruneDeps) {
			paths, err := e.wholeTree(fsys)

			return paths, true, err
		}
	}

	seen := map[string]bool{}

	for _, r := range rules {
		if r.Kind == rule.KindPruneDeps {
			seen[filepath.ToSlash(r.Manifest.Path)] = true

			continue
		}

		matched, err := r.Paths.Resolve(fsys)
		if err != nil {
			return nil, false, fmt.Errorf("rule %q: resolve paths: %w", r.ID, err)
		}

		for _, p := range matched {
			seen[p] = true
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}

	slices.Sort(paths)

	return paths, false, nil
}

func (e *Engine) wholeTree(fsys fs.FS) ([]string, error) {
	var paths []string

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}

		if d.IsDir() && d.Name() == ".git" {
			return fs.SkipDir
		}

		paths = append(paths, p)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree: %w", err)
	}

	slices.Sort(paths)

	return paths, nil
}

// hashPath folds one path into the digest: its name, its node type, and
// for regular files its content. A path that vanished since matching
// hashes as absent rather than erroring; the run itself will record it.
func hashPath(h hash.Hash, fsys fs.FS, p string) error {
	info, err := fs.Stat(fsys, p)
	if err != nil {
		fmt.Fprintf(h, "a\x00%s\x00", p)

		return nil //nolint:nilerr // Absence is part of the digest.
	}

	switch {
	case info.IsDir():
		fmt.Fprintf(h, "d\x00%s\x00", p)
	case !info.Mode().IsRegular():
		fmt.Fprintf(h, "s\x00%s\x00", p)
	default:
		return hashFile(h, fsys, p)
	}

	return nil
}

func hashFile(h hash.Hash, fsys fs.FS, p string) error {
	f, err := fsys.Open(p)
	if err != nil {
		return fmt.Errorf("open %q: %w", p, err)
	}

	fmt.Fprintf(h, "f\x00%s\x00", p)

	_, err = io.Copy(h, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("hash %q: %w", p, err)
	}

	return nil
}
