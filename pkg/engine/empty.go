package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/report"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

// runPruneEmpty removes empty files and directories, iterating to a fixed
// point: deleting the last file of a directory empties the directory, and
// deleting that directory may empty its parent. The pass count is bounded;
// a cascade that still changes the tree at the bound is recorded as an
// error.
func (x *execution) runPruneEmpty(r *rule.Rule) {
	for pass := 1; ; pass++ {
		changed, err := x.emptyPass(r)
		if err != nil {
			x.addError(report.ErrorRecord{
				Rule:    r.ID,
				Message: "walk tree",
				Detail:  err.Error(),
			})

			return
		}

		if !changed {
			return
		}

		if pass >= r.Empty.MaxPasses {
			x.addError(report.ErrorRecord{
				Rule:    r.ID,
				Message: "empty cascade did not converge",
				Detail:  fmt.Sprintf("stopped after %d passes", r.Empty.MaxPasses),
			})

			return
		}
	}
}

// emptyPass performs one sweep over the effective tree: empty files first,
// then empty directories deepest-first so chains collapse within a single
// pass. It reports whether anything was removed.
func (x *execution) emptyPass(r *rule.Rule) (bool, error) {
	var (
		files []string
		dirs  []string
	)

	children := map[string]int{}

	err := fs.WalkDir(os.DirFS(x.e.root), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}

		if d.IsDir() {
			if x.isRemoved(p) {
				return fs.SkipDir
			}

			if x.excludes.Excluded(p) {
				// An excluded subtree still occupies its parent: the
				// parent must not become removable.
				children[path.Dir(p)]++

				return fs.SkipDir
			}

			dirs = append(dirs, p)
			children[path.Dir(p)]++

			return nil
		}

		if x.isRemoved(p) {
			return nil
		}

		files = append(files, p)
		children[path.Dir(p)]++

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("walk %q: %w", x.e.root, err)
	}

	inScope := func(p string) bool {
		if x.excludes.Excluded(p) {
			return false
		}
		if r.Paths == nil {
			return true
		}

		return r.Paths.Matches(p)
	}

	changed := false

	for _, p := range files {
		if !inScope(p) {
			continue
		}

		empty, err := x.isEmptyFile(p, r.Empty.WhitespaceOnly)
		if err != nil {
			x.addError(report.ErrorRecord{
				Rule:    r.ID,
				Path:    p,
				Message: "read file",
				Detail:  err.Error(),
			})

			continue
		}
		if !empty {
			continue
		}

		size := x.fileSize(p)

		if err := x.remove(p); err != nil {
			x.addError(report.ErrorRecord{
				Rule:    r.ID,
				Path:    p,
				Message: "remove empty file",
				Detail:  err.Error(),
			})

			continue
		}

		children[path.Dir(p)]--
		changed = true

		x.addAction(report.Action{
			Rule:   r.ID,
			Kind:   report.ActionEmptyRemoved,
			Path:   p,
			Detail: "file",
			Bytes:  size,
			DryRun: x.e.dryRun,
		})
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})

	for _, p := range dirs {
		if children[p] != 0 || !inScope(p) {
			continue
		}

		if err := x.remove(p); err != nil {
			x.addError(report.ErrorRecord{
				Rule:    r.ID,
				Path:    p,
				Message: "remove empty directory",
				Detail:  err.Error(),
			})

			continue
		}

		children[path.Dir(p)]--
		changed = true

		x.addAction(report.Action{
			Rule:   r.ID,
			Kind:   report.ActionEmptyRemoved,
			Path:   p,
			Detail: "directory",
			DryRun: x.e.dryRun,
		})
	}

	return changed, nil
}

func (x *execution) isRemoved(p string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.removed[p]
}

func (x *execution) isEmptyFile(relPath string, whitespaceOnly bool) (bool, error) {
	size := x.fileSize(relPath)
	if size == 0 {
		return true, nil
	}
	if !whitespaceOnly {
		return false, nil
	}

	data, err := x.readFile(relPath)
	if err != nil {
		return false, err
	}

	return isWhitespaceOnly(data), nil
}
