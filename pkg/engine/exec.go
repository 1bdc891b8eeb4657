package engine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aymanbagabas/go-udiff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/log"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/manifest"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/pattern"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/report"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

// execution carries the mutable state of a single run. Dry-run and apply
// share the same code paths: every read goes through an overlay of pending
// rewrites and removals, so later rules observe the effects of earlier ones
// whether or not the disk was touched.
type execution struct {
	e     *Engine
	rules []*rule.Rule

	// excludes applies on top of every rule's own pattern set. The VCS
	// directory is always off limits.
	excludes *pattern.Set

	mu        sync.Mutex
	actions   []report.Action
	errors    []report.ErrorRecord
	removed   map[string]bool
	rewritten map[string][]byte
}

func newExecution(e *Engine, rules []*rule.Rule) *execution {
	excludes := append([]string{".git"}, e.extraExcludes...)

	return &execution{
		e:         e,
		rules:     rules,
		excludes:  (&pattern.Set{}).WithExclude(excludes...),
		removed:   map[string]bool{},
		rewritten: map[string][]byte{},
	}
}

// run executes the resolved rules in order. Per-file failures become error
// records; only context cancellation escalates.
func (x *execution) run(ctx context.Context) error {
	logger := log.WithContext(ctx)

	// Empty pruning always runs after every other rule, so it observes the
	// full effect of the run. Relative order is otherwise preserved.
	ordered := make([]*rule.Rule, 0, len(x.rules))
	for _, r := range x.rules {
		if r.Kind != rule.KindPruneEmpty {
			ordered = append(ordered, r)
		}
	}
	for _, r := range x.rules {
		if r.Kind == rule.KindPruneEmpty {
			ordered = append(ordered, r)
		}
	}

	for _, r := range ordered {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("execution canceled: %w", err)
		}

		ruleCtx, span := x.e.tracer.Start(ctx, "rule", trace.WithAttributes(
			attribute.String("rule", r.ID),
			attribute.String("kind", string(r.Kind)),
		))

		logger.DebugContext(ruleCtx, "executing rule",
			slog.String("rule", r.ID),
			slog.String("kind", string(r.Kind)),
		)

		var err error

		switch r.Kind {
		case rule.KindStripBlocks, rule.KindStripLines:
			err = x.runStrip(ruleCtx, r)
		case rule.KindDelete:
			err = x.runDelete(ruleCtx, r)
		case rule.KindPruneDeps:
			x.runPruneDeps(r)
		case rule.KindPruneEmpty:
			x.runPruneEmpty(r)
		}

		span.End()

		if err != nil {
			return err
		}
	}

	return nil
}

// resolvePaths resolves a rule's pattern set against the effective tree:
// the disk contents minus everything already removed, minus the run-level
// exclusions.
func (x *execution) resolvePaths(r *rule.Rule) ([]string, error) {
	paths, err := r.Paths.Resolve(os.DirFS(x.e.root))
	if err != nil {
		return nil, err //nolint:wrapcheck // The error record carries the rule id.
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	effective := make([]string, 0, len(paths))
	for _, p := range paths {
		if x.removed[p] || x.excludes.Excluded(p) {
			continue
		}

		effective = append(effective, p)
	}

	return effective, nil
}

// runStrip applies a block- or line-stripping rule to every matched file.
// Matched files never overlap within one rule, so the fan-out needs no
// per-file locking beyond the shared overlay.
func (x *execution) runStrip(ctx context.Context, r *rule.Rule) error {
	paths, err := x.resolvePaths(r)
	if err != nil {
		// Walk failures are recoverable: record and move on to the next
		// rule rather than aborting the run.
		x.addError(report.ErrorRecord{
			Rule:    r.ID,
			Message: "resolve paths",
			Detail:  err.Error(),
		})

		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(x.e.workers, 1))

	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("strip %q: %w", p, err)
			}

			x.stripFile(r, p)

			return nil
		})
	}

	return g.Wait() //nolint:wrapcheck // Goroutines wrap their own errors.
}

func (x *execution) stripFile(r *rule.Rule, relPath string) {
	data, err := x.readFile(relPath)
	if err != nil {
		x.addError(report.ErrorRecord{
			Rule:    r.ID,
			Path:    relPath,
			Message: "read file",
			Detail:  err.Error(),
		})

		return
	}

	var (
		out   string
		count int
		kind  report.ActionKind
	)

	switch r.Kind {
	case rule.KindStripBlocks:
		kind = report.ActionBlockRemoved

		out, count, err = stripBlocks(string(data), r.GetMarkerPair())
		if err != nil {
			x.addError(report.ErrorRecord{
				Rule:    r.ID,
				Path:    relPath,
				Message: "strip blocks",
				Detail:  err.Error(),
			})

			return
		}

	case rule.KindStripLines:
		kind = report.ActionLinesRemoved
		out, count = stripLines(string(data), r.Tag)
	}

	if count == 0 {
		return
	}

	action := report.Action{
		Rule:   r.ID,
		Kind:   kind,
		Path:   relPath,
		Count:  count,
		Bytes:  int64(len(data) - len(out)),
		DryRun: x.e.dryRun,
	}
	if x.e.diff {
		action.Diff = udiff.Unified(relPath, relPath, string(data), out)
	}

	if err := x.writeFile(relPath, []byte(out)); err != nil {
		x.addError(report.ErrorRecord{
			Rule:    r.ID,
			Path:    relPath,
			Message: "write file",
			Detail:  err.Error(),
		})

		return
	}

	x.addAction(action)
}

func (x *execution) runDelete(ctx context.Context, r *rule.Rule) error {
	paths, err := x.resolvePaths(r)
	if err != nil {
		x.addError(report.ErrorRecord{
			Rule:    r.ID,
			Message: "resolve paths",
			Detail:  err.Error(),
		})

		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(x.e.workers, 1))

	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("delete %q: %w", p, err)
			}

			x.deleteFile(r, p)

			return nil
		})
	}

	return g.Wait() //nolint:wrapcheck // Goroutines wrap their own errors.
}

func (x *execution) deleteFile(r *rule.Rule, relPath string) {
	size := x.fileSize(relPath)

	if err := x.remove(relPath); err != nil {
		x.addError(report.ErrorRecord{
			Rule:    r.ID,
			Path:    relPath,
			Message: "delete file",
			Detail:  err.Error(),
		})

		return
	}

	x.addAction(report.Action{
		Rule:   r.ID,
		Kind:   report.ActionFileDeleted,
		Path:   relPath,
		Bytes:  size,
		DryRun: x.e.dryRun,
	})
}

// runPruneDeps removes the rule's dependencies from its manifest. A missing
// manifest file and dependencies absent from the manifest are both silent
// no-ops: generated projects routinely lack some manifests.
func (x *execution) runPruneDeps(r *rule.Rule) {
	m := r.Manifest
	relPath := filepath.ToSlash(m.Path)

	if !x.exists(relPath) || x.excludes.Excluded(relPath) {
		return
	}

	data, err := x.readFile(relPath)
	if err != nil {
		x.addError(report.ErrorRecord{
			Rule:    r.ID,
			Path:    relPath,
			Message: "read manifest",
			Detail:  err.Error(),
		})

		return
	}

	var (
		out      []byte
		removals []manifest.Removal
	)

	switch m.Kind {
	case rule.ManifestNPM:
		out, removals, err = manifest.PruneNPM(data, m.Groups, m.Dependencies)
	case rule.ManifestPip:
		out, removals, err = manifest.PrunePip(data, m.Dependencies)
	}

	if err != nil {
		x.addError(report.ErrorRecord{
			Rule:    r.ID,
			Path:    relPath,
			Message: "prune manifest",
			Detail:  err.Error(),
		})

		return
	}

	if len(removals) == 0 {
		return
	}

	if err := x.writeFile(relPath, out); err != nil {
		x.addError(report.ErrorRecord{
			Rule:    r.ID,
			Path:    relPath,
			Message: "write manifest",
			Detail:  err.Error(),
		})

		return
	}

	for i, rem := range removals {
		action := report.Action{
			Rule:   r.ID,
			Kind:   report.ActionDependencyRemoved,
			Path:   relPath,
			Detail: rem.String(),
			Count:  1,
			DryRun: x.e.dryRun,
		}

		// Byte accounting and the diff describe the whole rewrite; attach
		// them once so the summary does not double count.
		if i == 0 {
			action.Bytes = int64(len(data) - len(out))
			if x.e.diff {
				action.Diff = udiff.Unified(relPath, relPath, string(data), string(out))
			}
		}

		x.addAction(action)
	}
}

// File system access below goes through the overlay, so dry-run reads see
// the results of earlier rules without any disk mutation.

func (x *execution) readFile(relPath string) ([]byte, error) {
	x.mu.Lock()
	data, ok := x.rewritten[relPath]
	x.mu.Unlock()

	if ok {
		return data, nil
	}

	data, err := os.ReadFile(filepath.Join(x.e.root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", relPath, err)
	}

	return data, nil
}

func (x *execution) exists(relPath string) bool {
	x.mu.Lock()
	removed := x.removed[relPath]
	_, rewritten := x.rewritten[relPath]
	x.mu.Unlock()

	if removed {
		return false
	}
	if rewritten {
		return true
	}

	_, err := os.Lstat(filepath.Join(x.e.root, filepath.FromSlash(relPath)))

	return err == nil
}

func (x *execution) fileSize(relPath string) int64 {
	x.mu.Lock()
	data, ok := x.rewritten[relPath]
	x.mu.Unlock()

	if ok {
		return int64(len(data))
	}

	info, err := os.Lstat(filepath.Join(x.e.root, filepath.FromSlash(relPath)))
	if err != nil {
		return 0
	}

	return info.Size()
}

// writeFile records the rewrite in the overlay and, outside dry-run,
// replaces the file atomically via a temp file in the same directory,
// preserving the original mode.
func (x *execution) writeFile(relPath string, data []byte) error {
	if !x.e.dryRun {
		if err := atomicWrite(filepath.Join(x.e.root, filepath.FromSlash(relPath)), data); err != nil {
			return err
		}
	}

	x.mu.Lock()
	x.rewritten[relPath] = data
	x.mu.Unlock()

	return nil
}

func (x *execution) remove(relPath string) error {
	if !x.e.dryRun {
		err := os.Remove(filepath.Join(x.e.root, filepath.FromSlash(relPath)))
		if err != nil {
			return fmt.Errorf("remove %q: %w", relPath, err)
		}
	}

	x.mu.Lock()
	x.removed[relPath] = true
	delete(x.rewritten, relPath)
	x.mu.Unlock()

	return nil
}

func atomicWrite(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Lstat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".devtmpl-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err == nil {
		err = os.Chmod(tmp.Name(), mode)
	}

	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write %q: %w", path, err)
	}

	return nil
}

func (x *execution) addAction(a report.Action) {
	x.mu.Lock()
	x.actions = append(x.actions, a)
	x.mu.Unlock()
}

func (x *execution) addError(e report.ErrorRecord) {
	x.mu.Lock()
	x.errors = append(x.errors, e)
	x.mu.Unlock()
}
