package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/cache"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/config"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/log"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/report"
	"github.com/XylarDark/DevEnvTemplate-sub002/pkg/rule"
)

// State tracks the engine through one run.
type State string

const (
	StateInitialized State = "initialized"
	StateResolving   State = "resolving"
	StateCacheHit    State = "cache-hit"
	StateExecuting   State = "executing"
	StateReporting   State = "reporting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// ErrActionsDetected signals the fail-on-actions gate: the run completed,
// but cleanup would (or did) change files.
var ErrActionsDetected = errors.New("cleanup actions detected")

// Engine drives one cleanup run: resolution, cache lookup, execution, and
// report assembly. It owns dry-run semantics and the action/error log.
type Engine struct {
	tracer trace.Tracer
	cfg    *config.Config
	cache  cache.Cache

	// root is the absolute target directory. All rule paths are relative
	// to it and no operation may escape it.
	root string

	profileName   string
	flags         map[string]bool
	allowRules    []string
	denyRules     []string
	extraExcludes []string
	workers       int
	state         State
	mu            sync.Mutex
	dryRun        bool
	diff          bool
	failOnActions bool
}

// New creates a new [Engine] for the given target root.
func New(root string, cfg *config.Config, opts ...Opt) (*Engine, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q: not a directory", root)
	}

	e := &Engine{
		tracer:      otel.Tracer("cleanup-engine"),
		cfg:         cfg,
		cache:       cache.Noop{},
		root:        absRoot,
		profileName: "default",
		flags:       map[string]bool{},
		state:       StateInitialized,
	}

	for _, opt := range opts {
		err := opt(e)
		if err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	return e, nil
}

type Opt func(e *Engine) error

// WithProfile selects the active profile.
func WithProfile(name string) Opt {
	return func(e *Engine) error {
		if name == "" {
			return errors.New("profile name must not be empty")
		}

		e.profileName = name

		return nil
	}
}

// WithFlags sets the feature-flag set supplied by the manifest generator.
func WithFlags(flags map[string]bool) Opt {
	return func(e *Engine) error {
		if flags != nil {
			e.flags = flags
		}

		return nil
	}
}

// WithDryRun computes and reports intended effects without mutating the
// file system.
func WithDryRun(dryRun bool) Opt {
	return func(e *Engine) error {
		e.dryRun = dryRun

		return nil
	}
}

// WithDiff records unified diffs of in-place rewrites on their actions.
func WithDiff(diff bool) Opt {
	return func(e *Engine) error {
		e.diff = diff

		return nil
	}
}

// WithRuleFilter restricts execution to allow-listed rule ids and drops
// deny-listed ones. Either list may be empty.
func WithRuleFilter(allow, deny []string) Opt {
	return func(e *Engine) error {
		e.allowRules = allow
		e.denyRules = deny

		return nil
	}
}

// WithExcludes adds path exclusions on top of every rule's own patterns.
func WithExcludes(patterns ...string) Opt {
	return func(e *Engine) error {
		e.extraExcludes = append(e.extraExcludes, patterns...)

		return nil
	}
}

// WithCache injects the plan cache handle. Callers opting into cross-run
// sharing reuse the same handle; there is no implicit global state.
func WithCache(c cache.Cache) Opt {
	return func(e *Engine) error {
		if c == nil {
			return errors.New("cache must not be nil")
		}

		e.cache = c

		return nil
	}
}

// WithWorkers enables parallel execution of file-level work with the given
// pool size. Zero or one keeps the default sequential execution.
func WithWorkers(n int) Opt {
	return func(e *Engine) error {
		if n < 0 {
			return fmt.Errorf("worker count must not be negative: %d", n)
		}

		e.workers = n

		return nil
	}
}

// WithFailOnActions makes a non-empty action list a run failure, so CI can
// treat "cleanup would change files" as a gate.
func WithFailOnActions(fail bool) Opt {
	return func(e *Engine) error {
		e.failOnActions = fail

		return nil
	}
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = s
}

// Run executes one cleanup: resolve, consult the cache, execute or replay,
// and assemble the report. Configuration errors fail the run before any
// file is touched; execution-time failures become error records on the
// report.
func (e *Engine) Run(ctx context.Context) (*report.Report, error) {
	ctx, span := e.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("root", e.root),
		attribute.String("profile", e.profileName),
		attribute.Bool("dry_run", e.dryRun),
	))
	defer span.End()

	logger := log.WithContext(ctx)

	e.setState(StateResolving)

	res, err := e.cfg.Resolve(e.profileName, e.flags)
	if err != nil {
		e.setState(StateFailed)

		return nil, fmt.Errorf("resolve profile %q: %w", e.profileName, err)
	}

	rules := e.filterRules(res.Rules)
	ruleIndex := make(map[string]int, len(rules))
	for i, r := range rules {
		ruleIndex[r.ID] = i
	}

	rep := report.New(res.Profile, res.Flags, e.dryRun)

	digest, err := e.digest(ctx, rules)
	if err != nil {
		e.setState(StateFailed)

		return nil, fmt.Errorf("compute content digest: %w", err)
	}

	// The cache can only short-circuit runs that do not mutate: an apply
	// run must still perform its effects even when the plan is known.
	if e.dryRun {
		if plan, ok := e.cache.Get(res.Fingerprint, digest); ok {
			e.setState(StateCacheHit)
			logger.DebugContext(ctx, "cache hit",
				slog.String("fingerprint", res.Fingerprint),
				slog.Int("actions", len(plan.Actions)),
			)

			// Plans recorded by apply runs replay with the current mode.
			for _, a := range plan.Actions {
				a.DryRun = true
				rep.Actions = append(rep.Actions, a)
			}

			rep.Errors = append(rep.Errors, plan.Errors...)

			return e.finish(rep, ruleIndex)
		}
	}

	e.setState(StateExecuting)

	ex := newExecution(e, rules)

	err = ex.run(ctx)
	if err != nil {
		// Executions fail only on context-level problems; rule and file
		// failures are recorded, not escalated.
		e.setState(StateFailed)

		return nil, err
	}

	rep.Actions = append(rep.Actions, ex.actions...)
	rep.Errors = append(rep.Errors, ex.errors...)

	report.SortActions(rep.Actions, ruleIndex)
	e.cache.Put(res.Fingerprint, digest, cache.Plan{
		Actions: rep.Actions,
		Errors:  rep.Errors,
	})

	return e.finish(rep, ruleIndex)
}

func (e *Engine) finish(rep *report.Report, ruleIndex map[string]int) (*report.Report, error) {
	e.setState(StateReporting)

	rep.Finalize(ruleIndex)

	if e.failOnActions && len(rep.Actions) > 0 {
		e.setState(StateFailed)

		return rep, fmt.Errorf("%w: %d actions", ErrActionsDetected, len(rep.Actions))
	}

	e.setState(StateDone)

	return rep, nil
}

// filterRules applies the allow/deny rule id filters.
func (e *Engine) filterRules(rules []*rule.Rule) []*rule.Rule {
	filtered := make([]*rule.Rule, 0, len(rules))

	for _, r := range rules {
		if len(e.allowRules) > 0 && !slices.Contains(e.allowRules, r.ID) {
			continue
		}
		if slices.Contains(e.denyRules, r.ID) {
			continue
		}

		filtered = append(filtered, r)
	}

	return filtered
}

func (e *Engine) String() string {
	return fmt.Sprintf("%s: profile %s (%d flags)", e.root, e.profileName, len(e.flags))
}
