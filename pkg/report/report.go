package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// ActionKind categorizes one concrete cleanup effect.
type ActionKind string

const (
	ActionBlockRemoved      ActionKind = "block-removed"
	ActionLinesRemoved      ActionKind = "lines-removed"
	ActionFileDeleted       ActionKind = "file-deleted"
	ActionDependencyRemoved ActionKind = "dependency-removed"
	ActionEmptyRemoved      ActionKind = "empty-removed"
)

// Action is an immutable record of one effect performed by a rule, or that
// would be performed in dry-run mode. Actions are append-only and never
// mutated after creation.
type Action struct {
	// Rule is the id of the producing rule.
	Rule string `json:"rule"`
	// Kind categorizes the effect.
	Kind ActionKind `json:"kind"`
	// Path is the target path relative to the root.
	Path string `json:"path"`
	// Detail carries kind-specific context, e.g. the removed dependency
	// name.
	Detail string `json:"detail,omitempty"`
	// Count is the number of blocks or lines removed.
	Count int `json:"count,omitempty"`
	// Bytes is the number of bytes the action reclaims.
	Bytes int64 `json:"bytes,omitempty"`
	// Diff is an optional unified diff of an in-place rewrite.
	Diff string `json:"diff,omitempty"`
	// DryRun reports whether the action executed in dry-run mode.
	DryRun bool `json:"dryRun"`
}

// ErrorRecord is a non-fatal failure tied to a rule/file pair. It never
// halts the run.
type ErrorRecord struct {
	// Rule is the id of the rule that hit the failure.
	Rule string `json:"rule"`
	// Path is the offending path, when one applies.
	Path string `json:"path,omitempty"`
	// Message describes the failure.
	Message string `json:"message"`
	// Detail carries optional diagnostic detail.
	Detail string `json:"detail,omitempty"`
}

// Summary counts actions by category.
type Summary struct {
	// Actions maps action kinds to their counts.
	Actions map[ActionKind]int `json:"actions"`
	// Errors is the number of error records.
	Errors int `json:"errors"`
	// Bytes is the total number of bytes reclaimed.
	Bytes int64 `json:"bytes"`
}

func (s Summary) String() string {
	if len(s.Actions) == 0 {
		return fmt.Sprintf("no actions, %d errors", s.Errors)
	}

	parts := make([]string, 0, len(s.Actions))
	for _, kind := range allKinds {
		if n := s.Actions[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, kind))
		}
	}

	return fmt.Sprintf("%s, %s reclaimed, %d errors",
		strings.Join(parts, ", "), humanize.Bytes(uint64(max(s.Bytes, 0))), s.Errors) //nolint:gosec // G115: clamped above.
}

var allKinds = []ActionKind{
	ActionBlockRemoved,
	ActionLinesRemoved,
	ActionFileDeleted,
	ActionDependencyRemoved,
	ActionEmptyRemoved,
}

// Report is the structured output of one cleanup run, consumed by the gap
// analyzer and CI. It is a pure function of (file tree, resolved rule set,
// options) at the moment of the run, modulo the id and timestamp.
type Report struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`
	// Timestamp is the run start time.
	Timestamp time.Time `json:"timestamp"`
	// Profile is the resolved profile name.
	Profile string `json:"profile"`
	// Flags is the active feature-flag set.
	Flags map[string]bool `json:"flags"`
	// DryRun reports whether the run mutated the file system.
	DryRun bool `json:"dryRun"`
	// Actions is the canonically ordered action list.
	Actions []Action `json:"actions"`
	// Errors lists the non-fatal failures of the run.
	Errors []ErrorRecord `json:"errors"`
	// Summary counts actions by category.
	Summary Summary `json:"summary"`
}

// New creates a new [Report] shell for a run.
func New(profileName string, flags map[string]bool, dryRun bool) *Report {
	if flags == nil {
		flags = map[string]bool{}
	}

	return &Report{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Profile:   profileName,
		Flags:     flags,
		DryRun:    dryRun,
		Actions:   []Action{},
		Errors:    []ErrorRecord{},
	}
}

// Finalize sorts the actions into canonical order (rule declaration order,
// then path) and computes the summary. The rule index maps rule ids to
// their declaration position; unknown rules sort last.
func (r *Report) Finalize(ruleIndex map[string]int) {
	SortActions(r.Actions, ruleIndex)

	summary := Summary{
		Actions: map[ActionKind]int{},
		Errors:  len(r.Errors),
	}
	for _, a := range r.Actions {
		summary.Actions[a.Kind]++
		summary.Bytes += a.Bytes
	}

	r.Summary = summary
}

// SortActions orders actions by rule declaration order, then by path, so
// report equality does not depend on scheduling.
func SortActions(actions []Action, ruleIndex map[string]int) {
	sort.SliceStable(actions, func(i, j int) bool {
		ri, iOK := ruleIndex[actions[i].Rule]
		rj, jOK := ruleIndex[actions[j].Rule]

		if !iOK {
			ri = len(ruleIndex)
		}
		if !jOK {
			rj = len(ruleIndex)
		}

		if ri != rj {
			return ri < rj
		}
		if actions[i].Path != actions[j].Path {
			return actions[i].Path < actions[j].Path
		}

		return actions[i].Detail < actions[j].Detail
	})
}
