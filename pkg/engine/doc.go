// Package engine orchestrates cleanup runs: it resolves the active profile
// into an ordered rule list, executes each rule's effects against the
// target tree, and assembles a canonical report.
//
// Dry-run and apply share one code path. All reads go through an overlay
// of pending rewrites and removals; apply additionally commits each change
// atomically. A run therefore reports the same actions whether or not the
// disk is touched.
package engine
