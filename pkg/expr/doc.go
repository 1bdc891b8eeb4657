// Package expr wraps CEL for feature-flag predicates.
//
// Conditions are compiled once at configuration load and evaluated against
// a [FlagMap], a closed boolean environment. Only flag lookups and boolean
// operators are meaningful; there is no access to the file system or to
// arbitrary code.
package expr
