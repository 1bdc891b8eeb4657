// Package report assembles the structured output of a cleanup run:
// canonically ordered actions, non-fatal error records, and a category
// summary.
package report
