// Package profile defines named, inheritable bundles of cleanup rules.
package profile
