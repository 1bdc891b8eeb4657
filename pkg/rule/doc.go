// Package rule defines the cleanup rule model: one named, typed directive
// per executor kind, with glob path sets and optional feature-flag
// conditions.
package rule
