// Package manifest rewrites dependency manifests in place, preserving
// unrelated formatting. Supported dialects: npm (package.json) and pip
// (requirements.txt).
package manifest
