// Package pattern resolves glob-style include/exclude path sets against a
// rooted file tree.
package pattern
