// Package cache stores computed transformation plans keyed by a
// configuration fingerprint and a content digest of the files the resolved
// rules could touch.
package cache
