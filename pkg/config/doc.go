// Package config loads the layered cleanup configuration and resolves it
// into a flat, ordered rule list.
//
// A configuration document contains marker-pair definitions, profiles with
// single-inheritance extends chains, and feature-conditional rule groups.
// Documents are schema-validated before decoding, and every
// cross-reference (markers, extends targets, conditions) is checked at
// load time: a malformed configuration fails the whole run before any file
// is touched.
package config
