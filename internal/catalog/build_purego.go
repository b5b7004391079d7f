//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package catalog

// This file is compiled when building without CGO or with the purego tag.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// The pure Go driver needs no C compiler and cross-compiles cleanly. It is
// the default and is plenty fast for catalogs that fit a single host.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
