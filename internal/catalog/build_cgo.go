//go:build sqlite_vec
// +build sqlite_vec

package catalog

// This file is compiled when building with CGO and the sqlite_vec tag.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// The cgo driver is faster on large catalogs and is recommended for
// production deployments with many projects.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
