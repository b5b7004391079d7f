// Package catalog is the durable bottom tier of the vector store. Each
// project gets its own SQLite database file, so projects can be backed up,
// moved, or cleared independently and a corrupt catalog never takes its
// neighbors down with it.
//
// The catalog is the source of truth: a record is only considered ingested
// once its row is committed here, and the in-memory search tiers are always
// rebuildable from ListLive. Deletes are logical (a superseded flag) so the
// write path never pays for B-tree compaction; VacuumSuperseded reclaims
// space during rebuilds.
//
// Two SQLite drivers are supported via build tags: the default pure Go
// driver (modernc.org/sqlite) needs no C toolchain, while the sqlite_vec
// tag selects the cgo driver (mattn/go-sqlite3) for deployments that want
// native speed. The schema and queries are identical under both.
package catalog
