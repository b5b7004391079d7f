// Package store stacks the three retrieval tiers behind one type. Reads hit
// the per-project result cache first, fall through to the in-memory graph
// index, and are hydrated from the SQLite catalog. Writes go the other way:
// a record is committed to the catalog before it becomes searchable, and any
// write purges the project's result cache so a cached answer can never
// outlive the data it was computed from.
//
// Projects are isolated end to end. Each gets its own catalog file, its own
// index, its own cache, and its own reader/writer lock, so a rebuild in one
// project never blocks a search in another.
package store
