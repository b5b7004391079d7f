package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smancode/recall/pkg/types"
)

// Catalog is one project's durable record store. Methods are safe for
// concurrent use; SQLite serializes writers behind a single connection.
type Catalog struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Open creates or opens the catalog file at path, applying any pending
// schema migrations. Parent directories are created as needed.
func Open(path string) (*Catalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating catalog directory: %v", types.ErrStorageFault, err)
		}
	}

	db, err := openDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening catalog: %v", types.ErrStorageFault, err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: applying migrations: %v", types.ErrStorageFault, err)
	}

	return &Catalog{db: db, path: path}, nil
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

// Close closes the database connection
func (c *Catalog) Close() error {
	return c.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// upsertRecordWithQuerier is the internal implementation that uses a querier
func (c *Catalog) upsertRecordWithQuerier(ctx context.Context, q querier, rec *types.VectorRecord) error {
	query := `
		INSERT INTO records (id, source_ref, kind, payload, embedding, dimension, superseded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_ref = excluded.source_ref,
			kind = excluded.kind,
			payload = excluded.payload,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			superseded = 0,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := q.ExecContext(ctx, query,
		rec.ID, rec.SourceRef, string(rec.Kind), rec.Payload,
		encodeVector(rec.Embedding), len(rec.Embedding), createdAt, now)
	if err != nil {
		return fmt.Errorf("%w: upserting record %s: %v", types.ErrStorageFault, rec.ID, err)
	}
	return nil
}

// UpsertRecord writes a record, keyed by ID. Re-upserting a superseded ID
// revives it.
func (c *Catalog) UpsertRecord(ctx context.Context, rec *types.VectorRecord) error {
	return c.upsertRecordWithQuerier(ctx, c.db, rec)
}

// UpsertBatch writes records in a single transaction. The batch is all or
// nothing at the catalog level.
func (c *Catalog) UpsertBatch(ctx context.Context, recs []types.VectorRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning batch: %v", types.ErrStorageFault, err)
	}
	for i := range recs {
		if err := c.upsertRecordWithQuerier(ctx, tx, &recs[i]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing batch: %v", types.ErrStorageFault, err)
	}
	return nil
}

// SupersedeBySourceRef marks every live record from the given source as
// superseded and returns their IDs so the caller can evict them from the
// in-memory tiers.
func (c *Catalog) SupersedeBySourceRef(ctx context.Context, sourceRef string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id FROM records WHERE source_ref = ? AND superseded = 0", sourceRef)
	if err != nil {
		return nil, fmt.Errorf("%w: listing records for %s: %v", types.ErrStorageFault, sourceRef, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: scanning record id: %v", types.ErrStorageFault, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("%w: iterating records: %v", types.ErrStorageFault, err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}
	_, err = c.db.ExecContext(ctx,
		"UPDATE records SET superseded = 1, updated_at = ? WHERE source_ref = ? AND superseded = 0",
		time.Now(), sourceRef)
	if err != nil {
		return nil, fmt.Errorf("%w: superseding records for %s: %v", types.ErrStorageFault, sourceRef, err)
	}
	return ids, nil
}

// SupersedeByID marks a single record superseded. Unknown IDs are a no-op.
func (c *Catalog) SupersedeByID(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx,
		"UPDATE records SET superseded = 1, updated_at = ? WHERE id = ? AND superseded = 0",
		time.Now(), id)
	if err != nil {
		return fmt.Errorf("%w: superseding record %s: %v", types.ErrStorageFault, id, err)
	}
	return nil
}

// GetRecord returns a live record by ID.
func (c *Catalog) GetRecord(ctx context.Context, id string) (*types.VectorRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, source_ref, kind, payload, embedding, dimension, created_at
		FROM records WHERE id = ? AND superseded = 0`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: record %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListLive streams every live record into memory, in insertion order. This
// is the rebuild path; superseded rows are skipped entirely.
func (c *Catalog) ListLive(ctx context.Context) ([]types.VectorRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, source_ref, kind, payload, embedding, dimension, created_at
		FROM records WHERE superseded = 0 ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing live records: %v", types.ErrStorageFault, err)
	}
	defer rows.Close()

	var out []types.VectorRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating live records: %v", types.ErrStorageFault, err)
	}
	return out, nil
}

// CountLive returns the number of live records.
func (c *Catalog) CountLive(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE superseded = 0").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: counting records: %v", types.ErrStorageFault, err)
	}
	return n, nil
}

// Clear removes every record and trace row.
func (c *Catalog) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("%w: clearing records: %v", types.ErrStorageFault, err)
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM trace_log"); err != nil {
		return fmt.Errorf("%w: clearing trace log: %v", types.ErrStorageFault, err)
	}
	return nil
}

// VacuumSuperseded physically deletes superseded rows. Safe to run any time;
// typically done right after a rebuild while the index is already locked.
func (c *Catalog) VacuumSuperseded(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM records WHERE superseded = 1"); err != nil {
		return fmt.Errorf("%w: vacuuming superseded records: %v", types.ErrStorageFault, err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*types.VectorRecord, error) {
	var (
		rec       types.VectorRecord
		kind      string
		blob      []byte
		dimension int
	)
	err := s.Scan(&rec.ID, &rec.SourceRef, &kind, &rec.Payload, &blob, &dimension, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scanning record: %v", types.ErrStorageFault, err)
	}
	rec.Kind = types.Kind(kind)
	rec.Embedding, err = decodeVector(blob, dimension)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// TraceEntry is one search recorded in the trace log.
type TraceEntry struct {
	Fingerprint   string        `json:"fingerprint"`
	SearchType    string        `json:"searchType"`
	TopK          int           `json:"topK"`
	ResultCount   int           `json:"resultCount"`
	Duration      time.Duration `json:"durationNs"`
	RerankApplied bool          `json:"rerankApplied"`
	CacheHit      bool          `json:"cacheHit"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// TraceSearch appends a trace row. Trace failures are surfaced to the caller
// but callers generally log and move on; tracing never gates a search.
func (c *Catalog) TraceSearch(ctx context.Context, e TraceEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO trace_log (fingerprint, search_type, top_k, result_count, duration_ms, rerank_applied, cache_hit)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Fingerprint, e.SearchType, e.TopK, e.ResultCount,
		e.Duration.Milliseconds(), boolToInt(e.RerankApplied), boolToInt(e.CacheHit))
	if err != nil {
		return fmt.Errorf("%w: writing trace: %v", types.ErrStorageFault, err)
	}
	return nil
}

// RecentTraces returns the newest trace rows, most recent first.
func (c *Catalog) RecentTraces(ctx context.Context, limit int) ([]TraceEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT fingerprint, search_type, top_k, result_count, duration_ms, rerank_applied, cache_hit, created_at
		FROM trace_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing traces: %v", types.ErrStorageFault, err)
	}
	defer rows.Close()

	var out []TraceEntry
	for rows.Next() {
		var (
			e          TraceEntry
			durationMs int64
			reranked   int
			cacheHit   int
		)
		if err := rows.Scan(&e.Fingerprint, &e.SearchType, &e.TopK, &e.ResultCount,
			&durationMs, &reranked, &cacheHit, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning trace: %v", types.ErrStorageFault, err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.RerankApplied = reranked != 0
		e.CacheHit = cacheHit != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating traces: %v", types.ErrStorageFault, err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
