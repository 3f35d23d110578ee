// Package db persists analysis snapshots in DuckDB so a restarted process can
// skip regenerating and re-extracting the standard library.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/analysis"
	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rustdoc"
)

type DB struct {
	conn *sql.DB
}

func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.Errorf("creating cache directory: %w", err)
	}

	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, errors.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, errors.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_snapshot_id START 1;`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY,
			key TEXT NOT NULL,
			structs INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS struct_infos (
			snapshot_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			info TEXT NOT NULL,
			PRIMARY KEY (snapshot_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS struct_paths (
			snapshot_id INTEGER NOT NULL,
			path TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (snapshot_id, path)
		)`,

		`CREATE TABLE IF NOT EXISTS items (
			snapshot_id INTEGER NOT NULL,
			path TEXT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (snapshot_id, path)
		)`,

		`CREATE TABLE IF NOT EXISTS failures (
			snapshot_id INTEGER NOT NULL,
			path TEXT NOT NULL,
			code TEXT NOT NULL,
			detail TEXT NOT NULL,
			PRIMARY KEY (snapshot_id, path)
		)`,
	}

	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return errors.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}

// --- Snapshot operations ---

type Snapshot struct {
	ID      int    `json:"id" yaml:"id"`
	Key     string `json:"key" yaml:"key"`
	Structs int    `json:"structs" yaml:"structs"`
}

func (db *DB) snapshotID(ctx context.Context, key string) (int, bool, error) {
	var id int
	err := db.conn.QueryRowContext(ctx, `SELECT id FROM snapshots WHERE key = ? ORDER BY id DESC LIMIT 1`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Errorf("finding snapshot: %w", err)
	}
	return id, true, nil
}

// LoadSnapshot rebuilds the table stored under key. Re-export paths share one
// StructInfo per canonical name, as they did when the table was built.
func (db *DB) LoadSnapshot(ctx context.Context, key string) (*analysis.Table, bool, error) {
	id, ok, err := db.snapshotID(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	infos := make(map[string]*rustdoc.StructInfo)
	rows, err := db.conn.QueryContext(ctx, `SELECT name, info FROM struct_infos WHERE snapshot_id = ?`, id)
	if err != nil {
		return nil, false, errors.Errorf("loading structs: %w", err)
	}
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			rows.Close()
			return nil, false, err
		}
		var info rustdoc.StructInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			rows.Close()
			return nil, false, errors.Errorf("decoding struct %s: %w", name, err)
		}
		if info.Fields == nil {
			info.Fields = []rustdoc.FieldInfo{}
		}
		infos[name] = &info
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	table := analysis.NewTable()

	rows, err = db.conn.QueryContext(ctx, `SELECT path, name FROM struct_paths WHERE snapshot_id = ?`, id)
	if err != nil {
		return nil, false, errors.Errorf("loading struct paths: %w", err)
	}
	for rows.Next() {
		var path, name string
		if err := rows.Scan(&path, &name); err != nil {
			rows.Close()
			return nil, false, err
		}
		info, ok := infos[name]
		if !ok {
			rows.Close()
			return nil, false, errors.Errorf("snapshot %d: path %s refers to missing struct %s", id, path, name)
		}
		table.AddStruct(path, info)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	rows, err = db.conn.QueryContext(ctx, `SELECT path, kind FROM items WHERE snapshot_id = ?`, id)
	if err != nil {
		return nil, false, errors.Errorf("loading items: %w", err)
	}
	for rows.Next() {
		var path, kind string
		if err := rows.Scan(&path, &kind); err != nil {
			rows.Close()
			return nil, false, err
		}
		table.AddKind(path, kind)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	rows, err = db.conn.QueryContext(ctx, `SELECT path, code, detail FROM failures WHERE snapshot_id = ?`, id)
	if err != nil {
		return nil, false, errors.Errorf("loading failures: %w", err)
	}
	for rows.Next() {
		var path, code, detail string
		if err := rows.Scan(&path, &code, &detail); err != nil {
			rows.Close()
			return nil, false, err
		}
		table.AddFailure(path, decodeFailure(path, code, detail))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if _, err := db.conn.ExecContext(ctx, `UPDATE snapshots SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
		slogctx.FromCtx(ctx).DebugContext(ctx, "failed to touch snapshot", "id", id, "error", err)
	}
	return table, true, nil
}

// SaveSnapshot replaces whatever is stored under key with table.
func (db *DB) SaveSnapshot(ctx context.Context, key string, table *analysis.Table) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteWhere(ctx, tx, `SELECT id FROM snapshots WHERE key = ?`, key); err != nil {
		return err
	}

	var id int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO snapshots (id, key, structs) VALUES (nextval('seq_snapshot_id'), ?, ?) RETURNING id`,
		key, table.Len(),
	).Scan(&id)
	if err != nil {
		return errors.Errorf("inserting snapshot: %w", err)
	}

	var saveErr error
	saved := make(map[string]bool)
	table.RangeStructs(func(path string, info *rustdoc.StructInfo) bool {
		if !saved[info.Name] {
			raw, err := json.Marshal(info)
			if err != nil {
				saveErr = errors.Errorf("encoding struct %s: %w", info.Name, err)
				return false
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO struct_infos (snapshot_id, name, info) VALUES (?, ?, ?)`,
				id, info.Name, string(raw),
			); err != nil {
				saveErr = errors.Errorf("inserting struct %s: %w", info.Name, err)
				return false
			}
			saved[info.Name] = true
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO struct_paths (snapshot_id, path, name) VALUES (?, ?, ?)`,
			id, path, info.Name,
		); err != nil {
			saveErr = errors.Errorf("inserting struct path %s: %w", path, err)
			return false
		}
		return true
	})
	if saveErr != nil {
		return saveErr
	}

	table.RangeKinds(func(path, kind string) bool {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO items (snapshot_id, path, kind) VALUES (?, ?, ?)`, id, path, kind,
		); err != nil {
			saveErr = errors.Errorf("inserting item %s: %w", path, err)
			return false
		}
		return true
	})
	if saveErr != nil {
		return saveErr
	}

	table.RangeFailures(func(path string, failure error) bool {
		code, detail := encodeFailure(failure)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO failures (snapshot_id, path, code, detail) VALUES (?, ?, ?, ?)`, id, path, code, detail,
		); err != nil {
			saveErr = errors.Errorf("inserting failure %s: %w", path, err)
			return false
		}
		return true
	})
	if saveErr != nil {
		return saveErr
	}

	if err := tx.Commit(); err != nil {
		return errors.Errorf("committing snapshot: %w", err)
	}
	slogctx.FromCtx(ctx).DebugContext(ctx, "saved snapshot", "key", key, "id", id, "structs", table.Len())
	return nil
}

func (db *DB) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, key, structs FROM snapshots ORDER BY last_used_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.Key, &s.Structs); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// PruneSnapshots keeps the keep most recently used snapshots and deletes the
// rest. It returns the number deleted.
func (db *DB) PruneSnapshots(ctx context.Context, keep int) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count); err != nil {
		return 0, err
	}
	if count <= keep {
		return 0, nil
	}
	if err := deleteWhere(ctx, tx,
		`SELECT id FROM snapshots ORDER BY last_used_at DESC, id DESC OFFSET ?`, keep,
	); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count - keep, nil
}

// DeleteSnapshots removes every stored snapshot.
func (db *DB) DeleteSnapshots(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteWhere(ctx, tx, `SELECT id FROM snapshots`); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteWhere deletes the snapshots whose ids the selector returns, along
// with their rows in every other table.
func deleteWhere(ctx context.Context, tx *sql.Tx, selector string, args ...interface{}) error {
	for _, table := range []string{"struct_infos", "struct_paths", "items", "failures"} {
		q := `DELETE FROM ` + table + ` WHERE snapshot_id IN (` + selector + `)`
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return errors.Errorf("deleting from %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id IN (`+selector+`)`, args...); err != nil {
		return errors.Errorf("deleting snapshots: %w", err)
	}
	return nil
}

// encodeFailure flattens a per-path failure into an RPC code and the detail
// needed to rebuild it.
func encodeFailure(err error) (code, detail string) {
	code = errdefs.Code(err)
	var notFound *errdefs.TypeNotFoundError
	var structural *errdefs.StructuralError
	switch {
	case errors.As(err, &notFound):
		detail = strings.Join(notFound.Ambiguous, "\n")
	case errors.As(err, &structural):
		detail = structural.Reason
	default:
		detail = err.Error()
	}
	return code, detail
}

func decodeFailure(path, code, detail string) error {
	if code == errdefs.CodeTypeNotFound {
		e := &errdefs.TypeNotFoundError{Path: path}
		if detail != "" {
			e.Ambiguous = strings.Split(detail, "\n")
		}
		return e
	}
	return errdefs.FromCode(code, path, "", detail)
}
