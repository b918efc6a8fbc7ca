package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"libimport/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL UNIQUE,
  startedAt TEXT NOT NULL,
  finishedAt TEXT NOT NULL,
  scratchDir TEXT NOT NULL,
  files INTEGER NOT NULL,
  records INTEGER NOT NULL,
  firstId INTEGER,
  lastId INTEGER,
  backedUp INTEGER NOT NULL DEFAULT 0,
  dryRun INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS file_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId INTEGER NOT NULL,
  file TEXT NOT NULL,
  format TEXT NOT NULL,
  category TEXT NOT NULL,
  headerLine INTEGER NOT NULL,
  headerJson TEXT NOT NULL,
  records INTEGER NOT NULL,
  status TEXT NOT NULL,
  reason TEXT,
  FOREIGN KEY(runId) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_file_results_runId ON file_results(runId);

CREATE TABLE IF NOT EXISTS attachments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  fileName TEXT NOT NULL,
  hash TEXT NOT NULL UNIQUE,
  path TEXT NOT NULL,
  importedAt TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	if _, err := d.conn.Exec(schema); err != nil {
		return err
	}
	// ledgers created before importedAt existed
	return d.ensureColumn("attachments", "importedAt", "TEXT")
}

func (d *DB) ensureColumn(table, column, decl string) error {
	var n int
	if err := d.conn.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err := d.conn.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

// InsertRun stores a finished run with its per-file outcomes in one transaction.
func (d *DB) InsertRun(run internal.RunRow, files []internal.FileResult) (int64, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.Exec(`
INSERT INTO runs (traceId, startedAt, finishedAt, scratchDir, files, records, firstId, lastId, backedUp, dryRun, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.TraceID, run.StartedAt, run.FinishedAt, run.ScratchDir, run.Files, run.Records, run.FirstID, run.LastID, run.BackedUp, run.DryRun, run.Error)
	if err != nil {
		return 0, err
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`
INSERT INTO file_results (runId, file, format, category, headerLine, headerJson, records, status, reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, f := range files {
		headerJSON, _ := json.Marshal(f.Header)
		var reason *string
		if f.Reason != "" {
			reason = &f.Reason
		}
		if _, err := stmt.Exec(runID, f.File, string(f.Format), f.Category, f.HeaderLine, string(headerJSON), f.Records, string(f.Status), reason); err != nil {
			return 0, err
		}
	}

	return runID, tx.Commit()
}

func (d *DB) ListRuns(limit int) ([]internal.RunRow, error) {
	rows, err := d.conn.Query(`
SELECT id, traceId, startedAt, finishedAt, scratchDir, files, records, firstId, lastId, backedUp, dryRun, error
FROM runs ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.RunRow
	for rows.Next() {
		var r internal.RunRow
		if err := rows.Scan(&r.ID, &r.TraceID, &r.StartedAt, &r.FinishedAt, &r.ScratchDir, &r.Files, &r.Records, &r.FirstID, &r.LastID, &r.BackedUp, &r.DryRun, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DB) ListFileResults(runID int) ([]internal.FileResult, error) {
	rows, err := d.conn.Query(`
SELECT file, format, category, headerLine, headerJson, records, status, reason
FROM file_results WHERE runId = ? ORDER BY id ASC
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.FileResult
	for rows.Next() {
		var f internal.FileResult
		var headerJSON string
		var reason sql.NullString
		if err := rows.Scan(&f.File, &f.Format, &f.Category, &f.HeaderLine, &headerJSON, &f.Records, &f.Status, &reason); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(headerJSON), &f.Header)
		f.Reason = reason.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (d *DB) HasAttachment(hash string) (bool, error) {
	var id int
	err := d.conn.QueryRow(`SELECT id FROM attachments WHERE hash = ?`, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *DB) InsertAttachment(row internal.AttachmentRow) error {
	_, err := d.conn.Exec(`
INSERT INTO attachments (provider, messageId, fileName, hash, path) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(hash) DO NOTHING
`, row.Provider, row.MessageID, row.FileName, row.Hash, row.Path)
	return err
}

// PendingAttachments lists staged attachments that no import run has processed yet.
func (d *DB) PendingAttachments() ([]internal.AttachmentRow, error) {
	rows, err := d.conn.Query(`
SELECT id, provider, messageId, fileName, hash, path
FROM attachments WHERE importedAt IS NULL ORDER BY id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.AttachmentRow
	for rows.Next() {
		var r internal.AttachmentRow
		if err := rows.Scan(&r.ID, &r.Provider, &r.MessageID, &r.FileName, &r.Hash, &r.Path); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkAttachmentsImported closes out the staged attachments stored at the given paths.
// Paths that were not staged from mail are ignored.
func (d *DB) MarkAttachmentsImported(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`UPDATE attachments SET importedAt = CURRENT_TIMESTAMP WHERE path = ? AND importedAt IS NULL`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, path := range paths {
		if _, err := stmt.Exec(path); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
