package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

// SQLiteStore keeps one row per filename in a calls table whose columns
// mirror the CSV header. Every cell is stored as text.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Entry
}

func OpenSQLite(path string, mustExist bool, log *logrus.Entry) (*SQLiteStore, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if mustExist {
			return nil, fmt.Errorf("%w: %s", ErrStoreMissing, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, log: logger.OrDiscard(log).WithFields(logrus.Fields{"component": "store", "path": path})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	cols := make([]string, 0, len(types.Header()))
	for _, c := range types.Header() {
		if c == types.ColFilename {
			cols = append(cols, "filename TEXT NOT NULL UNIQUE")
			continue
		}
		cols = append(cols, fmt.Sprintf("%s TEXT NOT NULL DEFAULT ''", c))
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS calls (` + strings.Join(cols, ", ") + `);`); err != nil {
		return fmt.Errorf("create calls table: %w", err)
	}

	rows, err := s.db.Query(`PRAGMA table_info(calls)`)
	if err != nil {
		return err
	}
	present := map[string]bool{}
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		present[name] = true
	}
	rows.Close()
	var added []string
	for _, c := range types.Header() {
		if present[c] {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE calls ADD COLUMN %s TEXT NOT NULL DEFAULT '%s'`, c, types.ColumnDefaults[c])
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s: %w", c, err)
		}
		added = append(added, c)
	}
	if len(added) > 0 {
		s.log.WithField("added_columns", added).Info("migrated record store columns")
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, filename string) bool {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM calls WHERE filename = ?`, filename).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.log.WithError(err).Error("error reading record store")
	}
	return err == nil
}

func insertArgs(rec types.CallRecord) (string, []any) {
	hdr := types.Header()
	f := rec.Fields()
	args := make([]any, len(hdr))
	marks := make([]string, len(hdr))
	for i, c := range hdr {
		args[i] = f[c]
		marks[i] = "?"
	}
	q := fmt.Sprintf(`INSERT INTO calls (%s) VALUES (%s) ON CONFLICT(filename) DO NOTHING`,
		strings.Join(hdr, ", "), strings.Join(marks, ", "))
	return q, args
}

func (s *SQLiteStore) Append(ctx context.Context, rec types.CallRecord) error {
	q, args := insertArgs(rec)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.Filename)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, filename string, fields map[string]string) error {
	n, err := s.UpdateMany(ctx, map[string]map[string]string{filename: fields})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return nil
}

func (s *SQLiteStore) UpdateMany(ctx context.Context, updates map[string]map[string]string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	total := 0
	for filename, fields := range updates {
		var sets []string
		var args []any
		for col, v := range fields {
			if !knownColumn(col) || col == types.ColFilename {
				continue
			}
			sets = append(sets, col+" = ?")
			args = append(args, v)
		}
		if len(sets) == 0 {
			continue
		}
		args = append(args, filename)
		res, err := tx.ExecContext(ctx, `UPDATE calls SET `+strings.Join(sets, ", ")+` WHERE filename = ?`, args...)
		if err != nil {
			return 0, fmt.Errorf("update %s: %w", filename, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, filename string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE filename = ?`, filename)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) Scan(ctx context.Context) ([]types.CallRecord, error) {
	hdr := types.Header()
	rows, err := s.db.QueryContext(ctx, `SELECT `+strings.Join(hdr, ", ")+` FROM calls ORDER BY rowid`)
	if err != nil {
		s.log.WithError(err).Error("error reading record store")
		return nil, err
	}
	defer rows.Close()
	var out []types.CallRecord
	for rows.Next() {
		cells := make([]string, len(hdr))
		ptrs := make([]any, len(hdr))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, types.RecordFromRow(hdr, cells))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RewriteAll(ctx context.Context, recs []types.CallRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM calls`); err != nil {
		return err
	}
	for _, r := range recs {
		q, args := insertArgs(r)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", r.Filename, err)
		}
	}
	return tx.Commit()
}
