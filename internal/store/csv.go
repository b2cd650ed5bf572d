package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

// CSVStore keeps records in a flat CSV file with a header row. Appends write
// one complete row; every other write replaces the file through a rename.
type CSVStore struct {
	path   string
	mu     sync.RWMutex
	header []string
	log    *logrus.Entry
}

func OpenCSV(path string, mustExist bool, log *logrus.Entry) (*CSVStore, error) {
	s := &CSVStore{path: path, log: logger.OrDiscard(log).WithFields(logrus.Fields{"component": "store", "path": path})}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if mustExist {
			return nil, fmt.Errorf("%w: %s", ErrStoreMissing, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		s.header = types.Header()
		if err := s.writeAll(s.header, nil); err != nil {
			return nil, err
		}
		s.log.Info("initialized empty record store")
		return s, nil
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSVStore) Close() error { return nil }

// migrate adds declared columns the file lacks, filling defaults.
func (s *CSVStore) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	header, rows, err := s.readRaw()
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	if len(header) == 0 {
		s.header = types.Header()
		return s.writeAll(s.header, nil)
	}
	present := map[string]bool{}
	for _, h := range header {
		present[h] = true
	}
	var added []string
	for _, col := range types.Header() {
		if !present[col] {
			added = append(added, col)
		}
	}
	if len(added) == 0 {
		s.header = header
		return nil
	}
	newHeader := types.Header()
	for _, h := range header {
		if !knownColumn(h) {
			newHeader = append(newHeader, h)
		}
	}
	for _, row := range rows {
		for _, col := range added {
			row[col] = types.ColumnDefaults[col]
		}
	}
	if err := s.writeAll(newHeader, rows); err != nil {
		return err
	}
	s.header = newHeader
	s.log.WithField("added_columns", added).Info("migrated record store columns")
	return nil
}

// readRaw returns the header and rows keyed by column name.
func (s *CSVStore) readRaw() ([]string, []map[string]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrStoreMissing, s.path)
		}
		return nil, nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func encodeRow(header []string, row map[string]string) []string {
	out := make([]string, len(header))
	for i, col := range header {
		out[i] = row[col]
	}
	return out
}

// writeAll writes a complete replacement next to the file and renames it
// over the original.
func (s *CSVStore) writeAll(header []string, rows []map[string]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".records-*.csv")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())
	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	for _, row := range rows {
		if err := w.Write(encodeRow(header, row)); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func (s *CSVStore) existsLocked(filename string) (bool, error) {
	_, rows, err := s.readRaw()
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if row[types.ColFilename] == filename {
			return true, nil
		}
	}
	return false, nil
}

// Exists treats an unreadable store as empty and logs the error.
func (s *CSVStore) Exists(ctx context.Context, filename string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.existsLocked(filename)
	if err != nil {
		s.log.WithError(err).Error("error reading record store")
		return false
	}
	return ok
}

func (s *CSVStore) Append(ctx context.Context, rec types.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup, err := s.existsLocked(rec.Filename)
	if err != nil && !errors.Is(err, ErrStoreMissing) {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if dup {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.Filename)
	}
	if errors.Is(err, ErrStoreMissing) {
		if err := s.writeAll(s.header, nil); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(encodeRow(s.header, rec.Fields()))
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append row: %w", err)
	}
	return f.Close()
}

func (s *CSVStore) Update(ctx context.Context, filename string, fields map[string]string) error {
	n, err := s.UpdateMany(ctx, map[string]map[string]string{filename: fields})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, filename)
	}
	return nil
}

// UpdateMany applies column updates per filename in one rewrite and returns
// the number of rows changed. Unknown columns are ignored.
func (s *CSVStore) UpdateMany(ctx context.Context, updates map[string]map[string]string) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	header, rows, err := s.readRaw()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		u, ok := updates[row[types.ColFilename]]
		if !ok {
			continue
		}
		for col, v := range u {
			if knownColumn(col) && col != types.ColFilename {
				row[col] = v
			}
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.writeAll(header, rows)
}

func (s *CSVStore) Delete(ctx context.Context, filename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	header, rows, err := s.readRaw()
	if err != nil {
		return false, err
	}
	kept := rows[:0]
	for _, row := range rows {
		if row[types.ColFilename] != filename {
			kept = append(kept, row)
		}
	}
	if len(kept) == len(rows) {
		return false, nil
	}
	if err := s.writeAll(header, kept); err != nil {
		return false, err
	}
	s.log.WithField("filename", filename).Info("deleted record")
	return true, nil
}

func (s *CSVStore) Scan(ctx context.Context) ([]types.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, rows, err := s.readRaw()
	if err != nil {
		s.log.WithError(err).Error("error reading record store")
		return nil, err
	}
	out := make([]types.CallRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.RecordFromFields(row))
	}
	return out, nil
}

func (s *CSVStore) RewriteAll(ctx context.Context, recs []types.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Columns outside the record schema are carried over by filename.
	extra := map[string]map[string]string{}
	if _, old, err := s.readRaw(); err == nil {
		for _, row := range old {
			kept := map[string]string{}
			for col, v := range row {
				if !knownColumn(col) {
					kept[col] = v
				}
			}
			if len(kept) > 0 {
				extra[row[types.ColFilename]] = kept
			}
		}
	}
	rows := make([]map[string]string, 0, len(recs))
	for _, r := range recs {
		row := r.Fields()
		for col, v := range extra[r.Filename] {
			row[col] = v
		}
		rows = append(rows, row)
	}
	return s.writeAll(s.header, rows)
}
