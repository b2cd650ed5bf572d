// Package store persists call records keyed by filename.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/types"
)

var (
	ErrDuplicate    = errors.New("record already exists")
	ErrNotFound     = errors.New("record not found")
	ErrStoreMissing = errors.New("record store does not exist")
)

// Store is the record repository. Implementations serialize all writers, and
// Append re-checks the filename under the write lock.
type Store interface {
	Exists(ctx context.Context, filename string) bool
	Append(ctx context.Context, rec types.CallRecord) error
	Update(ctx context.Context, filename string, fields map[string]string) error
	UpdateMany(ctx context.Context, updates map[string]map[string]string) (int, error)
	Delete(ctx context.Context, filename string) (bool, error)
	Scan(ctx context.Context) ([]types.CallRecord, error)
	RewriteAll(ctx context.Context, recs []types.CallRecord) error
	Close() error
}

type Options struct {
	Backend    string // csv or sqlite
	CSVPath    string
	SQLitePath string
	// MustExist makes Open fail with ErrStoreMissing instead of creating
	// an empty store. Maintenance jobs set it.
	MustExist bool
}

// Open returns the backend named in opts.
func Open(opts Options, log *logrus.Entry) (Store, error) {
	switch opts.Backend {
	case "", "csv":
		return OpenCSV(opts.CSVPath, opts.MustExist, log)
	case "sqlite":
		return OpenSQLite(opts.SQLitePath, opts.MustExist, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func knownColumn(col string) bool {
	for _, c := range types.Header() {
		if c == col {
			return true
		}
	}
	return false
}
