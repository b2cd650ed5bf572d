// Package dataset moves call records in and out of .xlsx workbooks.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/logger"
	"call-insights-go/internal/store"
	"call-insights-go/internal/types"
)

// Load reads the first sheet (or the "calls" sheet when present). Columns
// are matched to store columns by header name; unknown columns are ignored
// and rows without a filename are skipped.
func Load(path string) ([]types.CallRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	sheet := sheets[0]
	for _, s := range sheets {
		if s == callsSheet {
			sheet = s
		}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no header row")
	}

	header := make([]string, len(rows[0]))
	hasFilename := false
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		if header[i] == types.ColFilename {
			hasFilename = true
		}
	}
	if !hasFilename {
		return nil, fmt.Errorf("sheet %q has no %s column", sheet, types.ColFilename)
	}

	var out []types.CallRecord
	for _, r := range rows[1:] {
		rec := types.RecordFromRow(header, r)
		if strings.TrimSpace(rec.Filename) == "" {
			continue
		}
		if rec.SpeakerCount == 0 {
			rec.SpeakerCount = 1
		}
		out = append(out, rec)
	}
	return out, nil
}

// ImportResult counts what Import did with each workbook row.
type ImportResult struct {
	Rows     int `json:"rows"`
	Imported int `json:"imported"`
	Existing int `json:"existing"`
}

// Import appends every workbook row whose filename is not yet stored.
func Import(ctx context.Context, st store.Store, path string, log *logrus.Entry) (ImportResult, error) {
	log = logger.OrDiscard(log).WithFields(logrus.Fields{"component": "dataset", "path": path})
	recs, err := Load(path)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Rows: len(recs)}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := st.Append(ctx, rec)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			res.Existing++
		case err != nil:
			return res, fmt.Errorf("append %s: %w", rec.Filename, err)
		default:
			res.Imported++
		}
	}
	log.Infof("imported %d of %d rows (%d already present)", res.Imported, res.Rows, res.Existing)
	return res, nil
}
