package dataset

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/types"
)

const (
	callsSheet   = "calls"
	summarySheet = "summary"
)

// Export writes the records in header order to a "calls" sheet and their
// aggregate statistics to a "summary" sheet.
func Export(path string, recs []types.CallRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), callsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	hdr := types.Header()
	if err := f.SetSheetRow(callsSheet, "A1", &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := rec.Row()
		if err := f.SetSheetRow(callsSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetPanes(callsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}
	if err := writeSummary(f, aggregator.Aggregate(recs)); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func writeSummary(f *excelize.File, s aggregator.Stats) error {
	rows := [][]string{
		{"metric", "value"},
		{"total_files", strconv.Itoa(s.TotalFiles)},
		{"successful", strconv.Itoa(s.Successful)},
		{"failed", strconv.Itoa(s.Failed)},
		{"success_rate", fmtFloat(s.SuccessRate)},
		{"avg_processing_time", fmtFloat(s.AvgProcessingTime)},
		{"total_duration", fmtFloat(s.TotalDuration)},
		{"classification_rate", fmtFloat(s.ClassificationRate)},
		{},
	}
	for _, group := range []struct {
		name   string
		counts []aggregator.Count
	}{
		{types.ColIntent, s.Intents},
		{types.ColSubIntent, s.SubIntents},
		{types.ColPrimaryDisposition, s.Dispositions},
	} {
		rows = append(rows, []string{group.name, "count"})
		for _, c := range group.counts {
			rows = append(rows, []string{c.Value, strconv.Itoa(c.Count)})
		}
		rows = append(rows, []string{})
	}
	for i, r := range rows {
		if len(r) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := r
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
