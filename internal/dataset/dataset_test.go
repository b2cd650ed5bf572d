package dataset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/store"
	"call-insights-go/internal/types"
)

func sampleRecords() []types.CallRecord {
	est := 120
	return []types.CallRecord{
		{
			Timestamp: "2025-08-28T10:35:00", Filename: "20250828_10300002m00s_5550001_answered_Agent.mp3",
			Metadata:      types.Metadata{CallDate: "2025-08-28", CallTime: "10:30:00", PhoneNumber: "5550001", CallStatus: "answered", AgentName: "Agent", EstimatedDurationSeconds: &est},
			FileSize:      2048, Duration: 118.4,
			Transcription: "my roof is leaking", DiarizedTranscription: "Speaker 1: my roof is leaking", SpeakerCount: 2,
			Summary: "Roof leak", Intent: "ROOFING", SubIntent: "ROOF_REPAIR",
			Status: types.StatusCompleted, ProcessingTime: 3.25,
		},
		{Filename: "random.mp3", Status: types.StatusFailed, ErrorMessage: "transcription failed after 3 attempts: boom", ProcessingTime: 1},
	}
}

func TestExportThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.xlsx")
	if err := Export(path, sampleRecords()); err != nil {
		t.Fatalf("export: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d rows", len(got))
	}
	r := got[0]
	if r.PhoneNumber != "5550001" || r.EstimatedDurationSeconds == nil || *r.EstimatedDurationSeconds != 120 {
		t.Fatalf("metadata = %+v", r.Metadata)
	}
	if r.SpeakerCount != 2 || r.SubIntent != "ROOF_REPAIR" || r.Duration != 118.4 {
		t.Fatalf("record = %+v", r)
	}
	if got[1].SpeakerCount != 1 || got[1].Status != types.StatusFailed {
		t.Fatalf("failed row = %+v", got[1])
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	v, err := f.GetCellValue(summarySheet, "B2")
	if err != nil || v != "2" {
		t.Fatalf("summary total_files = %q %v", v, err)
	}
}

func TestLoadMatchesColumnsByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manual.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]string{
		{"Notes", " Filename ", "INTENT", "summary"},
		{"x", "one.mp3", "WINDOWS", "new windows"},
		{"y", "", "OTHER", "no name"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		row := r
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Filename != "one.mp3" || got[0].Intent != "WINDOWS" || got[0].Summary != "new windows" {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadRequiresFilenameColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	f := excelize.NewFile()
	row := []string{"name", "intent"}
	f.SetSheetRow(f.GetSheetName(0), "A1", &row)
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for sheet without filename column")
	}
}

func TestImportSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calls.xlsx")
	if err := Export(path, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(store.Options{CSVPath: filepath.Join(dir, "calls.csv")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()
	if err := st.Append(ctx, types.CallRecord{Filename: "random.mp3", Status: types.StatusCompleted}); err != nil {
		t.Fatal(err)
	}

	res, err := Import(ctx, st, path, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Rows != 2 || res.Imported != 1 || res.Existing != 1 {
		t.Fatalf("result = %+v", res)
	}
	recs, err := st.Scan(ctx)
	if err != nil || len(recs) != 2 {
		t.Fatalf("scan = %d %v", len(recs), err)
	}
}
