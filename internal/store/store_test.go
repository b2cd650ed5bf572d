package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"call-insights-go/internal/types"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	csvStore, err := Open(Options{Backend: "csv", CSVPath: filepath.Join(dir, "calls.csv")}, nil)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	sqliteStore, err := Open(Options{Backend: "sqlite", SQLitePath: filepath.Join(dir, "calls.db")}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		csvStore.Close()
		sqliteStore.Close()
	})
	return map[string]Store{"csv": csvStore, "sqlite": sqliteStore}
}

func rec(name string) types.CallRecord {
	return types.CallRecord{
		Timestamp:     "2025-08-28T10:31:00Z",
		Filename:      name,
		Transcription: "hello, \"quoted\"\nsecond line",
		SpeakerCount:  1,
		Intent:        "OTHER",
		Status:        types.StatusCompleted,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if st.Exists(ctx, "a.mp3") {
				t.Fatalf("empty store reports a.mp3")
			}
			if err := st.Append(ctx, rec("a.mp3")); err != nil {
				t.Fatalf("append: %v", err)
			}
			if err := st.Append(ctx, rec("b.mp3")); err != nil {
				t.Fatalf("append: %v", err)
			}
			if !st.Exists(ctx, "a.mp3") {
				t.Fatalf("a.mp3 missing after append")
			}
			if err := st.Append(ctx, rec("a.mp3")); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("duplicate append err = %v", err)
			}

			all, err := st.Scan(ctx)
			if err != nil || len(all) != 2 {
				t.Fatalf("scan: %d rows, %v", len(all), err)
			}
			if all[0].Filename != "a.mp3" || all[0].Transcription != "hello, \"quoted\"\nsecond line" {
				t.Fatalf("row did not round trip: %+v", all[0])
			}

			if err := st.Update(ctx, "b.mp3", map[string]string{types.ColSubIntent: "ROOF_REPAIR"}); err != nil {
				t.Fatalf("update: %v", err)
			}
			if err := st.Update(ctx, "zzz.mp3", map[string]string{types.ColSubIntent: "X"}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("update missing err = %v", err)
			}

			removed, err := st.Delete(ctx, "a.mp3")
			if err != nil || !removed {
				t.Fatalf("delete: %v %v", removed, err)
			}
			removed, _ = st.Delete(ctx, "a.mp3")
			if removed {
				t.Fatalf("second delete should report nothing removed")
			}

			all, _ = st.Scan(ctx)
			if len(all) != 1 || all[0].SubIntent != "ROOF_REPAIR" {
				t.Fatalf("unexpected rows %+v", all)
			}

			if err := st.RewriteAll(ctx, []types.CallRecord{rec("x.mp3"), rec("y.mp3"), rec("z.mp3")}); err != nil {
				t.Fatalf("rewrite: %v", err)
			}
			all, _ = st.Scan(ctx)
			if len(all) != 3 || st.Exists(ctx, "b.mp3") {
				t.Fatalf("rewrite did not replace contents: %+v", all)
			}
		})
	}
}

func TestConcurrentAppendSameFilename(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			var mu sync.Mutex
			dups := 0
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := st.Append(ctx, rec("same.mp3")); errors.Is(err, ErrDuplicate) {
						mu.Lock()
						dups++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			all, _ := st.Scan(ctx)
			if len(all) != 1 || dups != 7 {
				t.Fatalf("rows=%d dups=%d", len(all), dups)
			}
		})
	}
}

func TestCSVMissingFileInitializedWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "calls.csv")
	if _, err := OpenCSV(path, false, nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(string(data)) != strings.Join(types.Header(), ",") {
		t.Fatalf("unexpected file %q", data)
	}
}

func TestOpenMustExist(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(Options{Backend: "csv", CSVPath: filepath.Join(dir, "none.csv"), MustExist: true}, nil); !errors.Is(err, ErrStoreMissing) {
		t.Fatalf("csv err = %v", err)
	}
	if _, err := Open(Options{Backend: "sqlite", SQLitePath: filepath.Join(dir, "none.db"), MustExist: true}, nil); !errors.Is(err, ErrStoreMissing) {
		t.Fatalf("sqlite err = %v", err)
	}
	if _, err := Open(Options{Backend: "parquet"}, nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestCSVMigratesMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.csv")
	old := "timestamp,filename,transcription,summary,intent,status,legacy_note\n" +
		"2024-01-01T00:00:00,old.mp3,hi there,Greeting,OTHER,completed,keep me\n"
	if err := os.WriteFile(path, []byte(old), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := OpenCSV(path, true, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	all, err := st.Scan(context.Background())
	if err != nil || len(all) != 1 {
		t.Fatalf("scan: %v %d", err, len(all))
	}
	if all[0].SpeakerCount != 1 || all[0].PrimaryDisposition != "" || all[0].Summary != "Greeting" {
		t.Fatalf("migrated row %+v", all[0])
	}
	data, _ := os.ReadFile(path)
	first := strings.SplitN(string(data), "\n", 2)[0]
	if !strings.HasPrefix(first, strings.Join(types.Header(), ",")) || !strings.HasSuffix(first, "legacy_note") {
		t.Fatalf("unexpected header %q", first)
	}
	if !strings.Contains(string(data), "keep me") {
		t.Fatalf("unknown column data dropped")
	}
}

func TestCSVRewriteKeepsUnknownColumnValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.csv")
	old := "timestamp,filename,transcription,summary,intent,status,legacy_note\n" +
		"2024-01-01T00:00:00,old.mp3,hi there,Greeting,OTHER,completed,keep me\n"
	if err := os.WriteFile(path, []byte(old), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := OpenCSV(path, true, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	all, err := st.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	all[0].Summary = "Rewritten"
	all = append(all, rec("new.mp3"))
	if err := st.RewriteAll(ctx, all); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	_, rows, err := st.readRaw()
	if err != nil || len(rows) != 2 {
		t.Fatalf("read back: %d %v", len(rows), err)
	}
	if rows[0]["legacy_note"] != "keep me" || rows[0][types.ColSummary] != "Rewritten" {
		t.Fatalf("old row = %v", rows[0])
	}
	if rows[1]["legacy_note"] != "" {
		t.Fatalf("new row got legacy value %q", rows[1]["legacy_note"])
	}
}

func TestCSVUnreadableStoreDegrades(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.csv")
	st, err := OpenCSV(path, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	// A directory in place of the file cannot be parsed as CSV.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if st.Exists(context.Background(), "foo") {
		t.Fatalf("unreadable store should look empty")
	}
	if _, err := st.Scan(context.Background()); err == nil {
		t.Fatalf("scan should surface the error")
	}
}

func TestCSVRewriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenCSV(filepath.Join(dir, "calls.csv"), false, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		st.Append(ctx, rec(fmt.Sprintf("%d.mp3", i)))
	}
	if _, err := st.UpdateMany(ctx, map[string]map[string]string{
		"1.mp3": {types.ColPrimaryDisposition: "VOICEMAIL"},
		"3.mp3": {types.ColPrimaryDisposition: "HANG_UP", types.ColFilename: "renamed.mp3"},
	}); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the store file, got %d entries", len(entries))
	}
	if !st.Exists(ctx, "3.mp3") {
		t.Fatalf("filename must not be updatable")
	}
}

func TestSQLiteReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.db")
	st, err := OpenSQLite(path, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	st.Append(context.Background(), rec("keep.mp3"))
	st.Close()
	st, err = OpenSQLite(path, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if !st.Exists(context.Background(), "keep.mp3") {
		t.Fatalf("row lost on reopen")
	}
}
