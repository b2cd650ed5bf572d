package types

import "testing"

func TestRowFollowsHeader(t *testing.T) {
	est := 120
	r := CallRecord{
		Timestamp:    "2025-08-28T10:31:00Z",
		Filename:     "a.mp3",
		Metadata:     Metadata{CallDate: "2025-08-28", AgentName: "Agent", EstimatedDurationSeconds: &est},
		FileSize:     42,
		SpeakerCount: 2,
		Intent:       "ROOFING",
		Status:       StatusCompleted,
	}
	row := r.Row()
	hdr := Header()
	if len(row) != len(hdr) {
		t.Fatalf("row has %d cells, header %d", len(row), len(hdr))
	}
	for i, col := range hdr {
		switch col {
		case ColFilename:
			if row[i] != "a.mp3" {
				t.Fatalf("filename cell = %q", row[i])
			}
		case ColEstimatedDuration:
			if row[i] != "120" {
				t.Fatalf("estimate cell = %q", row[i])
			}
		case ColStatus:
			if row[i] != "completed" {
				t.Fatalf("status cell = %q", row[i])
			}
		}
	}
}

func TestRecordFromRowByColumnName(t *testing.T) {
	hdr := []string{ColStatus, ColFilename, ColSpeakerCount, ColEstimatedDuration}
	r := RecordFromRow(hdr, []string{"failed", "b.wav", "3"})
	if r.Filename != "b.wav" || r.Status != StatusFailed || r.SpeakerCount != 3 {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.EstimatedDurationSeconds != nil {
		t.Fatalf("missing cell should leave estimate nil")
	}
}

func TestApplyUpdatesNamedColumns(t *testing.T) {
	r := CallRecord{Filename: "c.mp3", Summary: "s", SpeakerCount: 1}
	got := r.Apply(map[string]string{
		ColPrimaryDisposition:   "APPOINTMENT_SET",
		ColSecondaryDisposition: "IMMEDIATE",
		"not_a_column":          "x",
	})
	if got.PrimaryDisposition != "APPOINTMENT_SET" || got.SecondaryDisposition != "IMMEDIATE" {
		t.Fatalf("dispositions not applied: %+v", got)
	}
	if got.Summary != "s" || got.Filename != "c.mp3" {
		t.Fatalf("other fields changed: %+v", got)
	}
}

func TestMetadataEmpty(t *testing.T) {
	if !(Metadata{}).Empty() {
		t.Fatalf("zero metadata should be empty")
	}
	if (Metadata{PhoneNumber: "1"}).Empty() {
		t.Fatalf("populated metadata reported empty")
	}
}
