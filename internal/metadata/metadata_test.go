package metadata

import "testing"

func TestExtractStructuredFilename(t *testing.T) {
	md := NewExtractor(nil).Extract("20250828_103000" + "02m00s_5550001_answered_Agent.mp3")
	if md.CallDate != "2025-08-28" || md.CallTime != "10:30:00" {
		t.Fatalf("date/time = %q %q", md.CallDate, md.CallTime)
	}
	if md.CallDatetime != "2025-08-28T10:30:00" {
		t.Fatalf("datetime = %q", md.CallDatetime)
	}
	if md.PhoneNumber != "5550001" || md.CallStatus != "answered" || md.AgentName != "Agent" {
		t.Fatalf("unexpected fields %+v", md)
	}
	if md.EstimatedDurationSeconds == nil || *md.EstimatedDurationSeconds != 120 {
		t.Fatalf("estimated duration = %v", md.EstimatedDurationSeconds)
	}
}

func TestExtractAgentWithUnderscoresAndPath(t *testing.T) {
	md, ok := Parse("/data/audio/20240101_235959" + "1m5s_5551234_missed_Jane_Doe.wav")
	if !ok {
		t.Fatalf("expected match")
	}
	if md.AgentName != "Jane_Doe" || *md.EstimatedDurationSeconds != 65 {
		t.Fatalf("unexpected %+v", md)
	}
}

func TestExtractMismatchIsEmpty(t *testing.T) {
	for _, name := range []string{"random.mp3", "20250828_103000_no_duration.mp3", "20251399_103000" + "1m0s_1_a_b.mp3"} {
		md := NewExtractor(nil).Extract(name)
		if !md.Empty() {
			t.Fatalf("%s: expected empty metadata, got %+v", name, md)
		}
	}
}
