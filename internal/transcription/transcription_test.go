package transcription

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"

	"call-insights-go/internal/retry"
)

const deepgramBody = `{
  "metadata": {"duration": 42.5},
  "results": {
    "channels": [{"alternatives": [{
      "transcript": "hello there hi",
      "confidence": 0.93,
      "words": [
        {"word": "hello", "punctuated_word": "Hello", "speaker": 0},
        {"word": "there", "punctuated_word": "there.", "speaker": 0},
        {"word": "hi", "punctuated_word": "Hi.", "speaker": 1}
      ]
    }]}],
    "utterances": [
      {"speaker": 0, "transcript": "Hello there."},
      {"speaker": 1, "transcript": "Hi."},
      {"speaker": 0, "transcript": "How can I help?"}
    ]
  }
}`

func TestDeepgramUtterances(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Token dg-key" {
			t.Fatalf("auth header = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "audio/wav" {
			t.Fatalf("content type = %q", got)
		}
		q := r.URL.Query()
		for _, k := range []string{"diarize", "punctuate", "smart_format", "utterances"} {
			if q.Get(k) != "true" {
				t.Fatalf("%s not requested", k)
			}
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "RIFF" {
			t.Fatalf("audio bytes not forwarded: %q", body)
		}
		w.Write([]byte(deepgramBody))
	}))
	defer ts.Close()

	res, err := NewDeepgram("dg-key", ts.URL, time.Second).Transcribe(context.Background(), Audio{Name: "a.wav", Data: []byte("RIFF")})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	want := "Speaker 1: Hello there.\nSpeaker 2: Hi.\nSpeaker 1: How can I help?"
	if res.Diarized != want {
		t.Fatalf("diarized = %q", res.Diarized)
	}
	if res.SpeakerCount != 2 || res.Duration != 42.5 || res.Transcript != "hello there hi" || res.Confidence != 0.93 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDeepgramClientErrorIsPermanent(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := NewClient(NewDeepgram("x", ts.URL, time.Second), retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}, nil)
	_, err := c.Transcribe(context.Background(), Audio{Name: "a.mp3"})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if terr.Attempts != 1 || atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("4xx should not be retried: attempts=%d calls=%d", terr.Attempts, calls)
	}
}

type flakyBackend struct {
	failures int
	calls    int
}

func (f *flakyBackend) Transcribe(ctx context.Context, audio Audio) (Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return Result{}, errors.New("provider timeout")
	}
	return Result{Transcript: "ok", SpeakerCount: 1}, nil
}

func TestClientRetriesThenSucceeds(t *testing.T) {
	b := &flakyBackend{failures: 2}
	res, err := NewClient(b, retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}, nil).Transcribe(context.Background(), Audio{Name: "a.mp3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Transcript != "ok" || b.calls != 3 {
		t.Fatalf("res=%+v calls=%d", res, b.calls)
	}
}

func TestClientReportsAttemptCount(t *testing.T) {
	b := &flakyBackend{failures: 10}
	_, err := NewClient(b, retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}, nil).Transcribe(context.Background(), Audio{Name: "a.mp3"})
	if err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.calls != 3 {
		t.Fatalf("calls = %d", b.calls)
	}
}

func TestDiarizeWordFallback(t *testing.T) {
	words := []segment{{0, "Hi"}, {0, "there."}, {1, "Hello."}, {1, "Yes?"}, {0, "Bye."}}
	text, count := diarize(nil, words)
	want := "Speaker 1: Hi there.\nSpeaker 2: Hello. Yes?\nSpeaker 1: Bye."
	if text != want {
		t.Fatalf("got %q", text)
	}
	if count != 2 {
		t.Fatalf("count = %d", count)
	}
}

func TestDiarizeNothingAvailable(t *testing.T) {
	text, count := diarize(nil, nil)
	if text != "" || count != 1 {
		t.Fatalf("got %q %d", text, count)
	}
}

func TestFromAssemblyAIMapsLetterSpeakers(t *testing.T) {
	text := "hello hi"
	a, b := "A", "B"
	u1, u2, u3 := "Hello.", "Hi.", "Thanks."
	tr := aai.Transcript{
		Text: &text,
		Utterances: []aai.TranscriptUtterance{
			{Speaker: &b, Text: &u1},
			{Speaker: &a, Text: &u2},
			{Speaker: &b, Text: &u3},
		},
	}
	res := fromAssemblyAI(tr)
	want := "Speaker 1: Hello.\nSpeaker 2: Hi.\nSpeaker 1: Thanks."
	if res.Diarized != want {
		t.Fatalf("diarized = %q", res.Diarized)
	}
	if res.SpeakerCount != 2 || res.Transcript != text {
		t.Fatalf("unexpected %+v", res)
	}
}

func TestAudioContentType(t *testing.T) {
	cases := map[string]string{"a.mp3": "audio/mpeg", "b.M4A": "audio/mp4", "c.flac": "audio/flac", "d": "audio/mpeg"}
	for name, want := range cases {
		if got := (Audio{Name: name}).ContentType(); got != want {
			t.Fatalf("%s: %s want %s", name, got, want)
		}
	}
}
