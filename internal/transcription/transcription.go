package transcription

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/logger"
	"call-insights-go/internal/retry"
)

// Audio is one recording handed to a provider.
type Audio struct {
	Name string
	Data []byte
}

var audioMIME = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

// ContentType guesses the MIME type from the file extension.
func (a Audio) ContentType() string {
	ext := strings.ToLower(filepath.Ext(a.Name))
	if ct, ok := audioMIME[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "audio/mpeg"
}

type Result struct {
	Transcript   string  `json:"transcript"`
	Diarized     string  `json:"diarized_transcript"`
	SpeakerCount int     `json:"speaker_count"`
	Duration     float64 `json:"duration"`
	Confidence   float64 `json:"confidence"`
}

// Transcriber turns audio into a Result. Backends make one provider call;
// Client adds the retry policy on top.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (Result, error)
}

// Error is returned once every attempt has failed.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcription failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Client struct {
	backend Transcriber
	policy  retry.Policy
	log     *logrus.Entry
}

func NewClient(backend Transcriber, policy retry.Policy, log *logrus.Entry) *Client {
	return &Client{backend: backend, policy: policy, log: logger.OrDiscard(log).WithField("component", "transcription")}
}

func (c *Client) Transcribe(ctx context.Context, audio Audio) (Result, error) {
	log := c.log.WithField("filename", audio.Name)
	var res Result
	attempts, err := c.policy.Do(ctx, func(attempt int) error {
		log.WithField("attempt", attempt).Info("transcribing")
		start := time.Now()
		r, err := c.backend.Transcribe(ctx, audio)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"attempt":     attempt,
			"duration_ms": time.Since(start).Milliseconds(),
			"speakers":    r.SpeakerCount,
		}).Info("transcription finished")
		res = r
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "wait": wait.String()}).Warn("transcription attempt failed")
	})
	if err != nil {
		return Result{}, &Error{Attempts: attempts, Err: err}
	}
	return res, nil
}

// segment is one speaker-tagged piece of text, either an utterance or a word.
type segment struct {
	speaker int
	text    string
}

// diarize renders utterances one per line, or coalesces consecutive words by
// speaker when no utterances exist. It returns the text and the number of
// distinct speakers, at least 1.
func diarize(utterances, words []segment) (string, int) {
	var lines []string
	seen := map[int]struct{}{}
	switch {
	case len(utterances) > 0:
		for _, u := range utterances {
			seen[u.speaker] = struct{}{}
			lines = append(lines, fmt.Sprintf("Speaker %d: %s", u.speaker+1, strings.TrimSpace(u.text)))
		}
	case len(words) > 0:
		current := words[0].speaker
		var buf []string
		for _, w := range words {
			seen[w.speaker] = struct{}{}
			if w.speaker != current && len(buf) > 0 {
				lines = append(lines, fmt.Sprintf("Speaker %d: %s", current+1, strings.Join(buf, " ")))
				buf = buf[:0]
			}
			current = w.speaker
			buf = append(buf, w.text)
		}
		if len(buf) > 0 {
			lines = append(lines, fmt.Sprintf("Speaker %d: %s", current+1, strings.Join(buf, " ")))
		}
	}
	count := len(seen)
	if count < 1 {
		count = 1
	}
	return strings.Join(lines, "\n"), count
}
