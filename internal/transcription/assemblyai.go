package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
)

// AssemblyAIBackend uploads audio through the official SDK and waits for the
// transcript to complete.
type AssemblyAIBackend struct {
	client *aai.Client
}

func NewAssemblyAI(apiKey string) *AssemblyAIBackend {
	return &AssemblyAIBackend{client: aai.NewClient(apiKey)}
}

func (a *AssemblyAIBackend) Transcribe(ctx context.Context, audio Audio) (Result, error) {
	params := &aai.TranscriptOptionalParams{
		LanguageCode:  aai.TranscriptLanguageCode("en_us"),
		SpeakerLabels: aai.Bool(true),
		Punctuate:     aai.Bool(true),
		FormatText:    aai.Bool(true),
	}
	t, err := a.client.Transcripts.TranscribeFromReader(ctx, bytes.NewReader(audio.Data), params)
	if err != nil {
		return Result{}, fmt.Errorf("assemblyai transcribe: %w", err)
	}
	if t.Status == aai.TranscriptStatusError {
		msg := "unknown error"
		if t.Error != nil {
			msg = *t.Error
		}
		return Result{}, errors.New("assemblyai: " + msg)
	}
	return fromAssemblyAI(t), nil
}

// fromAssemblyAI maps letter speaker labels to zero-based indices in order of
// first appearance.
func fromAssemblyAI(t aai.Transcript) Result {
	var res Result
	if t.Text != nil {
		res.Transcript = *t.Text
	}
	if t.Confidence != nil {
		res.Confidence = *t.Confidence
	}
	if t.AudioDuration != nil {
		res.Duration = float64(*t.AudioDuration)
	}

	index := map[string]int{}
	speakerID := func(label *string) int {
		key := ""
		if label != nil {
			key = *label
		}
		if id, ok := index[key]; ok {
			return id
		}
		id := len(index)
		index[key] = id
		return id
	}

	var utterances []segment
	for _, u := range t.Utterances {
		if u.Text == nil {
			continue
		}
		utterances = append(utterances, segment{speaker: speakerID(u.Speaker), text: *u.Text})
	}
	var words []segment
	if len(utterances) == 0 {
		for _, w := range t.Words {
			if w.Text == nil || w.Speaker == nil {
				continue
			}
			words = append(words, segment{speaker: speakerID(w.Speaker), text: *w.Text})
		}
	}
	res.Diarized, res.SpeakerCount = diarize(utterances, words)
	return res
}
