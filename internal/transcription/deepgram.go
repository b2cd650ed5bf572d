package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"call-insights-go/internal/retry"
)

const DefaultDeepgramURL = "https://api.deepgram.com/v1/listen"

// DeepgramBackend posts raw audio to the Deepgram pre-recorded endpoint.
type DeepgramBackend struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewDeepgram(apiKey, endpoint string, timeout time.Duration) *DeepgramBackend {
	if endpoint == "" {
		endpoint = DefaultDeepgramURL
	}
	return &DeepgramBackend{apiKey: apiKey, endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word           string `json:"word"`
					PunctuatedWord string `json:"punctuated_word"`
					Speaker        *int   `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Speaker    *int   `json:"speaker"`
			Transcript string `json:"transcript"`
		} `json:"utterances"`
	} `json:"results"`
}

func (d *DeepgramBackend) Transcribe(ctx context.Context, audio Audio) (Result, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return Result{}, retry.Permanent(fmt.Errorf("deepgram url: %w", err))
	}
	q := u.Query()
	q.Set("model", "nova")
	q.Set("language", "en-US")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	q.Set("utterances", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(audio.Data))
	if err != nil {
		return Result{}, retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", audio.ContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("deepgram status %d: %s", resp.StatusCode, truncate(string(body), 300))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return Result{}, retry.Permanent(err)
		}
		return Result{}, err
	}

	var dr deepgramResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return Result{}, fmt.Errorf("deepgram decode: %w", err)
	}
	return dr.result(), nil
}

func (dr deepgramResponse) result() Result {
	res := Result{Duration: dr.Metadata.Duration}
	var words []segment
	if len(dr.Results.Channels) > 0 && len(dr.Results.Channels[0].Alternatives) > 0 {
		alt := dr.Results.Channels[0].Alternatives[0]
		res.Transcript = alt.Transcript
		res.Confidence = alt.Confidence
		for _, w := range alt.Words {
			if w.Speaker == nil {
				continue
			}
			text := w.PunctuatedWord
			if text == "" {
				text = w.Word
			}
			words = append(words, segment{speaker: *w.Speaker, text: text})
		}
	}
	var utterances []segment
	for _, u := range dr.Results.Utterances {
		if u.Speaker == nil {
			continue
		}
		utterances = append(utterances, segment{speaker: *u.Speaker, text: u.Transcript})
	}
	res.Diarized, res.SpeakerCount = diarize(utterances, words)
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
