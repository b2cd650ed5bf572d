package backfill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/logger"
	"call-insights-go/internal/transcription"
	"call-insights-go/internal/types"
)

type DiarizationOptions struct {
	// Dirs are searched in order for the audio file.
	Dirs  []string
	Limit int
}

type DiarizationResult struct {
	Eligible int `json:"eligible"`
	Updated  int `json:"updated"`
	Missing  int `json:"missing"`
	Failed   int `json:"failed"`
}

// NeedsDiarization reports whether a completed row lacks a speaker-labelled
// transcript.
func NeedsDiarization(r types.CallRecord) bool {
	return r.Status == types.StatusCompleted && strings.TrimSpace(r.DiarizedTranscription) == ""
}

// Diarization re-transcribes eligible rows and saves each one as soon as it
// succeeds. A failure on one row is logged and the run continues.
func Diarization(ctx context.Context, st Store, tr transcription.Transcriber, opts DiarizationOptions, log *logrus.Entry) (DiarizationResult, error) {
	log = logger.OrDiscard(log).WithField("component", "backfill.diarization")
	var res DiarizationResult
	recs, err := st.Scan(ctx)
	if err != nil {
		return res, fmt.Errorf("scan store: %w", err)
	}

	for _, r := range recs {
		if !NeedsDiarization(r) {
			continue
		}
		res.Eligible++
		if opts.Limit > 0 && res.Updated+res.Failed >= opts.Limit {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entry := log.WithField("file", r.Filename)

		path, err := locate(r.Filename, opts.Dirs)
		if err != nil {
			entry.Warn("audio file not found")
			res.Missing++
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			entry.WithError(err).Error("read audio")
			res.Failed++
			continue
		}
		out, err := tr.Transcribe(ctx, transcription.Audio{Name: r.Filename, Data: data})
		if err != nil {
			entry.WithError(err).Error("re-transcription failed")
			res.Failed++
			continue
		}
		fields := map[string]string{
			types.ColDiarizedTranscription: out.Diarized,
			types.ColSpeakerCount:          strconv.Itoa(max(out.SpeakerCount, 1)),
		}
		if err := st.Update(ctx, r.Filename, fields); err != nil {
			return res, fmt.Errorf("save %s: %w", r.Filename, err)
		}
		res.Updated++
		entry.WithField("speakers", out.SpeakerCount).Info("diarization updated")
	}
	log.WithFields(logrus.Fields{
		"eligible": res.Eligible, "updated": res.Updated, "missing": res.Missing, "failed": res.Failed,
	}).Info("diarization backfill complete")
	return res, nil
}

var errNotFound = errors.New("not found")

func locate(name string, dirs []string) (string, error) {
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", errNotFound
}
