package disposition

import (
	"context"
	"fmt"
	"strings"

	"call-insights-go/internal/types"
)

// DefaultCheckpoint is how many classifications are buffered between writes.
const DefaultCheckpoint = 10

// Store is the part of the record store the batch needs.
type Store interface {
	Scan(ctx context.Context) ([]types.CallRecord, error)
	UpdateMany(ctx context.Context, updates map[string]map[string]string) (int, error)
}

type BatchOptions struct {
	Checkpoint int
	Limit      int // 0 means every eligible row
}

type BatchResult struct {
	Eligible   int `json:"eligible"`
	Classified int `json:"classified"`
	Skipped    int `json:"skipped"`
	Saved      int `json:"saved"`
}

// NeedsDisposition reports whether either disposition column is empty.
func NeedsDisposition(r types.CallRecord) bool {
	return strings.TrimSpace(r.PrimaryDisposition) == "" || strings.TrimSpace(r.SecondaryDisposition) == ""
}

func hasTranscript(r types.CallRecord) bool {
	t := strings.TrimSpace(r.Transcription)
	return t != "" && !strings.HasPrefix(t, "No transcription available")
}

// Backfill classifies every row missing a disposition and writes results
// back every opts.Checkpoint rows, so an interrupted run keeps all completed
// checkpoints.
func (c *Classifier) Backfill(ctx context.Context, st Store, opts BatchOptions) (BatchResult, error) {
	if opts.Checkpoint <= 0 {
		opts.Checkpoint = DefaultCheckpoint
	}
	var res BatchResult
	records, err := st.Scan(ctx)
	if err != nil {
		return res, fmt.Errorf("scan store: %w", err)
	}

	pending := map[string]map[string]string{}
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		// Checkpoints are written even when ctx was cancelled.
		n, err := st.UpdateMany(context.WithoutCancel(ctx), pending)
		if err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		res.Saved += n
		c.log.WithField("saved", res.Saved).Info("disposition checkpoint saved")
		pending = map[string]map[string]string{}
		return nil
	}

	for _, r := range records {
		if !NeedsDisposition(r) {
			continue
		}
		res.Eligible++
		if opts.Limit > 0 && res.Classified >= opts.Limit {
			break
		}
		if !hasTranscript(r) {
			res.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			if ferr := flush(); ferr != nil {
				return res, ferr
			}
			return res, err
		}
		d := c.Classify(ctx, r.Transcription, r.Summary)
		if err := ctx.Err(); err != nil {
			// The reply raced the cancellation; leave the row for the next run.
			if ferr := flush(); ferr != nil {
				return res, ferr
			}
			return res, err
		}
		res.Classified++
		c.log.WithField("filename", r.Filename).WithField("primary", d.Primary).WithField("secondary", d.Secondary).Info("classified disposition")
		pending[r.Filename] = d.Fields()
		if len(pending) >= opts.Checkpoint {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}
