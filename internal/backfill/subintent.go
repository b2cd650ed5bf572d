// Package backfill repairs columns of rows that were ingested before the
// column existed or before its classifier improved.
package backfill

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/extractor"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

// Store is the part of the record store the backfills need.
type Store interface {
	Scan(ctx context.Context) ([]types.CallRecord, error)
	Update(ctx context.Context, filename string, fields map[string]string) error
	UpdateMany(ctx context.Context, updates map[string]map[string]string) (int, error)
}

type SubIntentResult struct {
	Eligible int `json:"eligible"`
	Changed  int `json:"changed"`
	Saved    int `json:"saved"`
}

// NeedsSubIntent reports whether a row's sub-intent is missing or generic
// and it has a summary to score.
func NeedsSubIntent(r types.CallRecord) bool {
	sub := strings.TrimSpace(r.SubIntent)
	if sub != "" && sub != extractor.DefaultSubIntent {
		return false
	}
	return strings.TrimSpace(r.Summary) != ""
}

// SubIntents re-scores eligible rows with the keyword scorer and writes the
// changed ones back in one update.
func SubIntents(ctx context.Context, st Store, tax *extractor.Taxonomy, log *logrus.Entry) (SubIntentResult, error) {
	log = logger.OrDiscard(log).WithField("component", "backfill.sub_intent")
	var res SubIntentResult
	recs, err := st.Scan(ctx)
	if err != nil {
		return res, fmt.Errorf("scan store: %w", err)
	}
	updates := map[string]map[string]string{}
	for _, r := range recs {
		if !NeedsSubIntent(r) {
			continue
		}
		res.Eligible++
		intent := tax.NormalizeIntent(r.Intent)
		sub := tax.SubIntent(intent, r.Summary)
		if sub == r.SubIntent {
			continue
		}
		updates[r.Filename] = map[string]string{types.ColSubIntent: sub}
		res.Changed++
		if res.Changed%20 == 0 {
			log.Infof("rescored %d records...", res.Changed)
		}
	}
	if len(updates) == 0 {
		log.WithField("eligible", res.Eligible).Info("no sub-intents changed")
		return res, nil
	}
	n, err := st.UpdateMany(ctx, updates)
	if err != nil {
		return res, fmt.Errorf("save sub-intents: %w", err)
	}
	res.Saved = n
	log.WithFields(logrus.Fields{"eligible": res.Eligible, "saved": n}).Info("sub-intent backfill complete")
	return res, nil
}
