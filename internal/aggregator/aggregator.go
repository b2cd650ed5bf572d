// Package aggregator summarizes the record store for the ops endpoint and
// the stats job.
package aggregator

import (
	"math"
	"sort"

	"call-insights-go/internal/extractor"
	"call-insights-go/internal/types"
)

// Count is one bucket of a distribution.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalFiles        int     `json:"total_files"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	SuccessRate       float64 `json:"success_rate"`
	AvgProcessingTime float64 `json:"avg_processing_time"`
	TotalDuration     float64 `json:"total_duration"`

	// Classified counts completed rows whose AI analysis did not fall back
	// to the failure defaults.
	Classified         int     `json:"classified"`
	ClassificationRate float64 `json:"classification_rate"`

	Intents      []Count `json:"intents"`
	SubIntents   []Count `json:"sub_intents"`
	Dispositions []Count `json:"dispositions"`
}

// Aggregate computes Stats. Timing and duration figures cover completed rows
// only; distributions cover completed rows with a non-empty value.
func Aggregate(records []types.CallRecord) Stats {
	var s Stats
	s.TotalFiles = len(records)
	intents := map[string]int{}
	subs := map[string]int{}
	disps := map[string]int{}
	var procTotal float64

	for _, r := range records {
		switch r.Status {
		case types.StatusCompleted:
			s.Successful++
		case types.StatusFailed:
			s.Failed++
			continue
		default:
			continue
		}
		procTotal += r.ProcessingTime
		s.TotalDuration += r.Duration
		if r.Summary != extractor.FailedSummary && r.Intent != "" {
			s.Classified++
		}
		if r.Intent != "" {
			intents[r.Intent]++
		}
		if r.SubIntent != "" {
			subs[r.SubIntent]++
		}
		if r.PrimaryDisposition != "" {
			disps[r.PrimaryDisposition]++
		}
	}

	if s.TotalFiles > 0 {
		s.SuccessRate = round2(float64(s.Successful) / float64(s.TotalFiles) * 100)
	}
	if s.Successful > 0 {
		s.AvgProcessingTime = round2(procTotal / float64(s.Successful))
		s.ClassificationRate = round2(float64(s.Classified) / float64(s.Successful) * 100)
	}
	s.TotalDuration = round2(s.TotalDuration)
	s.Intents = sorted(intents)
	s.SubIntents = sorted(subs)
	s.Dispositions = sorted(disps)
	return s
}

// sorted orders buckets by count descending, then value.
func sorted(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Value: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
