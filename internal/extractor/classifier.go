// Package extractor turns a transcript into a summary, intent and
// sub-intent using an LLM, with text and keyword fallbacks.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/llm"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/retry"
)

const (
	FailedSummary  = "AI analysis failed"
	EmptySummary   = "No transcription available for analysis"
	maxSummaryLen  = 500
	truncateMarker = "... [truncated]"

	systemPrompt = "You are an expert at analyzing home improvement customer service calls. Always respond with valid JSON."

	transcriptPlaceholder = "{transcription}"
	promptTemplate        = "Analyze the following call transcription and return ONLY valid JSON with exactly these fields:\n" +
		"- summary: A brief 1-2 sentence summary of the call\n" +
		"- intent: One of these categories: ROOFING, WINDOWS_DOORS, PLUMBING, ELECTRICAL, HVAC, FLOORING, SIDING_EXTERIOR, KITCHEN_BATH, GENERAL_CONTRACTOR, EMERGENCY_REPAIR, QUOTE_REQUEST, COMPLAINT, OTHER\n" +
		"- sub_intent: A specific subcategory based on the intent:\n" +
		"  * ROOFING: ROOF_REPAIR, ROOF_REPLACEMENT, ROOF_INSPECTION, ROOF_PURCHASE, GUTTER_CLEANING, GUTTER_REPAIR\n" +
		"  * WINDOWS_DOORS: WINDOW_REPAIR, WINDOW_REPLACEMENT, DOOR_REPAIR, DOOR_INSTALLATION, SCREEN_REPAIR\n" +
		"  * PLUMBING: LEAK_REPAIR, PIPE_REPAIR, DRAIN_CLEANING, TOILET_REPAIR, FAUCET_REPAIR, WATER_HEATER\n" +
		"  * ELECTRICAL: WIRING_REPAIR, OUTLET_INSTALLATION, LIGHTING_REPAIR, ELECTRICAL_INSPECTION, PANEL_UPGRADE\n" +
		"  * HVAC: AC_REPAIR, HEATING_REPAIR, DUCT_CLEANING, SYSTEM_INSTALLATION, MAINTENANCE_SERVICE\n" +
		"  * KITCHEN_BATH: BATHROOM_REMODEL, KITCHEN_REMODEL, SHOWER_INSTALLATION, COUNTERTOP_REPAIR, TILE_WORK\n" +
		"  * QUOTE_REQUEST: ESTIMATE_REQUEST, CONSULTATION, PRICE_INQUIRY, SERVICE_COMPARISON\n" +
		"  * OTHER: GENERAL_INQUIRY, APPOINTMENT_SCHEDULING, COMPLAINT, TEST_CALL, WRONG_NUMBER\n\n" +
		"Example response format:\n" +
		`{"summary": "Customer called about roof leak repair", "intent": "ROOFING", "sub_intent": "ROOF_REPAIR"}` + "\n\n" +
		"Transcription: " + transcriptPlaceholder + "\n\n" +
		"Response (JSON only):"
)

// Completer is the slice of the LLM client the classifier needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

type Classification struct {
	Summary   string `json:"summary"`
	Intent    string `json:"intent"`
	SubIntent string `json:"sub_intent"`
}

// FailedClassification is substituted when every attempt failed.
func FailedClassification() Classification {
	return Classification{Summary: FailedSummary, Intent: DefaultIntent, SubIntent: DefaultSubIntent}
}

type Options struct {
	Model    string
	MaxChars int
	Policy   retry.Policy
}

type Classifier struct {
	llm      Completer
	taxonomy *Taxonomy
	opts     Options
	log      *logrus.Entry
}

func NewClassifier(c Completer, tax *Taxonomy, opts Options, log *logrus.Entry) *Classifier {
	if tax == nil {
		tax = DefaultTaxonomy()
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 15000
	}
	return &Classifier{llm: c, taxonomy: tax, opts: opts, log: logger.OrDiscard(log).WithField("component", "classification")}
}

func (c *Classifier) Taxonomy() *Taxonomy { return c.taxonomy }

var errMissingFields = errors.New("missing required fields in model response")

// Classify returns ok=false when every attempt failed; the caller substitutes
// FailedClassification. An empty transcript is not sent to the model.
func (c *Classifier) Classify(ctx context.Context, transcript string) (Classification, bool) {
	if strings.TrimSpace(transcript) == "" {
		return Classification{Summary: EmptySummary, Intent: DefaultIntent, SubIntent: DefaultSubIntent}, true
	}
	prompt := c.BuildPrompt(transcript)
	var out Classification
	_, err := c.opts.Policy.Do(ctx, func(attempt int) error {
		c.log.WithField("attempt", attempt).Info("classifying transcript")
		content, err := c.llm.Complete(ctx, llm.Request{
			Model:       c.opts.Model,
			System:      systemPrompt,
			User:        prompt,
			MaxTokens:   300,
			Temperature: 0.1,
		})
		if err != nil {
			return err
		}
		res, err := c.Parse(content)
		if err != nil {
			return err
		}
		out = res
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		c.log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "wait": wait.String()}).Warn("classification attempt failed")
	})
	if err != nil {
		c.log.WithError(err).Error("all classification attempts failed")
		return Classification{}, false
	}
	c.log.WithFields(logrus.Fields{"intent": out.Intent, "sub_intent": out.SubIntent}).Info("classification successful")
	return out, true
}

// BuildPrompt interpolates transcript, cutting it so the whole prompt stays
// within MaxChars.
func (c *Classifier) BuildPrompt(transcript string) string {
	prompt := strings.Replace(promptTemplate, transcriptPlaceholder, transcript, 1)
	if len(prompt) <= c.opts.MaxChars {
		return prompt
	}
	keep := c.opts.MaxChars - (len(promptTemplate) - len(transcriptPlaceholder)) - len(truncateMarker)
	c.log.WithField("kept_chars", keep).Info("truncated long transcription")
	return strings.Replace(promptTemplate, transcriptPlaceholder, clip(transcript, keep)+truncateMarker, 1)
}

// Parse decodes model output. Text around the outermost braces is ignored.
// Output that is not JSON at all goes through the line scanner instead of
// being retried. Valid JSON without summary and intent is an error.
func (c *Classifier) Parse(content string) (Classification, error) {
	raw := content
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start != -1 && end > start {
		raw = content[start : end+1]
	} else {
		c.log.Warn("no JSON braces in model response, using full content")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		c.log.WithError(err).Warn("model response is not JSON, falling back to text scan")
		return c.parseText(content), nil
	}
	summary, hasSummary := fields["summary"]
	intent, hasIntent := fields["intent"]
	if !hasSummary || !hasIntent {
		return Classification{}, errMissingFields
	}
	res := Classification{
		Summary: clip(stringify(summary), maxSummaryLen),
		Intent:  c.taxonomy.NormalizeIntent(stringify(intent)),
	}
	sub := ""
	if v, ok := fields["sub_intent"]; ok {
		sub = strings.ToUpper(strings.TrimSpace(stringify(v)))
	}
	if isGeneric(sub) {
		sub = c.taxonomy.SubIntent(res.Intent, res.Summary)
	}
	res.SubIntent = sub
	return res, nil
}

const scanPlaceholder = "Call analysis completed"

func (c *Classifier) parseText(content string) Classification {
	summary, intent, sub := scanPlaceholder, DefaultIntent, DefaultSubIntent
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if !strings.Contains(line, ":") {
			continue
		}
		value := strings.TrimSpace(strings.Trim(strings.TrimSpace(strings.SplitN(line, ":", 2)[1]), `"'`))
		switch {
		case strings.Contains(lower, "summary"):
			summary = value
		case strings.Contains(lower, "intent") && !strings.Contains(lower, "sub"):
			if v := strings.ToUpper(value); c.taxonomy.ValidIntent(v) {
				intent = v
			}
		case strings.Contains(lower, "sub_intent"):
			sub = strings.ToUpper(value)
		}
	}
	if summary == scanPlaceholder && content != "" {
		first := strings.TrimSpace(strings.SplitN(content, ". ", 2)[0])
		if !strings.HasSuffix(first, ".") {
			first += "."
		}
		summary = clip(first, 200)
	}
	if strings.TrimSpace(summary) == "" {
		summary = "Call transcribed successfully"
	}
	if isGeneric(sub) {
		sub = c.taxonomy.SubIntent(intent, summary)
	}
	return Classification{Summary: clip(summary, maxSummaryLen), Intent: intent, SubIntent: sub}
}

func isGeneric(sub string) bool {
	return sub == "" || sub == DefaultSubIntent || sub == "GENERAL"
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
