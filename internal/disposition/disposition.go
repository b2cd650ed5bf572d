// Package disposition labels calls with a primary/secondary outcome pair.
package disposition

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/llm"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

var Primaries = []string{
	"APPOINTMENT_SET", "QUALIFIED_LEAD", "NOT_QUALIFIED", "NOT_INTERESTED", "CALLBACK_REQUESTED",
	"WRONG_NUMBER", "NO_ANSWER", "HANG_UP", "VOICEMAIL", "TECHNICAL_ISSUE", "OTHER",
}

var Secondaries = []string{
	"IMMEDIATE", "FUTURE", "PRICE_OBJECTION", "TRUST_OBJECTION", "DECISION_MAKER", "RESEARCH_NEEDED",
	"COMPETITOR", "SEASONAL", "BUDGET_CONSTRAINTS", "PROPERTY_ISSUE", "REFERRAL_NEEDED",
	"FOLLOW_UP_REQUIRED", "OTHER",
}

// Sentinel pairs for calls that could not be classified.
var (
	NoAPIKey            = Disposition{Primary: "UNKNOWN", Secondary: "NO_API_KEY"}
	ClassificationError = Disposition{Primary: "OTHER", Secondary: "CLASSIFICATION_ERROR"}
	APIError            = Disposition{Primary: "ERROR", Secondary: "API_ERROR"}
)

type Disposition struct {
	Primary   string `json:"primary_disposition"`
	Secondary string `json:"secondary_disposition"`
}

const (
	systemPrompt = "You are a call disposition classifier for home improvement leads."
	userPrompt   = `Based on the call transcription, classify this call with a PRIMARY and SECONDARY disposition.

PRIMARY DISPOSITIONS:
- APPOINTMENT_SET: Lead scheduled an appointment
- QUALIFIED_LEAD: Lead is interested and qualified but no appointment yet
- NOT_QUALIFIED: Lead doesn't meet qualification criteria
- NOT_INTERESTED: Lead explicitly not interested
- CALLBACK_REQUESTED: Lead asked to be called back later
- WRONG_NUMBER: Incorrect phone number or person
- NO_ANSWER: Call went unanswered
- HANG_UP: Lead hung up during call
- VOICEMAIL: Left voicemail message
- TECHNICAL_ISSUE: Call had technical problems
- OTHER: Doesn't fit other categories

SECONDARY DISPOSITIONS:
- IMMEDIATE: Ready to proceed now
- FUTURE: Interested but timing not right
- PRICE_OBJECTION: Concerned about pricing
- TRUST_OBJECTION: Skeptical about company/service
- DECISION_MAKER: Not the decision maker
- RESEARCH_NEEDED: Wants to research more
- COMPETITOR: Already working with competitor
- SEASONAL: Waiting for right season/timing
- BUDGET_CONSTRAINTS: Financial limitations
- PROPERTY_ISSUE: Property-specific concerns
- REFERRAL_NEEDED: Asking for referrals
- FOLLOW_UP_REQUIRED: Needs additional follow-up
- OTHER: Doesn't fit other categories

Respond with only: PRIMARY_DISPOSITION|SECONDARY_DISPOSITION

Call Content:
%s`
)

// Completer is implemented by *llm.Client.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
	Configured() bool
}

type Classifier struct {
	llm   Completer
	model string
	log   *logrus.Entry
}

func NewClassifier(c Completer, model string, log *logrus.Entry) *Classifier {
	return &Classifier{llm: c, model: model, log: logger.OrDiscard(log).WithField("component", "disposition")}
}

// Classify makes a single call; it never returns an error; failures map to
// the sentinel pairs.
func (c *Classifier) Classify(ctx context.Context, transcript, summary string) Disposition {
	if c.llm == nil || !c.llm.Configured() {
		c.log.Warn("llm api key not found, skipping disposition classification")
		return NoAPIKey
	}
	content := strings.TrimSpace(fmt.Sprintf("Transcription: %s\n\nSummary: %s", transcript, summary))
	out, err := c.llm.Complete(ctx, llm.Request{
		Model:       c.model,
		System:      systemPrompt,
		User:        fmt.Sprintf(userPrompt, content),
		MaxTokens:   50,
		Temperature: 0.1,
	})
	if err != nil {
		c.log.WithError(err).Error("disposition call failed")
		return APIError
	}
	return Parse(out)
}

// Parse reads a PRIMARY|SECONDARY reply. Values outside the enumerations
// become OTHER.
func Parse(reply string) Disposition {
	line := strings.TrimSpace(reply)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	p, s, ok := strings.Cut(line, "|")
	if !ok {
		return ClassificationError
	}
	return Disposition{Primary: normalize(p, Primaries), Secondary: normalize(s, Secondaries)}
}

func normalize(v string, allowed []string) string {
	v = strings.ToUpper(strings.Trim(strings.TrimSpace(v), `"'.`))
	v = strings.ReplaceAll(v, " ", "_")
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return "OTHER"
}

// Fields returns the store columns for d.
func (d Disposition) Fields() map[string]string {
	return map[string]string{
		types.ColPrimaryDisposition:   d.Primary,
		types.ColSecondaryDisposition: d.Secondary,
	}
}
