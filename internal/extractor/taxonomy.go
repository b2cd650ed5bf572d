package extractor

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var defaultTaxonomyYAML []byte

const (
	DefaultIntent    = "OTHER"
	DefaultSubIntent = "GENERAL_INQUIRY"
)

type SubIntent struct {
	Name     string   `yaml:"name" validate:"required"`
	Keywords []string `yaml:"keywords" validate:"min=1"`
}

type Intent struct {
	Name       string      `yaml:"name" validate:"required"`
	Default    string      `yaml:"default" validate:"required"`
	SubIntents []SubIntent `yaml:"sub_intents" validate:"dive"`
}

// Taxonomy is the closed intent set plus the keyword lists used to pick a
// sub-intent when the model does not give a specific one.
type Taxonomy struct {
	Intents []Intent `yaml:"intents" validate:"min=1,dive"`

	byName map[string]int
}

// ParseTaxonomy decodes and validates a YAML taxonomy. OTHER must be present.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if err := validator.New().Struct(t); err != nil {
		return nil, fmt.Errorf("invalid taxonomy: %w", err)
	}
	t.byName = make(map[string]int, len(t.Intents))
	for i, in := range t.Intents {
		t.byName[in.Name] = i
	}
	if _, ok := t.byName[DefaultIntent]; !ok {
		return nil, fmt.Errorf("invalid taxonomy: intent %s missing", DefaultIntent)
	}
	return &t, nil
}

// LoadTaxonomy reads path, or returns the built-in taxonomy when path is empty.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// DefaultTaxonomy returns the embedded home-improvement taxonomy.
func DefaultTaxonomy() *Taxonomy {
	t, err := ParseTaxonomy(defaultTaxonomyYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// IntentNames lists the intents in declared order.
func (t *Taxonomy) IntentNames() []string {
	out := make([]string, len(t.Intents))
	for i, in := range t.Intents {
		out[i] = in.Name
	}
	return out
}

func (t *Taxonomy) ValidIntent(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// NormalizeIntent upper-cases name and maps anything outside the set to OTHER.
func (t *Taxonomy) NormalizeIntent(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	if t.ValidIntent(n) {
		return n
	}
	return DefaultIntent
}

// SubIntent scores each candidate of intent by the total length of its
// keywords found in summary. The highest score wins, earlier entries win
// ties, and a zero score falls back to the intent's default.
func (t *Taxonomy) SubIntent(intent, summary string) string {
	idx, ok := t.byName[intent]
	if !ok {
		return DefaultSubIntent
	}
	in := t.Intents[idx]
	text := strings.ToLower(summary)
	best, bestScore := "", 0
	for _, sub := range in.SubIntents {
		score := 0
		for _, kw := range sub.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				score += len(kw)
			}
		}
		if score > bestScore {
			best, bestScore = sub.Name, score
		}
	}
	if bestScore == 0 {
		return in.Default
	}
	return best
}
