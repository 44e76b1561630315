// Package budget sizes each per-unit generation request before it is sent.
package budget

import (
	"encoding/json"
	"math"
	"unicode/utf8"

	"github.com/examprep/examprep-cli/internal/config"
	"github.com/examprep/examprep-cli/internal/cost"
	"github.com/examprep/examprep-cli/internal/model"
)

// Strategy selects how a unit's generation request is shaped.
type Strategy string

const (
	// StrategySingle sends the full document context with the unit.
	StrategySingle Strategy = "single"
	// StrategyChunked sends only the subject header and the current unit.
	StrategyChunked Strategy = "chunked"
)

// ProcessingBudget is the per-unit sizing decision. It is computed fresh for
// every unit and never persisted.
type ProcessingBudget struct {
	Strategy         Strategy `json:"strategy"`
	MaxOutputTokens  int      `json:"max_output_tokens"`
	EstimatedTokens  int      `json:"estimated_tokens"`
	EstimatedCostUSD float64  `json:"estimated_cost_usd"`
}

// Config holds the estimation constants.
type Config struct {
	CharsPerToken       float64
	RequiredOutput      int
	Ceiling             int
	ChunkedMaxOutput    int
	PromptOverheadChars int
	Model               string
}

// DefaultConfig returns the stock constants: 3.5 chars per token, 4000
// output tokens per unit and a 12000-token ceiling.
func DefaultConfig() Config {
	return Config{
		CharsPerToken:       3.5,
		RequiredOutput:      4000,
		Ceiling:             12000,
		ChunkedMaxOutput:    4000,
		PromptOverheadChars: 2400,
	}
}

// ConfigFrom converts loaded configuration, keeping defaults for unset values.
func ConfigFrom(c config.BudgetConfig, generationModel string) Config {
	cfg := DefaultConfig()
	if c.CharsPerToken > 0 {
		cfg.CharsPerToken = c.CharsPerToken
	}
	if c.RequiredOutput > 0 {
		cfg.RequiredOutput = c.RequiredOutput
	}
	if c.Ceiling > 0 {
		cfg.Ceiling = c.Ceiling
	}
	if c.ChunkedMaxOutput > 0 {
		cfg.ChunkedMaxOutput = c.ChunkedMaxOutput
	}
	if c.PromptOverheadChars >= 0 {
		cfg.PromptOverheadChars = c.PromptOverheadChars
	}
	cfg.Model = generationModel
	return cfg
}

// Estimator computes ProcessingBudgets. It has no mutable state and is safe
// for concurrent use.
type Estimator struct {
	cfg  Config
	calc *cost.Calculator
}

// NewEstimator creates an Estimator. calc may be nil, in which case
// EstimatedCostUSD is always 0.
func NewEstimator(cfg Config, calc *cost.Calculator) *Estimator {
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = DefaultConfig().CharsPerToken
	}
	return &Estimator{cfg: cfg, calc: calc}
}

// Estimate sizes the generation request for unit within doc.
func (e *Estimator) Estimate(unit model.UnitRecord, doc *model.SyllabusDocument) ProcessingBudget {
	chars := jsonChars(doc) + jsonChars(unit) + e.cfg.PromptOverheadChars
	inputTokens := int(math.Ceil(float64(chars) / e.cfg.CharsPerToken))
	total := inputTokens + e.cfg.RequiredOutput

	b := ProcessingBudget{
		Strategy:        StrategySingle,
		MaxOutputTokens: e.cfg.RequiredOutput,
		EstimatedTokens: total,
	}
	if total > e.cfg.Ceiling {
		b.Strategy = StrategyChunked
		b.MaxOutputTokens = e.cfg.ChunkedMaxOutput
	}

	if e.calc != nil {
		b.EstimatedCostUSD = e.calc.Claude(e.cfg.Model, model.TokenUsage{InputTokens: inputTokens, OutputTokens: b.MaxOutputTokens})
	}
	return b
}

func jsonChars(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return utf8.RuneCount(b)
}
