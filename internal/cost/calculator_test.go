package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/examprep/examprep-cli/internal/config"
	"github.com/examprep/examprep-cli/internal/model"
)

func TestClaude_PricesUnitGeneration(t *testing.T) {
	t.Parallel()
	calc := New(map[string]Rate{
		"haiku":  {InputPerM: 1, OutputPerM: 5},
		"sonnet": {InputPerM: 3, OutputPerM: 15},
	}, 0.005)

	cases := map[string]struct {
		model string
		usage model.TokenUsage
		want  float64
	}{
		"one million haiku input": {
			model: "haiku",
			usage: model.TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000},
			want:  1.5,
		},
		"single unit on sonnet": {
			model: "sonnet",
			usage: model.TokenUsage{InputTokens: 6000, OutputTokens: 4000},
			want:  0.018 + 0.06,
		},
		"cached system prompt": {
			model: "sonnet",
			usage: model.TokenUsage{InputTokens: 1000, OutputTokens: 1000, CacheCreationTokens: 10_000, CacheReadTokens: 20_000},
			want:  0.003 + 0.015 + 0.0375 + 0.006,
		},
		"unpriced model": {
			model: "gpt-4o",
			usage: model.TokenUsage{InputTokens: 1_000_000},
			want:  0,
		},
		"nothing used": {model: "sonnet"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tc.want, calc.Claude(tc.model, tc.usage), 1e-6)
		})
	}
}

func TestClaude_DatedSnapshotUsesFamilyRate(t *testing.T) {
	t.Parallel()
	calc := Default()

	usage := model.TokenUsage{InputTokens: 1_000_000}
	assert.InDelta(t, 3.0, calc.Claude("claude-sonnet-4-5-20250929", usage), 1e-6)
	assert.InDelta(t, 1.0, calc.Claude("claude-haiku-4-5-20251001", usage), 1e-6)
	assert.InDelta(t, 15.0, calc.Claude("claude-opus-4-6", usage), 1e-6)
}

func TestClaude_ExactIDBeatsPrefix(t *testing.T) {
	t.Parallel()
	calc := New(map[string]Rate{
		"claude-sonnet":            {InputPerM: 3},
		"claude-sonnet-4-5-custom": {InputPerM: 2},
	}, 0)

	usage := model.TokenUsage{InputTokens: 1_000_000}
	assert.InDelta(t, 2.0, calc.Claude("claude-sonnet-4-5-custom", usage), 1e-6)
	assert.InDelta(t, 3.0, calc.Claude("claude-sonnet-4-5-20250929", usage), 1e-6)
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	calc := FromConfig(config.PricingConfig{
		Anthropic: map[string]config.ModelPricing{
			"claude-sonnet-4-5": {Input: 2.5, Output: 12},
			"local-model":       {Input: 1, Output: 2, CacheReadMul: 0.2},
		},
		Perplexity: config.PerplexityPricing{PerQuery: 0.01},
	})

	assert.InDelta(t, 2.5, calc.Claude("claude-sonnet-4-5-20250929", model.TokenUsage{InputTokens: 1_000_000}), 1e-6)
	assert.InDelta(t, 0.2, calc.Claude("local-model", model.TokenUsage{CacheReadTokens: 1_000_000}), 1e-6)
	assert.InDelta(t, 1.25, calc.Claude("local-model", model.TokenUsage{CacheCreationTokens: 1_000_000}), 1e-6)
	assert.InDelta(t, 1.0, calc.Claude("claude-haiku-4-5-20251001", model.TokenUsage{InputTokens: 1_000_000}), 1e-6)
	assert.InDelta(t, 0.01, calc.SearchQuery(), 1e-9)

	assert.InDelta(t, 0.005, FromConfig(config.PricingConfig{}).SearchQuery(), 1e-9)
}
