// Package cost prices provider usage in USD.
package cost

import (
	"strings"

	"github.com/examprep/examprep-cli/internal/config"
	"github.com/examprep/examprep-cli/internal/model"
)

const (
	defaultCacheWriteMul = 1.25
	defaultCacheReadMul  = 0.1
	defaultSearchQuery   = 0.005
)

// Rate is the price of one Claude model in USD per million tokens. Cache
// writes and reads are billed as multiples of the input price.
type Rate struct {
	InputPerM     float64
	OutputPerM    float64
	CacheWriteMul float64
	CacheReadMul  float64
}

func (r Rate) withCacheDefaults() Rate {
	if r.CacheWriteMul == 0 {
		r.CacheWriteMul = defaultCacheWriteMul
	}
	if r.CacheReadMul == 0 {
		r.CacheReadMul = defaultCacheReadMul
	}
	return r
}

// Calculator prices Claude token usage and web search queries.
type Calculator struct {
	models      map[string]Rate
	searchQuery float64
}

// New returns a Calculator over the given model rates. Zero cache
// multipliers take the standard Anthropic values.
func New(models map[string]Rate, searchQuery float64) *Calculator {
	c := &Calculator{models: make(map[string]Rate, len(models)), searchQuery: searchQuery}
	for id, r := range models {
		c.models[id] = r.withCacheDefaults()
	}
	return c
}

// Default prices the models the pipeline uses out of the box.
func Default() *Calculator {
	return New(map[string]Rate{
		"claude-haiku-4-5":  {InputPerM: 1, OutputPerM: 5},
		"claude-sonnet-4-5": {InputPerM: 3, OutputPerM: 15},
		"claude-opus-4":     {InputPerM: 15, OutputPerM: 75},
	}, defaultSearchQuery)
}

// FromConfig overlays configured pricing on Default. A configured model
// replaces any default entry with the same id.
func FromConfig(p config.PricingConfig) *Calculator {
	c := Default()
	for id, mp := range p.Anthropic {
		c.models[id] = Rate{
			InputPerM:     mp.Input,
			OutputPerM:    mp.Output,
			CacheWriteMul: mp.CacheWriteMul,
			CacheReadMul:  mp.CacheReadMul,
		}.withCacheDefaults()
	}
	if p.Perplexity.PerQuery > 0 {
		c.searchQuery = p.Perplexity.PerQuery
	}
	return c
}

// rate resolves a model id exactly, then by the longest configured prefix so
// that dated snapshots such as "claude-sonnet-4-5-20250929" share a family
// price.
func (c *Calculator) rate(modelID string) (Rate, bool) {
	if r, ok := c.models[modelID]; ok {
		return r, true
	}
	best := ""
	for id := range c.models {
		if strings.HasPrefix(modelID, id) && len(id) > len(best) {
			best = id
		}
	}
	if best == "" {
		return Rate{}, false
	}
	return c.models[best], true
}

// Claude prices one or more Claude calls. Unknown models cost 0.
func (c *Calculator) Claude(modelID string, u model.TokenUsage) float64 {
	r, ok := c.rate(modelID)
	if !ok {
		return 0
	}
	perToken := func(n int, price float64) float64 { return float64(n) * price / 1e6 }
	return perToken(u.InputTokens, r.InputPerM) +
		perToken(u.OutputTokens, r.OutputPerM) +
		perToken(u.CacheCreationTokens, r.InputPerM*r.CacheWriteMul) +
		perToken(u.CacheReadTokens, r.InputPerM*r.CacheReadMul)
}

// SearchQuery returns the flat price of one web search call.
func (c *Calculator) SearchQuery() float64 {
	return c.searchQuery
}
