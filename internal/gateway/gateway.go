// Package gateway is the single entry point for provider calls: vision
// extraction, web search and content generation. It validates inputs,
// paces requests, guards providers with circuit breakers and classifies
// failures into user-facing categories.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/examprep/examprep-cli/internal/config"
	"github.com/examprep/examprep-cli/internal/cost"
	"github.com/examprep/examprep-cli/internal/model"
	"github.com/examprep/examprep-cli/internal/resilience"
	"github.com/examprep/examprep-cli/internal/stream"
	"github.com/examprep/examprep-cli/pkg/anthropic"
	"github.com/examprep/examprep-cli/pkg/perplexity"
)

// MaxImageBytes is the largest accepted syllabus image.
const MaxImageBytes = 10 << 20

// Settings selects models and request pacing.
type Settings struct {
	VisionModel     string
	GenerationModel string
	OutlineModel    string
	VisionMaxTokens int
	SearchModel     string
	AnthropicRPS    float64
	PerplexityRPS   float64
}

// SettingsFrom builds Settings from the application config.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		VisionModel:     cfg.Anthropic.VisionModel,
		GenerationModel: cfg.Anthropic.GenerationModel,
		OutlineModel:    cfg.Anthropic.OutlineModel,
		VisionMaxTokens: cfg.Anthropic.VisionMaxTokens,
		SearchModel:     cfg.Perplexity.Model,
		AnthropicRPS:    cfg.RateLimit.AnthropicRPS,
		PerplexityRPS:   cfg.RateLimit.PerplexityRPS,
	}
}

// GenerateRequest is one generation call.
type GenerateRequest struct {
	System    string
	User      string
	MaxTokens int
	// Model overrides the configured generation model.
	Model string
}

// SearchResult is the outcome of a web search.
type SearchResult struct {
	Text      string
	Citations []string
	Usage     model.TokenUsage
}

// Gateway wraps the provider clients. A nil client means the provider has no
// credentials; calls to it fail with a config error.
type Gateway struct {
	anthropic  anthropic.Client
	perplexity perplexity.Client
	settings   Settings
	calc       *cost.Calculator
	breakers   *resilience.Breakers
	pacers     map[string]*pacer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCalculator sets the pricing used for usage cost.
func WithCalculator(c *cost.Calculator) Option {
	return func(g *Gateway) { g.calc = c }
}

// WithBreakers replaces the default circuit breakers.
func WithBreakers(b *resilience.Breakers) Option {
	return func(g *Gateway) { g.breakers = b }
}

// New builds a Gateway over the given clients.
func New(ac anthropic.Client, pc perplexity.Client, s Settings, opts ...Option) *Gateway {
	if s.VisionMaxTokens <= 0 {
		s.VisionMaxTokens = 4096
	}
	if s.OutlineModel == "" {
		s.OutlineModel = s.GenerationModel
	}
	g := &Gateway{
		anthropic:  ac,
		perplexity: pc,
		settings:   s,
		calc:       cost.Default(),
		pacers:     make(map[string]*pacer),
	}
	if s.AnthropicRPS > 0 {
		g.pacers[ProviderAnthropic] = newPacer(ProviderAnthropic, s.AnthropicRPS, 2)
	}
	if s.PerplexityRPS > 0 {
		g.pacers[ProviderPerplexity] = newPacer(ProviderPerplexity, s.PerplexityRPS, 1)
	}
	for _, o := range opts {
		o(g)
	}
	if g.breakers == nil {
		cbCfg := resilience.DefaultBreakerConfig()
		cbCfg.ShouldTrip = tripsBreaker
		g.breakers = resilience.NewBreakers(cbCfg)
	}
	return g
}

// NewFromConfig builds the provider clients from configured keys.
func NewFromConfig(cfg *config.Config) *Gateway {
	var ac anthropic.Client
	if cfg.Anthropic.Key != "" {
		var opts []anthropic.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		ac = anthropic.NewClient(cfg.Anthropic.Key, opts...)
	}
	var pc perplexity.Client
	if cfg.Perplexity.Key != "" {
		pc = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	}
	return New(ac, pc, SettingsFrom(cfg), WithCalculator(cost.FromConfig(cfg.Pricing)))
}

// HasSearch reports whether a search provider is configured.
func (g *Gateway) HasSearch() bool { return g.perplexity != nil }

// Breakers exposes circuit states for health reporting.
func (g *Gateway) Breakers() *resilience.Breakers { return g.breakers }

func missingCredentials(provider string) *Error {
	return &Error{Category: CategoryConfig, Provider: provider, Err: ErrMissingCredentials}
}

// call paces, guards and classifies one provider request.
func (g *Gateway) call(ctx context.Context, provider string, vision bool, fn func(ctx context.Context) error) error {
	pc := g.pacers[provider]
	if pc != nil {
		if err := pc.wait(ctx); err != nil {
			return &Error{Category: CategoryUpstream, Provider: provider, Err: eris.Wrap(err, "gateway: rate limiter wait")}
		}
	}

	br := g.breakers.Get(provider)
	recovering := br.State() == resilience.CircuitHalfOpen
	err := br.Execute(ctx, fn)
	if err == nil {
		if pc != nil {
			if recovering {
				pc.reset()
			} else {
				pc.observe("")
			}
		}
		return nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &Error{Category: CategoryUpstream, Provider: provider, Err: err}
	}

	gerr := classify(provider, vision, err)
	if pc != nil {
		pc.observe(gerr.Category)
	}
	return gerr
}

// ValidateImage checks size and media type and returns the media type to
// send. A missing type is sniffed from the bytes.
func ValidateImage(img model.ImageInput) (string, error) {
	if len(img.Data) == 0 {
		return "", &Error{Category: CategoryInput, Err: eris.New("gateway: image is empty")}
	}
	if len(img.Data) > MaxImageBytes {
		return "", &Error{Category: CategoryInput, Err: eris.Errorf("gateway: image is %d bytes, limit is %d", len(img.Data), MaxImageBytes)}
	}
	mediaType := strings.TrimSpace(img.MIMEType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = http.DetectContentType(img.Data)
	}
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", &Error{Category: CategoryInput, Err: eris.Errorf("gateway: unsupported media type %q", mediaType)}
	}
	return mediaType, nil
}

// ExtractSyllabus sends the image to the vision model and returns the JSON
// document it produced.
func (g *Gateway) ExtractSyllabus(ctx context.Context, img model.ImageInput, instruction string) (json.RawMessage, model.TokenUsage, error) {
	mediaType, err := ValidateImage(img)
	if err != nil {
		return nil, model.TokenUsage{}, err
	}
	if g.anthropic == nil {
		return nil, model.TokenUsage{}, missingCredentials(ProviderAnthropic)
	}

	req := anthropic.MessageRequest{
		Model:     g.settings.VisionModel,
		MaxTokens: int64(g.settings.VisionMaxTokens),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: instruction,
			Images:  []anthropic.Image{{MediaType: mediaType, Data: img.Data}},
		}},
	}
	return g.completeJSON(ctx, "vision", true, req)
}

// ExtractOutline asks the outline model for a syllabus document describing a
// free-text topic. The result has the same shape as ExtractSyllabus.
func (g *Gateway) ExtractOutline(ctx context.Context, topic, instruction string) (json.RawMessage, model.TokenUsage, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, model.TokenUsage{}, &Error{Category: CategoryInput, Err: eris.New("gateway: topic is empty")}
	}
	if g.anthropic == nil {
		return nil, model.TokenUsage{}, missingCredentials(ProviderAnthropic)
	}

	req := anthropic.MessageRequest{
		Model:     g.settings.OutlineModel,
		MaxTokens: int64(g.settings.VisionMaxTokens),
		Messages:  []anthropic.Message{{Role: "user", Content: instruction + "\n\nTopic: " + topic}},
	}
	return g.completeJSON(ctx, "outline", false, req)
}

// Generate runs a single JSON generation call.
func (g *Gateway) Generate(ctx context.Context, gr GenerateRequest) (json.RawMessage, model.TokenUsage, error) {
	if g.anthropic == nil {
		return nil, model.TokenUsage{}, missingCredentials(ProviderAnthropic)
	}
	return g.completeJSON(ctx, "generate", false, g.messageRequest(gr))
}

func (g *Gateway) messageRequest(gr GenerateRequest) anthropic.MessageRequest {
	modelID := gr.Model
	if modelID == "" {
		modelID = g.settings.GenerationModel
	}
	maxTokens := gr.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	return anthropic.MessageRequest{
		Model:     modelID,
		MaxTokens: int64(maxTokens),
		System:    anthropic.CachedSystem(gr.System, "5m"),
		Messages:  []anthropic.Message{{Role: "user", Content: gr.User}},
	}
}

func (g *Gateway) completeJSON(ctx context.Context, phase string, vision bool, req anthropic.MessageRequest) (json.RawMessage, model.TokenUsage, error) {
	var resp *anthropic.MessageResponse
	err := g.call(ctx, ProviderAnthropic, vision, func(ctx context.Context) error {
		var err error
		resp, err = g.anthropic.CreateMessage(ctx, req)
		return err
	})
	if err != nil {
		return nil, model.TokenUsage{}, err
	}

	usage := g.usage(req.Model, phase, resp.Usage)
	raw, err := CleanJSON(resp.Text())
	if err != nil {
		if resp.Truncated() {
			err = eris.Wrapf(err, "gateway: output truncated at %d tokens", req.MaxTokens)
		}
		return nil, usage, &Error{Category: CategoryUpstream, Provider: ProviderAnthropic, Err: err}
	}
	return raw, usage, nil
}

func (g *Gateway) usage(modelID, phase string, u anthropic.TokenUsage) model.TokenUsage {
	out := model.TokenUsage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
		Calls:               1,
	}
	out.Cost = g.calc.Claude(modelID, out)
	zap.L().Info("cost attribution",
		zap.String("model", modelID),
		zap.String("phase", phase),
		zap.Int("input_tokens", out.InputTokens),
		zap.Int("output_tokens", out.OutputTokens),
		zap.Int("cache_write_tokens", out.CacheCreationTokens),
		zap.Int("cache_read_tokens", out.CacheReadTokens),
		zap.Float64("estimated_cost_usd", out.Cost),
	)
	return out
}

// Search queries the web search provider.
func (g *Gateway) Search(ctx context.Context, prompt string) (*SearchResult, error) {
	if g.perplexity == nil {
		return nil, missingCredentials(ProviderPerplexity)
	}
	req := perplexity.ChatCompletionRequest{
		Model:    g.settings.SearchModel,
		Messages: []perplexity.Message{{Role: "user", Content: prompt}},
	}

	var resp *perplexity.ChatCompletionResponse
	err := g.call(ctx, ProviderPerplexity, false, func(ctx context.Context) error {
		var err error
		resp, err = g.perplexity.ChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &SearchResult{
		Text:      strings.TrimSpace(resp.Content()),
		Citations: resp.Sources(),
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Calls:        1,
			Cost:         g.calc.SearchQuery(),
		},
	}
	zap.L().Info("cost attribution",
		zap.String("model", resp.Model),
		zap.String("phase", "search"),
		zap.Int("input_tokens", res.Usage.InputTokens),
		zap.Int("output_tokens", res.Usage.OutputTokens),
		zap.Float64("estimated_cost_usd", res.Usage.Cost),
	)
	return res, nil
}

var errConsumerGone = errors.New("stream consumer closed")

// GenerateStream starts a streaming generation call and returns a reader of
// SSE frames: one delta frame per text fragment, then the [DONE] sentinel.
// A provider failure surfaces as the error of the reader's next Read. Once
// the reader is closed the upstream call stops at the next fragment.
func (g *Gateway) GenerateStream(ctx context.Context, gr GenerateRequest) (io.ReadCloser, error) {
	if g.anthropic == nil {
		return nil, missingCredentials(ProviderAnthropic)
	}
	req := g.messageRequest(gr)
	pr, pw := io.Pipe()

	go func() {
		err := g.call(ctx, ProviderAnthropic, false, func(ctx context.Context) error {
			resp, err := g.anthropic.StreamMessage(ctx, req, func(text string) error {
				if werr := stream.WriteDelta(pw, text); werr != nil {
					return errConsumerGone
				}
				return nil
			})
			if err != nil {
				return err
			}
			g.usage(req.Model, "generate_stream", resp.Usage)
			return nil
		})
		if err != nil {
			if errors.Is(err, errConsumerGone) {
				zap.L().Debug("gateway: stream consumer went away")
			}
			pw.CloseWithError(err) //nolint:errcheck
			return
		}
		pw.CloseWithError(stream.WriteDone(pw)) //nolint:errcheck
	}()

	return pr, nil
}
