// Package pipeline drives an analysis run: vision extraction, web search,
// context fusion, per-unit generation and presentation.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/examprep/examprep-cli/internal/budget"
	"github.com/examprep/examprep-cli/internal/config"
	"github.com/examprep/examprep-cli/internal/cost"
	"github.com/examprep/examprep-cli/internal/fallback"
	"github.com/examprep/examprep-cli/internal/gateway"
	"github.com/examprep/examprep-cli/internal/guard"
	"github.com/examprep/examprep-cli/internal/model"
	"github.com/examprep/examprep-cli/internal/resilience"
	"github.com/examprep/examprep-cli/internal/store"
)

// MaxSearchContextChars caps the search text carried into generation prompts.
const MaxSearchContextChars = 8000

// Provider is the subset of the gateway the engine calls.
type Provider interface {
	ExtractSyllabus(ctx context.Context, img model.ImageInput, instruction string) (json.RawMessage, model.TokenUsage, error)
	ExtractOutline(ctx context.Context, topic, instruction string) (json.RawMessage, model.TokenUsage, error)
	Search(ctx context.Context, prompt string) (*gateway.SearchResult, error)
	Generate(ctx context.Context, gr gateway.GenerateRequest) (json.RawMessage, model.TokenUsage, error)
	GenerateStream(ctx context.Context, gr gateway.GenerateRequest) (io.ReadCloser, error)
}

// Settings tune a run.
type Settings struct {
	Policy          resilience.Policy
	VisionTimeout   time.Duration
	SearchTimeout   time.Duration
	GenerateTimeout time.Duration
	Budget          budget.Config
	Calculator      *cost.Calculator
	Fallback        fallback.Options
	Prompts         *Prompts
	StandardHours   float64
	PanicHours      float64
}

// DefaultSettings returns three attempts with a one-second linear step and
// no stage timeouts.
func DefaultSettings() Settings {
	return Settings{
		Policy:        resilience.DefaultPolicy(),
		Budget:        budget.DefaultConfig(),
		Fallback:      fallback.DefaultOptions(),
		StandardHours: 4,
		PanicHours:    1.5,
	}
}

// SettingsFrom builds Settings from the application config and loads the
// prompt file when one is configured.
func SettingsFrom(cfg *config.Config) (Settings, error) {
	prompts, err := LoadPrompts(cfg.Pipeline.PromptsPath)
	if err != nil {
		return Settings{}, err
	}
	p := cfg.Pipeline
	s := Settings{
		Policy:          resilience.PolicyFromConfig(p.MaxAttempts, p.BackoffStepMS),
		VisionTimeout:   seconds(p.VisionTimeoutSecs),
		SearchTimeout:   seconds(p.SearchTimeoutSecs),
		GenerateTimeout: seconds(p.GenerateTimeoutSecs),
		Budget:          budget.ConfigFrom(cfg.Budget, cfg.Anthropic.GenerationModel),
		Calculator:      cost.FromConfig(cfg.Pricing),
		Fallback: fallback.Options{
			MaxTopics:    p.FallbackTopics,
			HoursPerUnit: p.StandardHoursPerUnit,
		},
		Prompts:       prompts,
		StandardHours: p.StandardHoursPerUnit,
		PanicHours:    p.PanicHoursPerUnit,
	}
	return s, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Engine runs analyses. It is safe for concurrent use; each Analyze call
// gets its own checkpoint.
type Engine struct {
	provider  Provider
	store     store.CheckpointStore
	prompts   *Prompts
	estimator *budget.Estimator
	fallbacks *fallback.Registry
	settings  Settings
	now       func() time.Time
}

// New creates an Engine. st may be nil, in which case runs are not
// checkpointed.
func New(p Provider, st store.CheckpointStore, s Settings) *Engine {
	if s.Prompts == nil {
		s.Prompts = DefaultPrompts()
	}
	if s.Policy.MaxAttempts <= 0 {
		s.Policy = resilience.DefaultPolicy()
	}
	if s.Budget.CharsPerToken <= 0 {
		s.Budget = budget.DefaultConfig()
	}
	if s.StandardHours <= 0 {
		s.StandardHours = 4
	}
	if s.PanicHours <= 0 {
		s.PanicHours = 1.5
	}
	return &Engine{
		provider:  p,
		store:     st,
		prompts:   s.Prompts,
		estimator: budget.NewEstimator(s.Budget, s.Calculator),
		fallbacks: fallback.NewRegistry(s.Fallback),
		settings:  s,
		now:       time.Now,
	}
}

// Fallbacks exposes the adapter registry for registering subject adapters.
func (e *Engine) Fallbacks() *fallback.Registry { return e.fallbacks }

// Emitter receives progress events. It is called synchronously from the
// goroutine running Analyze.
type Emitter func(model.PipelineEvent)

// Option configures one Analyze call.
type Option func(*runOptions)

type runOptions struct {
	emit     Emitter
	resumeID string
}

// WithEmitter sets the progress callback.
func WithEmitter(fn Emitter) Option {
	return func(o *runOptions) { o.emit = fn }
}

// WithResume continues the given checkpoint, reusing the analyses of units
// it already completed.
func WithResume(checkpointID string) Option {
	return func(o *runOptions) { o.resumeID = checkpointID }
}

// run is the state of one Analyze call.
type run struct {
	*Engine
	opts  runOptions
	meta  model.RunMetadata
	log   *zap.Logger
	usage model.TokenUsage
}

func (r *run) emit(stage model.PipelineStage, status string, details map[string]any) {
	if r.opts.emit != nil {
		r.opts.emit(model.NewPipelineEvent(stage, status, details))
	}
}

// Analyze runs the full pipeline. Input, vision and credential failures are
// returned as errors. Search failures degrade to an empty context and unit
// failures to fallback content. When the run is aborted after generation has
// started, the partial result is returned together with the error.
func (e *Engine) Analyze(ctx context.Context, src model.SourceInput, meta model.RunMetadata, opts ...Option) (*model.AnalysisResult, error) {
	r := &run{Engine: e, meta: meta, log: zap.L()}
	for _, o := range opts {
		o(&r.opts)
	}
	if err := src.Validate(); err != nil {
		return nil, &gateway.Error{Category: gateway.CategoryInput, Err: err}
	}

	doc, err := r.extract(ctx, src)
	if err != nil {
		return nil, err
	}
	r.log = r.log.With(zap.String("subject", doc.Subject()))

	state, checkpointID := r.resume(ctx, doc)

	search := r.search(ctx, doc)
	fused := r.fuse(doc, search)

	if checkpointID == "" {
		checkpointID = r.initCheckpoint(ctx, doc)
	}
	units, runErr := r.generateAll(ctx, doc, fused, state, checkpointID)

	r.emit(model.StagePresentation, "assembling", nil)
	res := assemble(assembly{
		doc:          doc,
		meta:         meta,
		units:        units,
		search:       search,
		checkpointID: checkpointID,
		usage:        r.usage,
		hours:        planHours{standard: e.settings.StandardHours, panic: e.settings.PanicHours},
	})
	res.Metadata.Timestamp = e.now().UTC()

	if err := guard.Check(res); err != nil {
		details := map[string]any{"error": err.Error()}
		var v *guard.Violation
		if errors.As(err, &v) {
			details["checks"] = v.Checks
			if v.Failed(guard.CheckEncoding) || v.Failed(guard.CheckGarbage) {
				scrub(res)
				err = guard.Check(res)
				details["sanitized"] = true
				details["clean"] = err == nil
			}
		}
		if err != nil {
			r.log.Warn("pipeline: final validation failed, returning result anyway", zap.Error(err))
		} else {
			r.log.Info("pipeline: final validation passed after sanitizing text")
		}
		r.emit(model.StagePresentation, "validation_warning", details)
	}

	r.log.Info("pipeline: run finished",
		zap.String("status", string(res.Metadata.ProcessingStatus)),
		zap.Int("produced_units", res.Metadata.ProducedUnits),
		zap.Int("total_units", res.Metadata.TotalUnits),
		zap.Ints("fallback_units", res.Metadata.FallbackUnits),
		zap.Int("calls", r.usage.Calls),
		zap.Float64("estimated_cost_usd", r.usage.Cost),
	)
	r.emit(model.StagePresentation, "assembled", map[string]any{
		"processing_status": res.Metadata.ProcessingStatus,
		"produced_units":    res.Metadata.ProducedUnits,
	})
	return res, runErr
}

func (r *run) extract(ctx context.Context, src model.SourceInput) (*model.SyllabusDocument, error) {
	source := "topic"
	if src.Image != nil {
		source = "image"
	}
	r.emit(model.StageVision, "started", map[string]any{"source": source})

	if r.settings.VisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.VisionTimeout)
		defer cancel()
	}

	var (
		raw   json.RawMessage
		usage model.TokenUsage
		err   error
	)
	if src.Image != nil {
		instruction, perr := r.prompts.Vision(r.meta.SubjectHint)
		if perr != nil {
			return nil, perr
		}
		raw, usage, err = r.provider.ExtractSyllabus(ctx, *src.Image, instruction)
	} else {
		instruction, perr := r.prompts.Outline()
		if perr != nil {
			return nil, perr
		}
		raw, usage, err = r.provider.ExtractOutline(ctx, src.Topic, instruction)
	}
	r.usage.Add(usage)
	if err != nil {
		r.visionFailed(err)
		return nil, eris.Wrap(err, "pipeline: vision")
	}

	doc, err := decodeSyllabus(raw, r.meta)
	if err != nil {
		cat := gateway.CategoryUpstream
		if src.Image != nil {
			cat = gateway.CategoryInput
		}
		gerr := &gateway.Error{Category: cat, Provider: gateway.ProviderAnthropic, Err: err}
		r.visionFailed(gerr)
		return nil, gerr
	}

	r.emit(model.StageVision, "complete", map[string]any{
		"subject":             doc.Subject(),
		"units":               len(doc.Units),
		"total_units":         doc.DeclaredUnits(),
		"unit_count_mismatch": doc.UnitCountMismatch(),
	})
	return doc, nil
}

func (r *run) visionFailed(err error) {
	r.log.Error("pipeline: vision stage failed", zap.Error(err))
	r.emit(model.StageVision, "failed", map[string]any{
		"category": string(gateway.CategoryOf(err)),
		"message":  gateway.CategoryOf(err).UserMessage(),
	})
}

// resume loads the requested checkpoint. A missing, unreadable or mismatched
// checkpoint starts a fresh run.
func (r *run) resume(ctx context.Context, doc *model.SyllabusDocument) (*model.CheckpointState, string) {
	id := r.opts.resumeID
	if id == "" || r.store == nil {
		return nil, ""
	}
	state, err := r.store.Load(ctx, id)
	switch {
	case err != nil:
		r.log.Warn("pipeline: load checkpoint failed, starting fresh", zap.String("checkpoint_id", id), zap.Error(err))
		return nil, ""
	case state == nil:
		r.log.Warn("pipeline: checkpoint not found, starting fresh", zap.String("checkpoint_id", id))
		return nil, ""
	case state.TotalUnits != checkpointTotal(doc):
		r.log.Warn("pipeline: checkpoint does not match syllabus, starting fresh",
			zap.String("checkpoint_id", id),
			zap.Int("checkpoint_units", state.TotalUnits),
			zap.Int("syllabus_units", checkpointTotal(doc)),
		)
		return nil, ""
	}
	r.log.Info("pipeline: resuming checkpoint",
		zap.String("checkpoint_id", id),
		zap.Ints("completed_units", state.CompletedUnits),
	)
	return state, id
}

// checkpointTotal covers both the declared count and the highest unit number
// so every extracted unit can be recorded.
func checkpointTotal(doc *model.SyllabusDocument) int {
	total := doc.DeclaredUnits()
	for _, u := range doc.Units {
		if u.Number > total {
			total = u.Number
		}
	}
	return total
}

func (r *run) search(ctx context.Context, doc *model.SyllabusDocument) *searchOutcome {
	r.emit(model.StageSearch, "started", nil)
	out := &searchOutcome{}

	prompt, err := r.prompts.Search(doc, r.meta)
	if err == nil {
		sctx := ctx
		if r.settings.SearchTimeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, r.settings.SearchTimeout)
			defer cancel()
		}
		var res *gateway.SearchResult
		res, err = r.provider.Search(sctx, prompt)
		if err == nil {
			out.text = guard.Sanitize(res.Text)
			out.citations = res.Citations
			r.usage.Add(res.Usage)
		}
	}

	if err != nil {
		out.err = err
		r.log.Warn("pipeline: search failed, continuing without context", zap.Error(err))
		r.emit(model.StageSearch, "degraded", map[string]any{
			"category": string(gateway.CategoryOf(err)),
		})
		return out
	}
	r.emit(model.StageSearch, "complete", map[string]any{
		"context_chars": len(out.text),
		"citations":     len(out.citations),
	})
	return out
}

// fused is the generation context shared by every unit.
type fused struct {
	outline       string
	searchContext string
}

func (r *run) fuse(doc *model.SyllabusDocument, s *searchOutcome) fused {
	r.emit(model.StageFusion, "started", nil)
	f := fused{searchContext: truncate(s.text, MaxSearchContextChars)}
	if b, err := json.Marshal(doc); err == nil {
		f.outline = string(b)
	}
	r.emit(model.StageFusion, "complete", map[string]any{
		"outline_chars": len(f.outline),
		"context_chars": len(f.searchContext),
	})
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func (r *run) initCheckpoint(ctx context.Context, doc *model.SyllabusDocument) string {
	if r.store == nil {
		return ""
	}
	id, err := r.store.Initialize(ctx, doc.Subject(), checkpointTotal(doc))
	if err != nil {
		r.log.Warn("pipeline: checkpoint unavailable, run will not be resumable", zap.Error(err))
		return ""
	}
	return id
}

func (r *run) record(ctx context.Context, id string, a model.UnitAnalysis) {
	if id == "" {
		return
	}
	if err := r.store.RecordUnit(ctx, id, a.UnitNumber, a); err != nil {
		r.log.Warn("pipeline: record unit failed",
			zap.String("checkpoint_id", id),
			zap.Int("unit", a.UnitNumber),
			zap.Error(err),
		)
	}
}

// generateAll processes units strictly in ascending order. It stops early only
// on cancellation or a credentials failure.
func (r *run) generateAll(ctx context.Context, doc *model.SyllabusDocument, f fused, state *model.CheckpointState, checkpointID string) ([]model.UnitAnalysis, error) {
	r.emit(model.StageBrain, "started", map[string]any{
		"checkpoint_id": checkpointID,
		"units":         len(doc.Units),
	})

	units := make([]model.UnitAnalysis, 0, len(doc.Units))
	for _, unit := range doc.Units {
		if state != nil && state.IsCompleted(unit.Number) {
			if prev, ok := state.Results[unit.Number]; ok {
				units = append(units, prev)
				r.emit(model.StageBrain, "unit_resumed", map[string]any{"unit": unit.Number})
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			return units, eris.Wrap(err, "pipeline: run cancelled")
		}

		r.emit(model.StageBrain, "unit_started", map[string]any{"unit": unit.Number, "title": unit.Title})
		a, err := r.generateUnit(ctx, doc, unit, f)
		if err != nil {
			if gateway.IsFatal(err) {
				r.log.Error("pipeline: aborting run", zap.Int("unit", unit.Number), zap.Error(err))
				return units, err
			}
			if ctx.Err() != nil {
				return units, eris.Wrap(ctx.Err(), "pipeline: run cancelled")
			}
			a = r.fallbacks.Unit(doc.Subject(), unit)
			r.log.Warn("pipeline: unit generation failed, using fallback",
				zap.Int("unit", unit.Number),
				zap.String("adapter", a.Adapter),
				zap.Error(err),
			)
			r.emit(model.StageBrain, "unit_fallback", map[string]any{
				"unit":     unit.Number,
				"adapter":  a.Adapter,
				"category": string(gateway.CategoryOf(err)),
			})
		} else {
			r.emit(model.StageBrain, "unit_complete", map[string]any{"unit": unit.Number})
		}

		units = append(units, a)
		r.record(ctx, checkpointID, a)
	}
	return units, nil
}

func (r *run) generateUnit(ctx context.Context, doc *model.SyllabusDocument, unit model.UnitRecord, f fused) (model.UnitAnalysis, error) {
	b := r.estimator.Estimate(unit, doc)
	hours := r.settings.StandardHours
	if r.meta.Panic {
		hours = r.settings.PanicHours
	}

	data := UnitData{
		Subject:       doc.Subject(),
		Regulation:    regulationLabel(doc.Regulation),
		StudyGoal:     r.meta.StudyGoal,
		Panic:         r.meta.Panic,
		Hours:         hours,
		SearchContext: f.searchContext,
		Unit:          unit,
	}
	if b.Strategy == budget.StrategySingle {
		data.Outline = f.outline
	}
	system, err := r.prompts.UnitSystem()
	if err != nil {
		return model.UnitAnalysis{}, err
	}
	user, err := r.prompts.UnitUser(data)
	if err != nil {
		return model.UnitAnalysis{}, err
	}

	r.log.Debug("pipeline: unit budget",
		zap.Int("unit", unit.Number),
		zap.String("strategy", string(b.Strategy)),
		zap.Int("estimated_tokens", b.EstimatedTokens),
		zap.Float64("estimated_cost_usd", b.EstimatedCostUSD),
	)

	policy := r.settings.Policy
	policy.ShouldRetry = gateway.Retryable
	policy.OnRetry = func(attempt int, err error) {
		r.log.Warn("pipeline: retrying unit",
			zap.Int("unit", unit.Number),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		r.emit(model.StageBrain, "unit_retry", map[string]any{"unit": unit.Number, "attempt": attempt})
	}

	return resilience.DoVal(ctx, policy, func(ctx context.Context, attempt int) (model.UnitAnalysis, error) {
		if r.settings.GenerateTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.settings.GenerateTimeout)
			defer cancel()
		}
		raw, usage, err := r.provider.Generate(ctx, gateway.GenerateRequest{
			System:    system,
			User:      user,
			MaxTokens: b.MaxOutputTokens,
		})
		r.usage.Add(usage)
		if err != nil {
			return model.UnitAnalysis{}, err
		}
		return decodeUnit(raw, unit, hours)
	})
}

// Explain streams a tutor explanation of a topic as SSE frames.
func (e *Engine) Explain(ctx context.Context, topic string) (io.ReadCloser, error) {
	if topic == "" {
		return nil, &gateway.Error{Category: gateway.CategoryInput, Err: eris.New("pipeline: topic is empty")}
	}
	return e.provider.GenerateStream(ctx, gateway.GenerateRequest{
		System: e.prompts.Explain(),
		User:   topic,
	})
}
