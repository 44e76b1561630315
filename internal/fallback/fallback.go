// Package fallback produces deterministic study content for units whose
// generation failed, so a run always yields a complete object per unit.
package fallback

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/examprep/examprep-cli/internal/model"
)

// Adapter builds a complete fallback analysis for one unit.
type Adapter interface {
	Name() string
	FallbackUnit(unit model.UnitRecord) model.UnitAnalysis
}

// Options tune the generated content.
type Options struct {
	// MaxTopics caps how many topics become questions.
	MaxTopics int
	// HoursPerUnit is the micro-plan budget for the unit.
	HoursPerUnit float64
}

// DefaultOptions returns five topics and four study hours per unit.
func DefaultOptions() Options {
	return Options{MaxTopics: 5, HoursPerUnit: 4}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MaxTopics <= 0 {
		o.MaxTopics = d.MaxTopics
	}
	if o.HoursPerUnit <= 0 {
		o.HoursPerUnit = d.HoursPerUnit
	}
	return o
}

// TopicName title-cases a raw syllabus topic for display. Acronyms keep
// their case.
func TopicName(topic string) string {
	// Casers are stateful, so one is built per call.
	return cases.Title(language.English, cases.NoLower).String(strings.TrimSpace(topic))
}

// topics returns the first n topics of the unit, falling back to its title.
func topics(unit model.UnitRecord, n int) []string {
	src := unit.Topics
	if len(src) == 0 {
		title := unit.Title
		if title == "" {
			title = fmt.Sprintf("Unit %d", unit.Number)
		}
		src = []string{title}
	}
	if len(src) > n {
		src = src[:n]
	}
	out := make([]string, len(src))
	for i, t := range src {
		out[i] = TopicName(t)
	}
	return out
}

// keywords tags the leading topics HIGH, the middle MEDIUM and the rest LOW.
func keywords(names []string) []model.KeywordImportance {
	out := make([]model.KeywordImportance, len(names))
	for i, name := range names {
		freq := model.FrequencyLow
		switch {
		case i == 0:
			freq = model.FrequencyHigh
		case i < 3:
			freq = model.FrequencyMedium
		}
		out[i] = model.KeywordImportance{Topic: name, Frequency: freq}
	}
	return out
}

// GenericAdapter turns topics into definition and explanation questions.
type GenericAdapter struct {
	opts Options
}

// NewGenericAdapter returns the adapter used for subjects with no specific one.
func NewGenericAdapter(opts Options) *GenericAdapter {
	return &GenericAdapter{opts: opts.normalized()}
}

// Name implements Adapter.
func (a *GenericAdapter) Name() string { return "generic" }

// FallbackUnit implements Adapter.
func (a *GenericAdapter) FallbackUnit(unit model.UnitRecord) model.UnitAnalysis {
	names := topics(unit, a.opts.MaxTopics)
	res := model.UnitAnalysis{
		UnitNumber: unit.Number,
		Title:      unit.Title,
		Keywords:   keywords(names),
		Fallback:   true,
		Adapter:    a.Name(),
	}
	for _, name := range names {
		res.ShortAnswers = append(res.ShortAnswers, model.Question{
			Question:   fmt.Sprintf("Define %s.", name),
			Answer:     fmt.Sprintf("State the definition of %s and one example from the unit notes.", name),
			Marks:      2,
			BloomLevel: "Remember",
		})
	}
	res.LongAnswers = append(res.LongAnswers, model.Question{
		Question:   fmt.Sprintf("Explain %s in detail with a neat diagram.", names[0]),
		Answer:     fmt.Sprintf("Introduce %s, describe its components, illustrate with a diagram and conclude with applications.", names[0]),
		Marks:      13,
		BloomLevel: "Understand",
	})
	if len(names) > 1 {
		res.LongAnswers = append(res.LongAnswers, model.Question{
			Question:   fmt.Sprintf("Compare %s and %s.", names[0], names[1]),
			Answer:     "Tabulate the differences on purpose, structure, advantages and limitations.",
			Marks:      13,
			BloomLevel: "Analyze",
		})
	}
	res.StudyPlan = microPlan(names, a.opts.HoursPerUnit, "Read the textbook section on %s and write a one-page summary.")
	return res
}

// ProblemSolvingAdapter frames questions as worked problems, for subjects
// assessed mainly through numericals and derivations.
type ProblemSolvingAdapter struct {
	opts Options
}

// NewProblemSolvingAdapter returns the adapter for quantitative subjects.
func NewProblemSolvingAdapter(opts Options) *ProblemSolvingAdapter {
	return &ProblemSolvingAdapter{opts: opts.normalized()}
}

// Name implements Adapter.
func (a *ProblemSolvingAdapter) Name() string { return "problem_solving" }

// FallbackUnit implements Adapter.
func (a *ProblemSolvingAdapter) FallbackUnit(unit model.UnitRecord) model.UnitAnalysis {
	names := topics(unit, a.opts.MaxTopics)
	res := model.UnitAnalysis{
		UnitNumber: unit.Number,
		Title:      unit.Title,
		Keywords:   keywords(names),
		Fallback:   true,
		Adapter:    a.Name(),
	}
	for _, name := range names {
		res.ShortAnswers = append(res.ShortAnswers, model.Question{
			Question:   fmt.Sprintf("State the key formula or rule used in %s.", name),
			Answer:     fmt.Sprintf("Write the governing expression for %s and define each term.", name),
			Marks:      2,
			BloomLevel: "Remember",
		})
	}
	for i, name := range names {
		if i == 2 {
			break
		}
		res.LongAnswers = append(res.LongAnswers, model.Question{
			Question:   fmt.Sprintf("Solve a representative problem on %s, showing every step.", name),
			Answer:     fmt.Sprintf("List the given data, apply the %s method step by step and verify the result.", name),
			Marks:      13,
			BloomLevel: "Apply",
		})
	}
	res.StudyPlan = microPlan(names, a.opts.HoursPerUnit, "Work three past-paper problems on %s without notes.")
	return res
}

func microPlan(names []string, hours float64, stepFormat string) model.MicroPlan {
	steps := make([]string, 0, len(names)+1)
	for _, name := range names {
		steps = append(steps, fmt.Sprintf(stepFormat, name))
	}
	steps = append(steps, "Attempt the questions above under timed conditions.")
	return model.MicroPlan{Hours: hours, Steps: steps}
}
