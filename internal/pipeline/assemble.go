package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/examprep/examprep-cli/internal/guard"
	"github.com/examprep/examprep-cli/internal/model"
)

// Confidence labels for hit-ratio rows.
const (
	ConfidenceHigh     = "HIGH"
	ConfidenceMedium   = "MEDIUM"
	ConfidenceLow      = "LOW"
	ConfidenceFallback = "FALLBACK"
)

// assembly collects everything the presentation stage needs.
type assembly struct {
	doc          *model.SyllabusDocument
	meta         model.RunMetadata
	units        []model.UnitAnalysis
	search       *searchOutcome
	checkpointID string
	usage        model.TokenUsage
	hours        planHours
}

type planHours struct {
	standard float64
	panic    float64
}

type searchOutcome struct {
	text      string
	citations []string
	err       error
}

// assemble builds the final result. Units are sorted ascending; a fallback
// unit counts as produced but keeps the status below COMPLETE.
func assemble(a assembly) *model.AnalysisResult {
	units := append([]model.UnitAnalysis(nil), a.units...)
	model.SortUnits(units)

	declared := a.doc.DeclaredUnits()
	var fallbacks []int
	for _, u := range units {
		if u.Fallback {
			fallbacks = append(fallbacks, u.UnitNumber)
		}
	}

	res := &model.AnalysisResult{
		Metadata: model.ResultMetadata{
			SubjectCode:       a.doc.SubjectCode,
			SubjectName:       a.doc.SubjectName,
			Department:        a.doc.Department,
			Regulation:        a.doc.Regulation,
			Semester:          a.doc.Semester,
			TotalUnits:        declared,
			ProducedUnits:     len(units),
			FallbackUnits:     fallbacks,
			UnitCountMismatch: a.doc.UnitCountMismatch(),
			ProcessingStatus:  status(len(units), declared, len(fallbacks)),
			CheckpointID:      a.checkpointID,
			StudyGoal:         a.meta.StudyGoal,
			Panic:             a.meta.Panic,
			TokenUsage:        a.usage,
			EstimatedCostUSD:  a.usage.Cost,
		},
		UnitPredictions: units,
	}
	if a.search != nil {
		res.Metadata.SearchContextChars = len(a.search.text)
		res.Metadata.Citations = a.search.citations
	}
	res.HitRatios = hitRatios(units)
	res.Methodology = methodology(a, res)
	res.StudyPlan = aggregatePlan(units, res.HitRatios, a.meta.Panic, a.hours)
	return res
}

func status(produced, declared, fallbacks int) model.ProcessingStatus {
	switch {
	case produced == 0:
		return model.StatusFailed
	case produced == declared && fallbacks == 0:
		return model.StatusComplete
	default:
		return model.StatusPartial
	}
}

// hitRatio is the mean keyword weight scaled to 0-100, where an all-HIGH
// unit scores 100 and an all-LOW unit 33.
func hitRatio(u model.UnitAnalysis) int {
	if len(u.Keywords) == 0 {
		return 0
	}
	sum := 0
	for _, k := range u.Keywords {
		sum += k.Frequency.Weight()
	}
	top := 3 * len(u.Keywords)
	return int(math.Round(100 * float64(sum) / float64(top)))
}

func hitRatios(units []model.UnitAnalysis) []model.HitRatioRow {
	rows := make([]model.HitRatioRow, 0, len(units))
	for _, u := range units {
		r := hitRatio(u)
		conf := ConfidenceLow
		switch {
		case u.Fallback:
			conf = ConfidenceFallback
		case r >= 75:
			conf = ConfidenceHigh
		case r >= 50:
			conf = ConfidenceMedium
		}
		rows = append(rows, model.HitRatioRow{
			UnitNumber: u.UnitNumber,
			Title:      u.Title,
			HitRatio:   r,
			Confidence: conf,
		})
	}
	return rows
}

func methodology(a assembly, res *model.AnalysisResult) string {
	var b strings.Builder
	md := res.Metadata
	fmt.Fprintf(&b, "Predictions for %s were generated unit by unit from the extracted syllabus (%d of %d units).",
		a.doc.Subject(), md.ProducedUnits, md.TotalUnits)

	switch {
	case md.SearchContextChars == 0:
		b.WriteString(" No web search context was available (0 characters), so questions rely on the syllabus alone.")
	default:
		fmt.Fprintf(&b, " They draw on %d characters of web search context about past papers", md.SearchContextChars)
		if n := len(md.Citations); n > 0 {
			fmt.Fprintf(&b, " from %d cited sources", n)
		}
		b.WriteString(".")
	}

	if n := len(md.FallbackUnits); n > 0 {
		fmt.Fprintf(&b, " %d unit(s) (%s) could not be generated and use templated questions from the unit topics.",
			n, joinInts(md.FallbackUnits))
	}
	if md.UnitCountMismatch {
		fmt.Fprintf(&b, " The syllabus declares %d units but %d were extracted; check the photo covers the full syllabus.",
			a.doc.TotalUnits, len(a.doc.Units))
	}
	b.WriteString(" Hit ratios weight each keyword by its expected exam frequency (HIGH 3, MEDIUM 2, LOW 1).")
	return b.String()
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

// aggregatePlan scales each unit's share of study time by its hit ratio. In
// panic mode sessions are ordered by hit ratio so the likeliest topics come
// first.
func aggregatePlan(units []model.UnitAnalysis, rows []model.HitRatioRow, panicMode bool, h planHours) model.AggregatePlan {
	plan := model.AggregatePlan{Mode: "standard", Priorities: []string{}, Sessions: []model.PlanSession{}}
	base := h.standard
	if panicMode {
		plan.Mode = "panic"
		base = h.panic
	}
	if base <= 0 {
		base = 4
	}

	ratio := make(map[int]int, len(rows))
	for _, r := range rows {
		ratio[r.UnitNumber] = r.HitRatio
	}

	for _, u := range units {
		hours := math.Round(base*(0.5+float64(ratio[u.UnitNumber])/100)*2) / 2
		if hours < 0.5 {
			hours = 0.5
		}
		plan.Sessions = append(plan.Sessions, model.PlanSession{
			UnitNumber: u.UnitNumber,
			Title:      u.Title,
			Hours:      hours,
			Focus:      focus(u, 3),
		})
		plan.TotalHours += hours
	}

	ranked := append([]model.PlanSession(nil), plan.Sessions...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ratio[ranked[i].UnitNumber] > ratio[ranked[j].UnitNumber]
	})
	if panicMode {
		plan.Sessions = ranked
	}
	for i, s := range ranked {
		if i == 3 {
			break
		}
		label := fmt.Sprintf("Unit %d", s.UnitNumber)
		if s.Title != "" {
			label += ": " + s.Title
		}
		plan.Priorities = append(plan.Priorities, label)
	}
	return plan
}

// focus picks HIGH-frequency topics first, then the rest in order.
func focus(u model.UnitAnalysis, n int) []string {
	out := make([]string, 0, n)
	for _, want := range []model.Frequency{model.FrequencyHigh, model.FrequencyMedium, model.FrequencyLow} {
		for _, k := range u.Keywords {
			if len(out) == n {
				return out
			}
			if k.Frequency == want {
				out = append(out, k.Topic)
			}
		}
	}
	return out
}

// scrub sanitizes every free-text field of a result in place.
func scrub(res *model.AnalysisResult) {
	md := &res.Metadata
	md.SubjectCode = guard.Sanitize(md.SubjectCode)
	md.SubjectName = guard.Sanitize(md.SubjectName)
	md.Department = guard.Sanitize(md.Department)
	res.Methodology = guard.Sanitize(res.Methodology)
	for i := range res.HitRatios {
		res.HitRatios[i].Title = guard.Sanitize(res.HitRatios[i].Title)
	}
	for i := range res.UnitPredictions {
		u := &res.UnitPredictions[i]
		u.Title = guard.Sanitize(u.Title)
		scrubQuestions(u.ShortAnswers)
		scrubQuestions(u.LongAnswers)
		for j := range u.Keywords {
			u.Keywords[j].Topic = guard.Sanitize(u.Keywords[j].Topic)
		}
		scrubAll(u.StudyPlan.Steps)
	}
	scrubAll(res.StudyPlan.Priorities)
	for i := range res.StudyPlan.Sessions {
		s := &res.StudyPlan.Sessions[i]
		s.Title = guard.Sanitize(s.Title)
		scrubAll(s.Focus)
	}
}

func scrubQuestions(qs []model.Question) {
	for i := range qs {
		qs[i].Question = guard.Sanitize(qs[i].Question)
		qs[i].Answer = guard.Sanitize(qs[i].Answer)
	}
}

func scrubAll(ss []string) {
	for i := range ss {
		ss[i] = guard.Sanitize(ss[i])
	}
}
