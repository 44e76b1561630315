package pipeline

import (
	"fmt"
	"strings"

	"github.com/examprep/examprep-cli/internal/model"
)

// RenderReport formats a result as a markdown study report. The JSON result
// stays authoritative; the report drops answers' metadata tags.
func RenderReport(res *model.AnalysisResult) string {
	var b strings.Builder
	md := res.Metadata

	title := strings.TrimSpace(md.SubjectCode + " " + md.SubjectName)
	if title == "" {
		title = "Study Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if md.Regulation != "" && md.Regulation != model.RegulationOther {
		fmt.Fprintf(&b, "Regulation: %s", md.Regulation)
		if md.Semester > 0 {
			fmt.Fprintf(&b, " | Semester %d", md.Semester)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Status: **%s** (%d of %d units)\n", md.ProcessingStatus, md.ProducedUnits, md.TotalUnits)
	if md.Panic {
		b.WriteString("Mode: panic (exam is close)\n")
	}
	b.WriteString("\n")

	b.WriteString("## Methodology\n")
	b.WriteString(res.Methodology)
	b.WriteString("\n\n")

	b.WriteString("## Hit Ratios\n")
	if len(res.HitRatios) == 0 {
		b.WriteString("No units were produced.\n\n")
	} else {
		b.WriteString("| Unit | Title | Hit ratio | Confidence |\n|---|---|---|---|\n")
		for _, r := range res.HitRatios {
			fmt.Fprintf(&b, "| %d | %s | %d%% | %s |\n", r.UnitNumber, cell(r.Title), r.HitRatio, r.Confidence)
		}
		b.WriteString("\n")
	}

	for _, u := range res.UnitPredictions {
		fmt.Fprintf(&b, "## Unit %d", u.UnitNumber)
		if u.Title != "" {
			fmt.Fprintf(&b, ": %s", u.Title)
		}
		b.WriteString("\n")
		if u.Fallback {
			b.WriteString("_Generated from the syllabus topics; review against your notes._\n")
		}
		b.WriteString("\n")

		writeQuestions(&b, "Short answer", u.ShortAnswers)
		writeQuestions(&b, "Long answer", u.LongAnswers)

		if len(u.Keywords) > 0 {
			b.WriteString("### Key topics\n")
			for _, k := range u.Keywords {
				fmt.Fprintf(&b, "- %s (%s)\n", k.Topic, k.Frequency)
			}
			b.WriteString("\n")
		}
		if len(u.StudyPlan.Steps) > 0 {
			fmt.Fprintf(&b, "### Plan (%.1f h)\n", u.StudyPlan.Hours)
			for i, s := range u.StudyPlan.Steps {
				fmt.Fprintf(&b, "%d. %s\n", i+1, s)
			}
			b.WriteString("\n")
		}
	}

	plan := res.StudyPlan
	if len(plan.Sessions) > 0 {
		fmt.Fprintf(&b, "## Study Plan (%s, %.1f h total)\n", plan.Mode, plan.TotalHours)
		if len(plan.Priorities) > 0 {
			fmt.Fprintf(&b, "Start with: %s\n\n", strings.Join(plan.Priorities, "; "))
		}
		for _, s := range plan.Sessions {
			fmt.Fprintf(&b, "- Unit %d (%.1f h)", s.UnitNumber, s.Hours)
			if len(s.Focus) > 0 {
				fmt.Fprintf(&b, ": %s", strings.Join(s.Focus, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func writeQuestions(b *strings.Builder, heading string, qs []model.Question) {
	if len(qs) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n", heading)
	for i, q := range qs {
		fmt.Fprintf(b, "%d. %s (%d marks)\n", i+1, q.Question, q.Marks)
		if q.Answer != "" {
			fmt.Fprintf(b, "   - %s\n", q.Answer)
		}
	}
	b.WriteString("\n")
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", "/")
}
