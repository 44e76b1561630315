package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/examprep/examprep-cli/internal/model"
)

func TestRenderReport(t *testing.T) {
	a := sampleAssembly()
	a.units[0].Fallback = true
	a.units[0].StudyPlan = model.MicroPlan{Hours: 2, Steps: []string{"Work problems"}}
	res := assemble(a)

	out := RenderReport(res)
	assert.Contains(t, out, "# MA3151 Matrices and Calculus")
	assert.Contains(t, out, "Regulation: R2021")
	assert.Contains(t, out, "Status: **PARTIAL** (2 of 2 units)")
	assert.Contains(t, out, "| 2 | Calculus | 100% | FALLBACK |")
	assert.Contains(t, out, "## Unit 1: Matrices")
	assert.Contains(t, out, "_Generated from the syllabus topics")
	assert.Contains(t, out, "1. l (13 marks)")
	assert.Contains(t, out, "### Plan (2.0 h)")
	assert.Contains(t, out, "## Study Plan (standard")
}

func TestRenderReport_Empty(t *testing.T) {
	out := RenderReport(&model.AnalysisResult{})
	assert.Contains(t, out, "# Study Report")
	assert.Contains(t, out, "No units were produced.")
}
