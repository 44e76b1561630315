package model

import (
	"sort"
	"strings"
	"time"
)

// Frequency tags how often a topic recurs in past exams.
type Frequency string

const (
	FrequencyHigh   Frequency = "HIGH"
	FrequencyMedium Frequency = "MEDIUM"
	FrequencyLow    Frequency = "LOW"
)

// ParseFrequency normalizes model output such as "high", "Very High" or "med".
func ParseFrequency(s string) Frequency {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "HIGH"):
		return FrequencyHigh
	case strings.HasPrefix(s, "MED"):
		return FrequencyMedium
	default:
		return FrequencyLow
	}
}

// Weight returns the hit-ratio weight of the frequency tag.
func (f Frequency) Weight() int {
	switch f {
	case FrequencyHigh:
		return 3
	case FrequencyMedium:
		return 2
	default:
		return 1
	}
}

// Question is one generated exam question with its model answer.
type Question struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Marks      int    `json:"marks"`
	BloomLevel string `json:"bloom_level,omitempty"`
	Outcome    string `json:"course_outcome,omitempty"`
}

// KeywordImportance pairs a topic with its exam frequency.
type KeywordImportance struct {
	Topic     string    `json:"topic"`
	Frequency Frequency `json:"frequency"`
}

// MicroPlan is the per-unit study plan.
type MicroPlan struct {
	Hours float64  `json:"hours"`
	Steps []string `json:"steps"`
}

// UnitAnalysis is the generated study content for one unit. It is either a
// complete generated object or a complete fallback object.
type UnitAnalysis struct {
	UnitNumber   int                 `json:"unit_number"`
	Title        string              `json:"title,omitempty"`
	ShortAnswers []Question          `json:"short_answer_questions"`
	LongAnswers  []Question          `json:"long_answer_questions"`
	Keywords     []KeywordImportance `json:"keyword_importance"`
	StudyPlan    MicroPlan           `json:"micro_plan"`
	Fallback     bool                `json:"fallback,omitempty"`
	Adapter      string              `json:"adapter,omitempty"`
}

// ProcessingStatus classifies a finished run.
type ProcessingStatus string

const (
	StatusComplete ProcessingStatus = "COMPLETE"
	StatusPartial  ProcessingStatus = "PARTIAL"
	StatusFailed   ProcessingStatus = "FAILED"
)

// ResultMetadata is the metadata block of an AnalysisResult.
type ResultMetadata struct {
	SubjectCode        string           `json:"subject_code"`
	SubjectName        string           `json:"subject_name"`
	Department         string           `json:"department,omitempty"`
	Regulation         Regulation       `json:"regulation"`
	Semester           int              `json:"semester,omitempty"`
	TotalUnits         int              `json:"total_units"`
	ProducedUnits      int              `json:"produced_units"`
	FallbackUnits      []int            `json:"fallback_units,omitempty"`
	UnitCountMismatch  bool             `json:"unit_count_mismatch,omitempty"`
	ProcessingStatus   ProcessingStatus `json:"processing_status"`
	CheckpointID       string           `json:"checkpoint_id,omitempty"`
	SearchContextChars int              `json:"search_context_chars"`
	Citations          []string         `json:"citations,omitempty"`
	StudyGoal          string           `json:"study_goal,omitempty"`
	Panic              bool             `json:"panic,omitempty"`
	TokenUsage         TokenUsage       `json:"token_usage"`
	EstimatedCostUSD   float64          `json:"estimated_cost_usd"`
	Timestamp          time.Time        `json:"timestamp"`
}

// HitRatioRow is one row of the hit-ratio table.
type HitRatioRow struct {
	UnitNumber int    `json:"unit_number"`
	Title      string `json:"title"`
	HitRatio   int    `json:"hit_ratio"`
	Confidence string `json:"confidence"`
}

// PlanSession is one unit's slot in the aggregate study plan.
type PlanSession struct {
	UnitNumber int      `json:"unit_number"`
	Title      string   `json:"title"`
	Hours      float64  `json:"hours"`
	Focus      []string `json:"focus"`
}

// AggregatePlan is the run-level study plan.
type AggregatePlan struct {
	Mode       string        `json:"mode"`
	TotalHours float64       `json:"total_hours"`
	Priorities []string      `json:"priorities"`
	Sessions   []PlanSession `json:"sessions"`
}

// AnalysisResult is the final assembled report.
type AnalysisResult struct {
	Metadata        ResultMetadata `json:"metadata"`
	Methodology     string         `json:"methodology"`
	HitRatios       []HitRatioRow  `json:"hit_ratio_table"`
	UnitPredictions []UnitAnalysis `json:"unit_predictions"`
	StudyPlan       AggregatePlan  `json:"study_plan"`
}

// SortUnits orders analyses ascending by unit number.
func SortUnits(units []UnitAnalysis) {
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].UnitNumber < units[j].UnitNumber
	})
}
