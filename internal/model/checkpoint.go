package model

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// CheckpointState is the durable progress record of one analysis run.
// CompletedUnits is kept sorted and only ever grows.
type CheckpointState struct {
	ID             string               `json:"id"`
	Subject        string               `json:"subject"`
	TotalUnits     int                  `json:"total_units"`
	CompletedUnits []int                `json:"completed_units"`
	Results        map[int]UnitAnalysis `json:"results"`
	Timestamp      time.Time            `json:"timestamp"`
}

// CheckpointSummary is a listing row for stored checkpoints.
type CheckpointSummary struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	TotalUnits int       `json:"total_units"`
	Completed  int       `json:"completed"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewCheckpointState returns an empty state for a run.
func NewCheckpointState(id, subject string, totalUnits int, now time.Time) *CheckpointState {
	return &CheckpointState{
		ID:             id,
		Subject:        subject,
		TotalUnits:     totalUnits,
		CompletedUnits: []int{},
		Results:        make(map[int]UnitAnalysis),
		Timestamp:      now,
	}
}

// IsCompleted reports whether the unit has been recorded.
func (c *CheckpointState) IsCompleted(unit int) bool {
	i := sort.SearchInts(c.CompletedUnits, unit)
	return i < len(c.CompletedUnits) && c.CompletedUnits[i] == unit
}

// Record adds the unit to the completed set and stores its result. Units
// outside [1, TotalUnits] are rejected. Recording a unit twice replaces the
// stored result but never removes the unit number.
func (c *CheckpointState) Record(unit int, result UnitAnalysis, now time.Time) error {
	if unit < 1 || unit > c.TotalUnits {
		return eris.Errorf("checkpoint: unit %d outside [1, %d]", unit, c.TotalUnits)
	}
	if c.Results == nil {
		c.Results = make(map[int]UnitAnalysis)
	}
	if !c.IsCompleted(unit) {
		c.CompletedUnits = append(c.CompletedUnits, unit)
		sort.Ints(c.CompletedUnits)
	}
	c.Results[unit] = result
	c.Timestamp = now
	return nil
}

// Summary returns the listing row for the state.
func (c *CheckpointState) Summary() CheckpointSummary {
	return CheckpointSummary{
		ID:         c.ID,
		Subject:    c.Subject,
		TotalUnits: c.TotalUnits,
		Completed:  len(c.CompletedUnits),
		Timestamp:  c.Timestamp,
	}
}
