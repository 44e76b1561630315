package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// PipelineStage is one of the coarse phases a run passes through. Values are
// ordered; a run never moves to a lower stage.
type PipelineStage int

const (
	StageNone PipelineStage = iota
	StageVision
	StageSearch
	StageFusion
	StageBrain
	StagePresentation
)

var stageNames = [...]string{"", "vision", "search", "fusion", "brain", "presentation"}

func (s PipelineStage) String() string {
	if s < StageNone || int(s) >= len(stageNames) {
		return "unknown"
	}
	if s == StageNone {
		return "none"
	}
	return stageNames[s]
}

// ParseStage returns the stage for one of the five canonical names.
func ParseStage(name string) (PipelineStage, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := StageVision; i <= StagePresentation; i++ {
		if stageNames[i] == name {
			return i, true
		}
	}
	return StageNone, false
}

// MarshalText implements encoding.TextMarshaler.
func (s PipelineStage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PipelineStage) UnmarshalText(b []byte) error {
	if len(b) == 0 || string(b) == "none" {
		*s = StageNone
		return nil
	}
	st, ok := ParseStage(string(b))
	if !ok {
		return eris.Errorf("model: unknown pipeline stage %q", string(b))
	}
	*s = st
	return nil
}

// EventTypePipeline is the type tag of coarse progress frames.
const EventTypePipeline = "pipeline_event"

// PipelineEvent is a progress event emitted by the orchestrator.
type PipelineEvent struct {
	Type    string         `json:"type"`
	Stage   PipelineStage  `json:"stage"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// NewPipelineEvent builds a pipeline_event for the given stage.
func NewPipelineEvent(stage PipelineStage, status string, details map[string]any) PipelineEvent {
	return PipelineEvent{
		Type:    EventTypePipeline,
		Stage:   stage,
		Status:  status,
		Details: details,
	}
}
