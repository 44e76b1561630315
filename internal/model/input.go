package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ImageInput is an uploaded syllabus photo.
type ImageInput struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
}

// SourceInput is what a run analyzes: an image or a plain topic.
type SourceInput struct {
	Image *ImageInput `json:"image,omitempty"`
	Topic string      `json:"topic,omitempty"`
}

// Validate ensures exactly one of image or topic is set.
func (s SourceInput) Validate() error {
	hasImage := s.Image != nil && len(s.Image.Data) > 0
	hasTopic := strings.TrimSpace(s.Topic) != ""
	switch {
	case hasImage && hasTopic:
		return eris.New("input: provide either an image or a topic, not both")
	case !hasImage && !hasTopic:
		return eris.New("input: an image or a topic is required")
	}
	return nil
}

// RunMetadata is the caller-supplied context of a run.
type RunMetadata struct {
	SubjectHint string `json:"subject_hint,omitempty"`
	Department  string `json:"department,omitempty"`
	StudyGoal   string `json:"study_goal,omitempty"`
	Panic       bool   `json:"panic,omitempty"`
}
