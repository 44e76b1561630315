package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/examprep/examprep-cli/internal/model"
)

// Event is one decoded frame. A frame may carry any combination of a stage,
// a status string and a text delta.
type Event struct {
	Stage   model.PipelineStage
	Status  string
	Delta   string
	Details map[string]any

	// Done marks the [DONE] sentinel.
	Done bool
	// Err is set for error frames.
	Err *FrameError
	// Malformed marks a fragment that never became valid JSON. Raw holds it.
	Malformed bool
	Raw       string
}

// FrameError is the failure reported by an error frame.
type FrameError struct {
	Category string
	Message  string
	Detail   string
}

func (e *FrameError) Error() string {
	if e.Message != "" {
		return "stream: " + e.Category + ": " + e.Message
	}
	return "stream: " + e.Category + ": " + e.Detail
}

type wireFrame struct {
	Type     string         `json:"type"`
	Stage    string         `json:"stage"`
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Content  *string        `json:"content"`
	Details  map[string]any `json:"details"`
	Error    string         `json:"error"`
	Category string         `json:"category"`
	Choices  []DeltaChoice  `json:"choices"`
}

// Decoder turns arbitrary byte chunks into events. Only complete
// "\n"-terminated lines are processed, so the events produced do not depend
// on how the stream was split into chunks.
type Decoder struct {
	buf     []byte
	pending *string
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk and returns the events completed by it.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)
	var out []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(d.buf[:i]), "\r")
		d.buf = d.buf[i+1:]
		out = d.line(line, out)
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Flush ends the stream. An unterminated trailing line or an incomplete
// pending payload is reported as a malformed event.
func (d *Decoder) Flush() []Event {
	var out []Event
	if d.pending != nil {
		out = append(out, Event{Malformed: true, Raw: *d.pending})
		d.pending = nil
	}
	if len(bytes.TrimSpace(d.buf)) > 0 {
		out = append(out, Event{Malformed: true, Raw: string(d.buf)})
	}
	d.buf = nil
	return out
}

func (d *Decoder) line(line string, out []Event) []Event {
	switch {
	case strings.HasPrefix(line, "data:"):
		if d.pending != nil {
			out = append(out, Event{Malformed: true, Raw: *d.pending})
			d.pending = nil
		}
		payload := strings.TrimPrefix(line, "data:")
		payload = strings.TrimPrefix(payload, " ")
		return d.payload(payload, out)
	case strings.HasPrefix(line, ":"):
		return out
	case d.pending != nil:
		joined := *d.pending + "\n" + line
		d.pending = nil
		return d.payload(joined, out)
	default:
		// event:, id:, retry: and blank separators carry nothing we use.
		return out
	}
}

func (d *Decoder) payload(payload string, out []Event) []Event {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return out
	}
	if trimmed == DoneSentinel {
		return append(out, Event{Done: true})
	}
	if !json.Valid([]byte(trimmed)) {
		d.pending = &payload
		return out
	}
	ev, ok := decodeFrame(trimmed)
	if !ok {
		return append(out, Event{Malformed: true, Raw: trimmed})
	}
	return append(out, ev)
}

func decodeFrame(payload string) (Event, bool) {
	var text string
	if err := json.Unmarshal([]byte(payload), &text); err == nil {
		return Event{Delta: text}, true
	}

	var f wireFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return Event{}, false
	}

	if f.Type == EventTypeError {
		return Event{Err: &FrameError{Category: f.Category, Message: f.Message, Detail: f.Error}}, true
	}

	ev := Event{Status: f.Status, Details: f.Details}
	if ev.Status == "" {
		ev.Status = f.Message
	}
	if f.Stage != "" {
		if st, ok := MapStage(f.Stage); ok {
			ev.Stage = st
		}
	}
	if len(f.Choices) > 0 {
		ev.Delta = f.Choices[0].Delta.Content
	}
	if f.Content != nil {
		ev.Delta += *f.Content
	}
	return ev, true
}

var stageAliases = map[string]model.PipelineStage{
	"upload":        model.StageVision,
	"ocr":           model.StageVision,
	"image":         model.StageVision,
	"extract":       model.StageVision,
	"extracting":    model.StageVision,
	"syllabus":      model.StageVision,
	"outline":       model.StageVision,
	"research":      model.StageSearch,
	"web_search":    model.StageSearch,
	"searching":     model.StageSearch,
	"context":       model.StageSearch,
	"merge":         model.StageFusion,
	"prepare":       model.StageFusion,
	"planning":      model.StageFusion,
	"budget":        model.StageFusion,
	"generate":      model.StageBrain,
	"generating":    model.StageBrain,
	"generation":    model.StageBrain,
	"analysis":      model.StageBrain,
	"analyzing":     model.StageBrain,
	"questions":     model.StageBrain,
	"fallback":      model.StageBrain,
	"assemble":      model.StagePresentation,
	"assembly":      model.StagePresentation,
	"validate":      model.StagePresentation,
	"validation":    model.StagePresentation,
	"render":        model.StagePresentation,
	"report":        model.StagePresentation,
	"done":          model.StagePresentation,
	"complete":      model.StagePresentation,
	"finalizing":    model.StagePresentation,
	"presenting":    model.StagePresentation,
	"vision_start":  model.StageVision,
	"search_start":  model.StageSearch,
	"brain_start":   model.StageBrain,
	"fusion_start":  model.StageFusion,
	"present_start": model.StagePresentation,
}

// MapStage maps a low-level stage name onto one of the five coarse stages.
// Names like "unit_3" map to brain.
func MapStage(name string) (model.PipelineStage, bool) {
	if st, ok := model.ParseStage(name); ok {
		return st, true
	}
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	if st, ok := stageAliases[key]; ok {
		return st, true
	}
	if strings.HasPrefix(key, "unit") {
		return model.StageBrain, true
	}
	return model.StageNone, false
}
