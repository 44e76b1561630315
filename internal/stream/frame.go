// Package stream encodes and decodes the server-sent event stream that
// carries pipeline progress and generated text, and tracks the coarse stage
// a consumer has observed.
package stream

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DoneSentinel terminates a stream.
const DoneSentinel = "[DONE]"

// DeltaFrame is the provider-style incremental text frame.
type DeltaFrame struct {
	Choices []DeltaChoice `json:"choices"`
}

// DeltaChoice is one choice of a DeltaFrame.
type DeltaChoice struct {
	Delta Delta `json:"delta"`
}

// Delta holds the text fragment.
type Delta struct {
	Content string `json:"content"`
}

// ErrorFrame reports a failure inside an already-open stream.
type ErrorFrame struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// EventTypeError is the type tag of ErrorFrame.
const EventTypeError = "error"

// WriteData writes v as a single "data: <json>\n\n" frame.
func WriteData(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "stream: encode frame")
	}
	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	_, err = w.Write(buf)
	return err
}

// WriteDelta writes a text fragment as a DeltaFrame.
func WriteDelta(w io.Writer, text string) error {
	return WriteData(w, DeltaFrame{Choices: []DeltaChoice{{Delta: Delta{Content: text}}}})
}

// WriteDone writes the terminating sentinel frame.
func WriteDone(w io.Writer) error {
	_, err := io.WriteString(w, "data: "+DoneSentinel+"\n\n")
	return err
}
