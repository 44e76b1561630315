package gateway

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// CleanJSON strips markdown code fences and surrounding prose from model
// output and returns the first JSON object or array in it.
func CleanJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	if json.Valid([]byte(s)) && (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) {
		return json.RawMessage(s), nil
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, eris.New("gateway: no JSON in model output")
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return nil, eris.New("gateway: unterminated JSON in model output")
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, eris.New("gateway: malformed JSON in model output")
	}
	return json.RawMessage(candidate), nil
}
