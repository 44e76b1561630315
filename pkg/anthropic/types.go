// Package anthropic wraps the official SDK behind a small interface covering
// what syllabus analysis needs: one-shot messages with optional images and
// streamed text generation.
package anthropic

import (
	"context"
	"strings"
)

// Client is the subset of the Messages API used by the gateway.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
	// StreamMessage calls onDelta for each text fragment. A non-nil error from
	// onDelta stops the stream and is returned wrapped. The response carries
	// the full text and final usage.
	StreamMessage(ctx context.Context, req MessageRequest, onDelta func(text string) error) (*MessageResponse, error)
}

// MessageRequest is a single Messages API call.
type MessageRequest struct {
	Model     string
	MaxTokens int64
	System    []SystemBlock
	Messages  []Message
}

// SystemBlock is one system prompt block.
type SystemBlock struct {
	Text string
	// CacheTTL marks the block as a prompt-cache breakpoint ("5m" or "1h").
	// Empty means uncached.
	CacheTTL string
}

// CachedSystem returns text as a single cached system block. Every unit of a
// run shares the same system prompt, so only the first call pays for it.
func CachedSystem(text, ttl string) []SystemBlock {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []SystemBlock{{Text: text, CacheTTL: ttl}}
}

// Message is one conversation turn. Images precede the text in the content.
type Message struct {
	Role    string
	Content string
	Images  []Image
}

// Image is an inline image attachment such as a syllabus photo.
type Image struct {
	MediaType string
	Data      []byte
}

// MessageResponse is the result of a call.
type MessageResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason string
	Usage      TokenUsage
}

// ContentBlock is one block of response content.
type ContentBlock struct {
	Type string
	Text string
}

// Text concatenates the text blocks of the response.
func (r *MessageResponse) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// Truncated reports whether generation stopped at the token limit.
func (r *MessageResponse) Truncated() bool {
	return r.StopReason == "max_tokens"
}

// TokenUsage is the token accounting of a call.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}
