package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
)

func (c *sdkClient) StreamMessage(ctx context.Context, req MessageRequest, onDelta func(text string) error) (*MessageResponse, error) {
	stream := c.client.Messages.NewStreaming(ctx, req.params())
	defer stream.Close() //nolint:errcheck

	resp := &MessageResponse{Model: req.Model}
	var text strings.Builder

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.MessageStartEvent:
			resp.ID = ev.Message.ID
			resp.Model = string(ev.Message.Model)
			resp.Usage.InputTokens = ev.Message.Usage.InputTokens
			resp.Usage.CacheCreationInputTokens = ev.Message.Usage.CacheCreationInputTokens
			resp.Usage.CacheReadInputTokens = ev.Message.Usage.CacheReadInputTokens
		case sdk.ContentBlockDeltaEvent:
			delta, ok := ev.Delta.AsAny().(sdk.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			text.WriteString(delta.Text)
			if onDelta != nil {
				if err := onDelta(delta.Text); err != nil {
					return nil, eris.Wrap(err, "anthropic: stream consumer")
				}
			}
		case sdk.MessageDeltaEvent:
			resp.StopReason = string(ev.Delta.StopReason)
			// message_delta usage is cumulative.
			resp.Usage.OutputTokens = ev.Usage.OutputTokens
			if ev.Usage.InputTokens > 0 {
				resp.Usage.InputTokens = ev.Usage.InputTokens
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, eris.Wrap(err, "anthropic: stream message")
	}

	resp.Content = []ContentBlock{{Type: "text", Text: text.String()}}
	return resp, nil
}
