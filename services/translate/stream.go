package translate

import (
	"encoding/json"

	"github.com/botmesh/model-gateway/models"
)

// StreamEvent is one server-sent event in the Anthropic streaming dialect
type StreamEvent struct {
	Event string
	Data  json.RawMessage
}

// Anthropic stream event names, emitted in this order for a replayed message
const (
	StreamMessageStart      = "message_start"
	StreamContentBlockStart = "content_block_start"
	StreamContentBlockDelta = "content_block_delta"
	StreamContentBlockStop  = "content_block_stop"
	StreamMessageDelta      = "message_delta"
	StreamMessageStop       = "message_stop"
)

// AnthropicStreamEvents replays a buffered response as the Anthropic
// streaming event sequence: message_start, one start/delta/stop triple per
// content block, message_delta with the stop reason and output tokens, then
// message_stop. Text blocks stream as a single text_delta and tool_use
// inputs as a single input_json_delta, which a conforming client assembles
// back into the original message.
func AnthropicStreamEvents(resp *models.AnthropicResponse) []StreamEvent {
	events := make([]StreamEvent, 0, 3+3*len(resp.Content))

	startCopy := *resp
	startCopy.Content = []models.AnthropicContentBlock{}
	startCopy.StopReason = ""
	startCopy.Usage = models.AnthropicUsage{InputTokens: resp.Usage.InputTokens}
	events = append(events, StreamEvent{
		Event: StreamMessageStart,
		Data: mustMarshal(map[string]any{
			"type":    StreamMessageStart,
			"message": startCopy,
		}),
	})

	for i, block := range resp.Content {
		switch block.Type {
		case models.AnthropicBlockText:
			events = append(events, StreamEvent{
				Event: StreamContentBlockStart,
				Data: mustMarshal(map[string]any{
					"type":          StreamContentBlockStart,
					"index":         i,
					"content_block": map[string]any{"type": models.AnthropicBlockText, "text": ""},
				}),
			})
			events = append(events, StreamEvent{
				Event: StreamContentBlockDelta,
				Data: mustMarshal(map[string]any{
					"type":  StreamContentBlockDelta,
					"index": i,
					"delta": map[string]any{"type": "text_delta", "text": block.Text},
				}),
			})
		case models.AnthropicBlockToolUse:
			events = append(events, StreamEvent{
				Event: StreamContentBlockStart,
				Data: mustMarshal(map[string]any{
					"type":  StreamContentBlockStart,
					"index": i,
					"content_block": map[string]any{
						"type":  models.AnthropicBlockToolUse,
						"id":    block.ID,
						"name":  block.Name,
						"input": map[string]any{},
					},
				}),
			})
			events = append(events, StreamEvent{
				Event: StreamContentBlockDelta,
				Data: mustMarshal(map[string]any{
					"type":  StreamContentBlockDelta,
					"index": i,
					"delta": map[string]any{"type": "input_json_delta", "partial_json": stringifyArgs(block.Input)},
				}),
			})
		default:
			continue
		}
		events = append(events, StreamEvent{
			Event: StreamContentBlockStop,
			Data: mustMarshal(map[string]any{
				"type":  StreamContentBlockStop,
				"index": i,
			}),
		})
	}

	events = append(events, StreamEvent{
		Event: StreamMessageDelta,
		Data: mustMarshal(map[string]any{
			"type": StreamMessageDelta,
			"delta": map[string]any{
				"stop_reason":   resp.StopReason,
				"stop_sequence": resp.StopSequence,
			},
			"usage": map[string]any{"output_tokens": resp.Usage.OutputTokens},
		}),
	})
	events = append(events, StreamEvent{
		Event: StreamMessageStop,
		Data:  mustMarshal(map[string]any{"type": StreamMessageStop}),
	})

	return events
}

// OpenAIStreamChunks replays a buffered completion as the OpenAI chunk
// sequence: a role chunk, a delta with the full content and any tool calls,
// then a terminal chunk carrying the finish reason. Callers append the
// [DONE] marker themselves.
func OpenAIStreamChunks(resp *models.OpenAIChatResponse) []models.OpenAIStreamChunk {
	chunks := make([]models.OpenAIStreamChunk, 0, 3*len(resp.Choices))

	for _, choice := range resp.Choices {
		chunks = append(chunks, replayChunk(resp, models.OpenAIStreamChoice{
			Index: choice.Index,
			Delta: models.OpenAIDelta{Role: models.OpenAIRoleAssistant},
		}))

		if choice.Message.Content != "" || len(choice.Message.ToolCalls) > 0 {
			chunks = append(chunks, replayChunk(resp, models.OpenAIStreamChoice{
				Index: choice.Index,
				Delta: models.OpenAIDelta{
					Content:   choice.Message.Content,
					ToolCalls: choice.Message.ToolCalls,
				},
			}))
		}

		finish := choice.FinishReason
		chunks = append(chunks, replayChunk(resp, models.OpenAIStreamChoice{
			Index:        choice.Index,
			FinishReason: &finish,
		}))
	}

	return chunks
}

func replayChunk(resp *models.OpenAIChatResponse, choice models.OpenAIStreamChoice) models.OpenAIStreamChunk {
	return models.OpenAIStreamChunk{
		ID:      resp.ID,
		Object:  "chat.completion.chunk",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: []models.OpenAIStreamChoice{choice},
	}
}

func mustMarshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
