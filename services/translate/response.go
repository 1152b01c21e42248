package translate

import (
	"strings"

	"github.com/botmesh/model-gateway/models"
)

// OpenAIResponseToAnthropic converts a completed Chat Completions response
// into the Anthropic Messages form. Only the first choice is carried over:
// its content becomes a text block and each tool call becomes a tool_use
// block with parsed arguments, substituting an empty object when the
// argument string does not parse.
func OpenAIResponseToAnthropic(resp *models.OpenAIChatResponse) *models.AnthropicResponse {
	out := &models.AnthropicResponse{
		ID:    EnsureMessageID(resp.ID),
		Type:  "message",
		Role:  models.AnthropicRoleAssistant,
		Model: resp.Model,
		Usage: models.AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		out.Content = append(out.Content, models.AnthropicContentBlock{
			Type: models.AnthropicBlockText,
			Text: choice.Message.Content,
		})
	}
	for _, call := range choice.Message.ToolCalls {
		out.Content = append(out.Content, models.AnthropicContentBlock{
			Type:  models.AnthropicBlockToolUse,
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: parseArgs(call.Function.Arguments),
		})
	}

	switch choice.FinishReason {
	case models.OpenAIFinishStop:
		out.StopReason = models.AnthropicStopEndTurn
	case models.OpenAIFinishLength:
		out.StopReason = models.AnthropicStopMaxTokens
	case models.OpenAIFinishToolCalls:
		out.StopReason = models.AnthropicStopToolUse
	}

	return out
}

// AnthropicResponseToOpenAI converts a completed Messages response into the
// Chat Completions form, the mirror of OpenAIResponseToAnthropic. The Created
// timestamp is left zero so the function stays pure; callers stamp it at the
// edge.
func AnthropicResponseToOpenAI(resp *models.AnthropicResponse) *models.OpenAIChatResponse {
	message := models.OpenAIMessage{Role: models.OpenAIRoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case models.AnthropicBlockText:
			text.WriteString(block.Text)
		case models.AnthropicBlockToolUse:
			message.ToolCalls = append(message.ToolCalls, models.OpenAIToolCall{
				ID:   block.ID,
				Type: "function",
				Function: models.OpenAIFunctionCall{
					Name:      block.Name,
					Arguments: stringifyArgs(block.Input),
				},
			})
		}
	}
	message.Content = text.String()

	var finishReason string
	switch resp.StopReason {
	case models.AnthropicStopEndTurn:
		finishReason = models.OpenAIFinishStop
	case models.AnthropicStopMaxTokens:
		finishReason = models.OpenAIFinishLength
	case models.AnthropicStopToolUse:
		finishReason = models.OpenAIFinishToolCalls
	default:
		finishReason = resp.StopReason
	}

	return &models.OpenAIChatResponse{
		ID:     EnsureCompletionID(resp.ID),
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []models.OpenAIChoice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
		Usage: models.OpenAIUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// EnsureMessageID applies the Anthropic id prefix convention. Empty ids are
// returned as-is; callers mint one at the edge.
func EnsureMessageID(id string) string {
	if id == "" || strings.HasPrefix(id, models.AnthropicMessageIDPrefix) {
		return id
	}
	return models.AnthropicMessageIDPrefix + id
}

// EnsureCompletionID applies the OpenAI id prefix convention. Empty ids are
// returned as-is; callers mint one at the edge.
func EnsureCompletionID(id string) string {
	if id == "" || strings.HasPrefix(id, models.OpenAICompletionIDPrefix) {
		return id
	}
	return models.OpenAICompletionIDPrefix + id
}
