// Package translate converts requests, responses, and error envelopes
// between the two client-facing wire dialects. Every function is pure:
// same input, same output, no I/O.
package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/botmesh/model-gateway/models"
)

// defaultMaxTokens is applied when the OpenAI dialect omits max_tokens,
// because the Anthropic dialect requires it.
const defaultMaxTokens = 4096

// emptyArgs substitutes for tool arguments that are missing or unparsable
const emptyArgs = "{}"

// AnthropicRequestToOpenAI converts an Anthropic Messages request into the
// OpenAI Chat Completions form. A top-level system prompt becomes a leading
// system message; tool_result blocks become tool-role messages keyed by the
// originating call id; assistant tool_use blocks become tool_calls with
// JSON-stringified arguments.
func AnthropicRequestToOpenAI(req *models.AnthropicRequest) (*models.OpenAIChatRequest, error) {
	out := &models.OpenAIChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		out.MaxTokens = &maxTokens
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}

	if req.System != "" {
		out.Messages = append(out.Messages, models.OpenAIMessage{
			Role:    models.OpenAIRoleSystem,
			Content: req.System,
		})
	}

	for i, msg := range req.Messages {
		blocks, err := msg.Blocks()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}

		switch msg.Role {
		case models.AnthropicRoleUser:
			var text strings.Builder
			for _, block := range blocks {
				switch block.Type {
				case models.AnthropicBlockToolResult:
					out.Messages = append(out.Messages, models.OpenAIMessage{
						Role:       models.OpenAIRoleTool,
						Content:    block.ResultText(),
						ToolCallID: block.ToolUseID,
					})
				case models.AnthropicBlockText:
					text.WriteString(block.Text)
				}
			}
			if text.Len() > 0 {
				out.Messages = append(out.Messages, models.OpenAIMessage{
					Role:    models.OpenAIRoleUser,
					Content: text.String(),
				})
			}

		case models.AnthropicRoleAssistant:
			assistant := models.OpenAIMessage{Role: models.OpenAIRoleAssistant}
			var text strings.Builder
			for _, block := range blocks {
				switch block.Type {
				case models.AnthropicBlockText:
					text.WriteString(block.Text)
				case models.AnthropicBlockToolUse:
					assistant.ToolCalls = append(assistant.ToolCalls, models.OpenAIToolCall{
						ID:   block.ID,
						Type: "function",
						Function: models.OpenAIFunctionCall{
							Name:      block.Name,
							Arguments: stringifyArgs(block.Input),
						},
					})
				}
			}
			assistant.Content = text.String()
			out.Messages = append(out.Messages, assistant)

		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, models.OpenAITool{
			Type: "function",
			Function: models.OpenAIFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case models.AnthropicToolChoiceAuto:
			out.ToolChoice = &models.OpenAIToolChoice{Mode: models.OpenAIToolChoiceAuto}
		case models.AnthropicToolChoiceAny:
			out.ToolChoice = &models.OpenAIToolChoice{Mode: models.OpenAIToolChoiceRequired}
		case models.AnthropicToolChoiceTool:
			out.ToolChoice = &models.OpenAIToolChoice{
				Mode: models.OpenAIToolChoiceFunction,
				Name: req.ToolChoice.Name,
			}
		}
	}

	return out, nil
}

// OpenAIRequestToAnthropic converts an OpenAI Chat Completions request into
// the Anthropic Messages form. System messages fold into the top-level
// system prompt; tool-role messages become user turns holding a tool_result
// block; assistant tool_calls become tool_use blocks.
func OpenAIRequestToAnthropic(req *models.OpenAIChatRequest) (*models.AnthropicRequest, error) {
	out := &models.AnthropicRequest{
		Model:         req.Model,
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.User != "" {
		out.Metadata = &models.AnthropicMetadata{UserID: req.User}
	}

	var systemParts []string
	for i, msg := range req.Messages {
		switch msg.Role {
		case models.OpenAIRoleSystem:
			systemParts = append(systemParts, msg.Content)

		case models.OpenAIRoleUser:
			out.Messages = append(out.Messages,
				models.NewAnthropicTextMessage(models.AnthropicRoleUser, msg.Content))

		case models.OpenAIRoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out.Messages = append(out.Messages,
					models.NewAnthropicTextMessage(models.AnthropicRoleAssistant, msg.Content))
				continue
			}
			var blocks []models.AnthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, models.AnthropicContentBlock{
					Type: models.AnthropicBlockText,
					Text: msg.Content,
				})
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, models.AnthropicContentBlock{
					Type:  models.AnthropicBlockToolUse,
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: parseArgs(call.Function.Arguments),
				})
			}
			out.Messages = append(out.Messages,
				models.NewAnthropicBlocksMessage(models.AnthropicRoleAssistant, blocks))

		case models.OpenAIRoleTool:
			content, _ := json.Marshal(msg.Content)
			out.Messages = append(out.Messages,
				models.NewAnthropicBlocksMessage(models.AnthropicRoleUser, []models.AnthropicContentBlock{{
					Type:      models.AnthropicBlockToolResult,
					ToolUseID: msg.ToolCallID,
					Content:   content,
				}}))

		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}
	out.System = strings.Join(systemParts, "\n\n")

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, models.AnthropicTool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}

	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case models.OpenAIToolChoiceAuto:
			out.ToolChoice = &models.AnthropicToolChoice{Type: models.AnthropicToolChoiceAuto}
		case models.OpenAIToolChoiceRequired:
			out.ToolChoice = &models.AnthropicToolChoice{Type: models.AnthropicToolChoiceAny}
		case models.OpenAIToolChoiceFunction:
			out.ToolChoice = &models.AnthropicToolChoice{
				Type: models.AnthropicToolChoiceTool,
				Name: req.ToolChoice.Name,
			}
		}
	}

	return out, nil
}

// stringifyArgs renders a tool_use input object as the argument string the
// OpenAI dialect expects
func stringifyArgs(input json.RawMessage) string {
	if len(input) == 0 {
		return emptyArgs
	}
	return string(input)
}

// parseArgs parses an argument string into a JSON object, substituting an
// empty object when the string is missing or unparsable
func parseArgs(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage(emptyArgs)
	}
	if !json.Valid([]byte(args)) {
		return json.RawMessage(emptyArgs)
	}
	return json.RawMessage(args)
}
