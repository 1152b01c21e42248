package models

import (
	"encoding/json"
	"fmt"
)

// Anthropic Messages dialect. Field names and nesting are a compatibility
// contract with client SDKs written against that vendor's API.

const (
	AnthropicRoleUser      = "user"
	AnthropicRoleAssistant = "assistant"

	AnthropicBlockText       = "text"
	AnthropicBlockToolUse    = "tool_use"
	AnthropicBlockToolResult = "tool_result"

	AnthropicStopEndTurn   = "end_turn"
	AnthropicStopMaxTokens = "max_tokens"
	AnthropicStopToolUse   = "tool_use"

	AnthropicToolChoiceAuto = "auto"
	AnthropicToolChoiceAny  = "any"
	AnthropicToolChoiceTool = "tool"

	// AnthropicMessageIDPrefix is the id convention for messages in this dialect
	AnthropicMessageIDPrefix = "msg_"
)

// AnthropicRequest is an inbound or upstream Messages request
type AnthropicRequest struct {
	Model         string               `json:"model" validate:"required"`
	MaxTokens     int                  `json:"max_tokens" validate:"required,gt=0"`
	System        string               `json:"system,omitempty"`
	Messages      []AnthropicMessage   `json:"messages" validate:"required,min=1"`
	Tools         []AnthropicTool      `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice `json:"tool_choice,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopP          *float64             `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	Metadata      *AnthropicMetadata   `json:"metadata,omitempty"`
}

// AnthropicMetadata carries the caller-supplied request metadata
type AnthropicMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

// AnthropicMessage is one conversation turn. Content is either a bare JSON
// string or an array of content blocks; the raw form is kept so both shapes
// survive a round trip unchanged.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// NewAnthropicTextMessage builds a turn whose content is a bare string
func NewAnthropicTextMessage(role, text string) AnthropicMessage {
	raw, _ := json.Marshal(text)
	return AnthropicMessage{Role: role, Content: raw}
}

// NewAnthropicBlocksMessage builds a turn whose content is a block array
func NewAnthropicBlocksMessage(role string, blocks []AnthropicContentBlock) AnthropicMessage {
	raw, _ := json.Marshal(blocks)
	return AnthropicMessage{Role: role, Content: raw}
}

// Text returns the content when it is a bare string, and "" otherwise
func (m AnthropicMessage) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return ""
	}
	return s
}

// Blocks returns the content as a block list. A bare string is lifted into
// a single text block so callers can treat both shapes uniformly.
func (m AnthropicMessage) Blocks() ([]AnthropicContentBlock, error) {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return []AnthropicContentBlock{{Type: AnthropicBlockText, Text: s}}, nil
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("invalid message content: %w", err)
	}
	return blocks, nil
}

// AnthropicContentBlock is the union of text, tool_use, and tool_result
// blocks. Unused fields stay at their zero values for a given Type.
type AnthropicContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ResultText returns a tool_result block's payload as plain text. Structured
// payloads are returned as their JSON encoding.
func (b AnthropicContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	return string(b.Content)
}

// AnthropicTool is a tool definition offered to the model
type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// AnthropicToolChoice selects the tool invocation policy
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// AnthropicResponse is a completed Messages response
type AnthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Content      []AnthropicContentBlock `json:"content"`
	Model        string                  `json:"model"`
	StopReason   string                  `json:"stop_reason,omitempty"`
	StopSequence *string                 `json:"stop_sequence,omitempty"`
	Usage        AnthropicUsage          `json:"usage"`
}

// AnthropicUsage carries the dialect's token counters
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicErrorResponse is the dialect's error envelope
type AnthropicErrorResponse struct {
	Type  string         `json:"type"`
	Error AnthropicError `json:"error"`
}

// AnthropicError is the inner error object
type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Anthropic error types, keyed by HTTP status in the translator
const (
	AnthropicErrInvalidRequest = "invalid_request_error"
	AnthropicErrAuthentication = "authentication_error"
	AnthropicErrPermission     = "permission_error"
	AnthropicErrNotFound       = "not_found_error"
	AnthropicErrRateLimit      = "rate_limit_error"
	AnthropicErrOverloaded     = "overloaded_error"
	AnthropicErrAPI            = "api_error"
)

// NewAnthropicErrorResponse builds the standard error envelope
func NewAnthropicErrorResponse(errType, message string) *AnthropicErrorResponse {
	return &AnthropicErrorResponse{
		Type:  "error",
		Error: AnthropicError{Type: errType, Message: message},
	}
}
