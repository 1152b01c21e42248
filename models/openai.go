package models

import (
	"encoding/json"
	"fmt"
)

// OpenAI Chat Completions dialect. Also the gateway's canonical internal
// form for text generation: the translator converts the other dialect onto
// these shapes at the edges.

const (
	OpenAIRoleSystem    = "system"
	OpenAIRoleUser      = "user"
	OpenAIRoleAssistant = "assistant"
	OpenAIRoleTool      = "tool"

	OpenAIFinishStop      = "stop"
	OpenAIFinishLength    = "length"
	OpenAIFinishToolCalls = "tool_calls"

	OpenAIToolChoiceAuto     = "auto"
	OpenAIToolChoiceNone     = "none"
	OpenAIToolChoiceRequired = "required"
	// OpenAIToolChoiceFunction marks a forced named function call
	OpenAIToolChoiceFunction = "function"

	// OpenAICompletionIDPrefix is the id convention for completions in this dialect
	OpenAICompletionIDPrefix = "chatcmpl-"
)

// OpenAIChatRequest is an inbound or upstream chat completion request
type OpenAIChatRequest struct {
	Model       string            `json:"model" validate:"required"`
	Messages    []OpenAIMessage   `json:"messages" validate:"required,min=1"`
	Temperature *float64          `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64          `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxTokens   *int              `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Stop        []string          `json:"stop,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	User        string            `json:"user,omitempty"`
	Tools       []OpenAITool      `json:"tools,omitempty"`
	ToolChoice  *OpenAIToolChoice `json:"tool_choice,omitempty"`
}

// OpenAIMessage is one chat message. Assistant messages may carry tool
// calls; tool messages carry the id of the call they answer.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAIToolCall is a tool invocation emitted by the model
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries the function name and JSON-encoded arguments
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAITool is a tool definition offered to the model
type OpenAITool struct {
	Type     string            `json:"type"`
	Function OpenAIFunctionDef `json:"function"`
}

// OpenAIFunctionDef describes one callable function
type OpenAIFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAIToolChoice is the wire union of the strings "auto"/"none"/"required"
// and the forced-function object form. Mode holds the string variant or
// "function" together with Name for the object variant.
type OpenAIToolChoice struct {
	Mode string
	Name string
}

// MarshalJSON emits the string form for plain modes and the object form
// for a forced function.
func (c OpenAIToolChoice) MarshalJSON() ([]byte, error) {
	if c.Mode == OpenAIToolChoiceFunction {
		return json.Marshal(map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": c.Name},
		})
	}
	return json.Marshal(c.Mode)
}

// UnmarshalJSON accepts both wire forms
func (c *OpenAIToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Mode = s
		c.Name = ""
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid tool_choice: %w", err)
	}
	c.Mode = OpenAIToolChoiceFunction
	c.Name = obj.Function.Name
	return nil
}

// OpenAIChatResponse is a completed chat completion response
type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

// OpenAIChoice is one completion alternative
type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage carries the dialect's token counters
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIStreamChunk is one SSE chunk of a streamed completion
type OpenAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
}

// OpenAIStreamChoice is one choice delta within a stream chunk
type OpenAIStreamChoice struct {
	Index        int         `json:"index"`
	Delta        OpenAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason,omitempty"`
}

// OpenAIDelta is the incremental message fragment in a stream chunk. A
// buffered replay carries complete tool calls in a single delta.
type OpenAIDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAIErrorResponse is the dialect's error envelope
type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

// OpenAIError is the inner error object
type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// OpenAI-side error types used by the translator's status mapping
const (
	OpenAIErrInvalidRequest = "invalid_request_error"
	OpenAIErrAuthentication = "authentication_error"
	OpenAIErrPermission     = "permission_error"
	OpenAIErrNotFound       = "not_found_error"
	OpenAIErrRateLimit      = "rate_limit_error"
	OpenAIErrAPI            = "api_error"
)

// NewOpenAIErrorResponse builds the standard error envelope
func NewOpenAIErrorResponse(errType, code, message string) *OpenAIErrorResponse {
	return &OpenAIErrorResponse{
		Error: OpenAIError{Message: message, Type: errType, Code: code},
	}
}

// OpenAIEmbeddingsRequest is an embeddings request in the OpenAI dialect
type OpenAIEmbeddingsRequest struct {
	Model string   `json:"model" validate:"required"`
	Input []string `json:"input" validate:"required,min=1"`
	User  string   `json:"user,omitempty"`
}

// OpenAIEmbeddingsResponse is an embeddings response in the OpenAI dialect
type OpenAIEmbeddingsResponse struct {
	Object string            `json:"object"`
	Data   []OpenAIEmbedding `json:"data"`
	Model  string            `json:"model"`
	Usage  OpenAIUsage       `json:"usage"`
}

// OpenAIEmbedding is one embedding vector
type OpenAIEmbedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}
