package translate

import (
	"net/http"

	"github.com/botmesh/model-gateway/models"
)

// StatusOverloaded is the Anthropic dialect's overloaded status code. The
// OpenAI dialect has no equivalent, so the mapping collapses it to 503.
const StatusOverloaded = 529

// MapToAnthropicError maps an upstream HTTP status and message onto the
// Anthropic error envelope and the status code to return to the client.
// Upstream 502 and 503 are reported as 529 overloaded_error so clients see
// a uniform capacity signal; statuses outside 400..599 collapse to 500.
func MapToAnthropicError(status int, message string) (int, *models.AnthropicErrorResponse) {
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}
	if status == http.StatusBadGateway || status == http.StatusServiceUnavailable {
		status = StatusOverloaded
	}

	var errType string
	switch status {
	case http.StatusBadRequest:
		errType = models.AnthropicErrInvalidRequest
	case http.StatusUnauthorized:
		errType = models.AnthropicErrAuthentication
	case http.StatusForbidden:
		errType = models.AnthropicErrPermission
	case http.StatusNotFound:
		errType = models.AnthropicErrNotFound
	case http.StatusTooManyRequests:
		errType = models.AnthropicErrRateLimit
	case StatusOverloaded:
		errType = models.AnthropicErrOverloaded
	default:
		errType = models.AnthropicErrAPI
	}

	return status, models.NewAnthropicErrorResponse(errType, message)
}

// MapToOpenAIError maps an upstream HTTP status and message onto the OpenAI
// error envelope and the status code to return to the client. An Anthropic
// 529 becomes 503; statuses outside 400..599 collapse to 500.
func MapToOpenAIError(status int, message string) (int, *models.OpenAIErrorResponse) {
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}
	if status == StatusOverloaded {
		status = http.StatusServiceUnavailable
	}

	var errType, code string
	switch status {
	case http.StatusBadRequest:
		errType, code = models.OpenAIErrInvalidRequest, "bad_request"
	case http.StatusUnauthorized:
		errType, code = models.OpenAIErrAuthentication, "unauthorized"
	case http.StatusForbidden:
		errType, code = models.OpenAIErrPermission, "forbidden"
	case http.StatusNotFound:
		errType, code = models.OpenAIErrNotFound, "not_found"
	case http.StatusTooManyRequests:
		errType, code = models.OpenAIErrRateLimit, "rate_limited"
	default:
		errType, code = models.OpenAIErrAPI, "upstream_error"
	}

	return status, models.NewOpenAIErrorResponse(errType, code, message)
}
