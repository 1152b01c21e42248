package adapters

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CostHeader is the response header carrying the provider's authoritative
// cost in USD for the request. When present it wins over any locally
// computed amount.
const CostHeader = "X-Request-Cost"

// maxErrorBody bounds how much of an upstream error body is read
const maxErrorBody = 4096

// Transport executes a single HTTP exchange. Adapters accept one so tests
// and callers can stub the wire; nil falls back to http.DefaultClient.
type Transport func(*http.Request) (*http.Response, error)

// RoundTrip runs the exchange through the configured function or the
// default client
func (t Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t == nil {
		return http.DefaultClient.Do(req)
	}
	return t(req)
}

// CostFromHeader parses the authoritative cost header. The second return
// is false when the header is absent or unparsable.
func CostFromHeader(h http.Header) (float64, bool) {
	raw := h.Get(CostHeader)
	if raw == "" {
		return 0, false
	}
	cost, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || cost < 0 {
		return 0, false
	}
	return cost, true
}

// ErrorFromResponse drains a non-2xx response into a ProviderError,
// extracting the upstream error message and any Retry-After backoff.
// The response body is consumed but not closed.
func ErrorFromResponse(provider string, resp *http.Response) *ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	perr := &ProviderError{
		Provider:   provider,
		HTTPStatus: resp.StatusCode,
		Message:    errorMessage(body, resp.StatusCode),
	}
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
		perr.RetryAfter = time.Duration(seconds) * time.Second
	}
	return perr
}

// errorMessage pulls a human-readable message out of the common provider
// error envelopes, falling back to the raw body or the status text
func errorMessage(body []byte, status int) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		var detail string
		if len(envelope.Detail) > 0 && json.Unmarshal(envelope.Detail, &detail) == nil && detail != "" {
			return detail
		}
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return trimmed
	}
	return http.StatusText(status)
}

// decodeJSON reads and unmarshals a JSON response body
func decodeJSON(r io.Reader, v any) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
