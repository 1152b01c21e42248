// Package anthropic is the adapter for the Anthropic Messages API. It
// accepts requests in the canonical dialect, translates them to the
// vendor's wire format on the way out, and translates responses back.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services/adapters"
	"github.com/botmesh/model-gateway/services/translate"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultTimeout = 60 * time.Second

	// apiVersion is the vendor's required version header value
	apiVersion = "2023-06-01"
)

// Rates are the fallback per-million-token cost rates in USD
type Rates struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// DefaultRates returns blended list prices for the vendor's mid-tier models
func DefaultRates() Rates {
	return Rates{InputPerMTok: 3.00, OutputPerMTok: 15.00}
}

// Config configures the adapter
type Config struct {
	Name      string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	Transport adapters.Transport
	Rates     Rates
}

// Client implements text generation against the Anthropic Messages API
type Client struct {
	config Config
}

// New creates an Anthropic adapter
func New(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if config.Name == "" {
		config.Name = "anthropic"
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Client{config: config}, nil
}

// Name returns the adapter name
func (c *Client) Name() string {
	return c.config.Name
}

// Capabilities returns the capabilities this adapter implements
func (c *Client) Capabilities() []models.Capability {
	return []models.Capability{models.CapabilityTextGeneration}
}

// GenerateText translates the canonical request into the vendor dialect,
// performs the call, and translates the response back
func (c *Client) GenerateText(ctx context.Context, req *models.OpenAIChatRequest) (*adapters.TextGenerationResult, error) {
	native, err := translate.OpenAIRequestToAnthropic(req)
	if err != nil {
		return nil, &adapters.ProviderError{
			Provider:   c.config.Name,
			HTTPStatus: http.StatusBadRequest,
			Message:    "untranslatable request",
			Cause:      err,
		}
	}
	native.Stream = false

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(native)
	if err != nil {
		return nil, c.wireError("marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, c.wireError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.config.Transport.RoundTrip(httpReq)
	if err != nil {
		return nil, c.wireError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, adapters.ErrorFromResponse(c.config.Name, resp)
	}

	var nativeResp models.AnthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&nativeResp); err != nil {
		return nil, c.wireError("decode response", err)
	}

	out := translate.AnthropicResponseToOpenAI(&nativeResp)
	out.Created = time.Now().Unix()

	cost := adapters.CostInfo{
		AmountUSD: float64(nativeResp.Usage.InputTokens)*c.config.Rates.InputPerMTok/1e6 +
			float64(nativeResp.Usage.OutputTokens)*c.config.Rates.OutputPerMTok/1e6,
	}
	if headerCost, ok := adapters.CostFromHeader(resp.Header); ok {
		cost = adapters.CostInfo{AmountUSD: headerCost, FromHeader: true}
	}

	return &adapters.TextGenerationResult{Response: out, CostInfo: cost}, nil
}

func (c *Client) wireError(message string, cause error) *adapters.ProviderError {
	return &adapters.ProviderError{
		Provider: c.config.Name,
		Message:  message,
		Cause:    cause,
	}
}
