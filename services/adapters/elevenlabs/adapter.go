// Package elevenlabs is the adapter for the ElevenLabs text-to-speech API
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services/adapters"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultTimeout = 60 * time.Second

	// defaultVoiceID is the vendor's stock voice, used when the request
	// does not pick one
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	// defaultModelID selects the vendor's multilingual model
	defaultModelID = "eleven_multilingual_v2"
)

// Config configures the adapter
type Config struct {
	Name      string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	Transport adapters.Transport

	// CostPerThousandChars is the fallback rate in USD when no cost
	// header is present
	CostPerThousandChars float64
}

// Client implements speech synthesis against the ElevenLabs API
type Client struct {
	config Config
}

// New creates an ElevenLabs adapter
func New(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs: api key is required")
	}
	if config.Name == "" {
		config.Name = "elevenlabs"
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.CostPerThousandChars == 0 {
		config.CostPerThousandChars = 0.15
	}
	return &Client{config: config}, nil
}

// Name returns the adapter name
func (c *Client) Name() string {
	return c.config.Name
}

// Capabilities returns the capabilities this adapter implements
func (c *Client) Capabilities() []models.Capability {
	return []models.Capability{models.CapabilityTTS}
}

// Synthesize renders text to audio. The voice comes from the request's
// Voice field, falling back to the stock voice.
func (c *Client) Synthesize(ctx context.Context, req *adapters.SpeechRequest) (*adapters.SpeechResult, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	voice := req.Voice
	if voice == "" {
		voice = defaultVoiceID
	}
	model := req.Model
	if model == "" {
		model = defaultModelID
	}

	payload, err := json.Marshal(map[string]any{
		"text":     req.Input,
		"model_id": model,
	})
	if err != nil {
		return nil, c.wireError("marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/text-to-speech/"+voice, bytes.NewReader(payload))
	if err != nil {
		return nil, c.wireError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.config.APIKey)

	resp, err := c.config.Transport.RoundTrip(httpReq)
	if err != nil {
		return nil, c.wireError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, adapters.ErrorFromResponse(c.config.Name, resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.wireError("read audio", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	cost := adapters.CostInfo{
		AmountUSD: float64(len(req.Input)) / 1000.0 * c.config.CostPerThousandChars,
	}
	if headerCost, ok := adapters.CostFromHeader(resp.Header); ok {
		cost = adapters.CostInfo{AmountUSD: headerCost, FromHeader: true}
	}

	return &adapters.SpeechResult{
		Audio:       audio,
		ContentType: contentType,
		CostInfo:    cost,
	}, nil
}

func (c *Client) wireError(message string, cause error) *adapters.ProviderError {
	return &adapters.ProviderError{
		Provider: c.config.Name,
		Message:  message,
		Cause:    cause,
	}
}
