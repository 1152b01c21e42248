// Package chatterbox is the adapter for a self-hosted Chatterbox TTS
// deployment. No API key is involved; the fallback cost is the amortized
// GPU rate per minute of rendered audio.
package chatterbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services/adapters"
)

const (
	defaultName    = "chatterbox-tts"
	defaultTimeout = 120 * time.Second
)

// Config configures the adapter
type Config struct {
	// Name defaults to "chatterbox-tts"
	Name string

	// BaseURL points at the self-hosted deployment
	BaseURL string

	Timeout   time.Duration
	Transport adapters.Transport

	// CostPerMinute is the amortized GPU cost in USD per minute of
	// rendered audio
	CostPerMinute float64
}

// Client implements speech synthesis against a Chatterbox server
type Client struct {
	config Config
}

// New creates a Chatterbox adapter
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("chatterbox: base url is required")
	}
	if config.Name == "" {
		config.Name = defaultName
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.CostPerMinute == 0 {
		config.CostPerMinute = 0.02
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

// Synthesize renders text to audio on the self-hosted deployment
func (c *Client) Synthesize(ctx context.Context, req *adapters.SpeechRequest) (*adapters.SpeechResult, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	body := map[string]any{"text": req.Input}
	if req.Voice != "" {
		body["voice"] = req.Voice
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, c.wireError("marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, c.wireError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.config.Transport.RoundTrip(httpReq)
	if err != nil {
		return nil, c.wireError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, adapters.ErrorFromResponse(c.config.Name, resp)
	}

	var out struct {
		AudioBase64     string  `json:"audio_base64"`
		DurationSeconds float64 `json:"duration_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.wireError("decode response", err)
	}

	audio, err := base64.StdEncoding.DecodeString(out.AudioBase64)
	if err != nil {
		return nil, c.wireError("decode audio payload", err)
	}

	cost := adapters.CostInfo{
		AmountUSD: out.DurationSeconds / 60.0 * c.config.CostPerMinute,
	}
	if headerCost, ok := adapters.CostFromHeader(resp.Header); ok {
		cost = adapters.CostInfo{AmountUSD: headerCost, FromHeader: true}
	}

	return &adapters.SpeechResult{
		Audio:           audio,
		ContentType:     "audio/wav",
		DurationSeconds: out.DurationSeconds,
		CostInfo:        cost,
	}, nil
}

func (c *Client) wireError(message string, cause error) *adapters.ProviderError {
	return &adapters.ProviderError{
		Provider: c.config.Name,
		Message:  message,
		Cause:    cause,
	}
}
