// Package openaicompat is the adapter for OpenAI-compatible APIs. One type
// serves both the hosted vendor endpoint and self-hosted deployments
// (vLLM, LocalAI) that speak the same wire format; the deployment selects
// a name, base URL, key, and cost rates in Config.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services/adapters"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// Rates are the fallback cost rates in USD, applied when the provider does
// not report an authoritative cost header. Self-hosted deployments set
// these to their amortized GPU cost.
type Rates struct {
	InputPerMTok           float64
	OutputPerMTok          float64
	EmbeddingPerMTok       float64
	PerImage               float64
	TranscriptionPerMinute float64
}

// DefaultRates returns the hosted vendor's blended list prices
func DefaultRates() Rates {
	return Rates{
		InputPerMTok:           2.50,
		OutputPerMTok:          10.00,
		EmbeddingPerMTok:       0.02,
		PerImage:               0.04,
		TranscriptionPerMinute: 0.006,
	}
}

// Config configures one deployment of the adapter
type Config struct {
	// Name is the adapter name used in cost rows and health records.
	// Self-hosted deployments conventionally use a "self-hosted-" prefix.
	Name string

	// BaseURL is the API root (e.g. "https://api.openai.com/v1")
	BaseURL string

	// APIKey is sent as a bearer token; empty for self-hosted deployments
	APIKey string

	// Timeout bounds each non-streaming call
	Timeout time.Duration

	// Transport overrides the HTTP client, mainly for tests
	Transport adapters.Transport

	Rates Rates
}

// Client implements text generation, embeddings, transcription, and image
// generation against an OpenAI-compatible API
type Client struct {
	config Config
}

// New creates an adapter for one OpenAI-compatible deployment
func New(config Config) (*Client, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("openaicompat: adapter name is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Client{config: config}, nil
}

// Name returns the configured adapter name
func (c *Client) Name() string {
	return c.config.Name
}

// Capabilities returns the capabilities this adapter implements
func (c *Client) Capabilities() []models.Capability {
	return []models.Capability{
		models.CapabilityTextGeneration,
		models.CapabilityEmbeddings,
		models.CapabilityTranscription,
		models.CapabilityImageGeneration,
	}
}

// GenerateText performs a chat completion request
func (c *Client) GenerateText(ctx context.Context, req *models.OpenAIChatRequest) (*adapters.TextGenerationResult, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	body := *req
	body.Stream = false

	resp, err := c.postJSON(ctx, "/chat/completions", &body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, adapters.ErrorFromResponse(c.config.Name, resp)
	}

	var out models.OpenAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.wireError("decode chat completion response", err)
	}

	cost := adapters.CostInfo{
		AmountUSD: float64(out.Usage.PromptTokens)*c.config.Rates.InputPerMTok/1e6 +
			float64(out.Usage.CompletionTokens)*c.config.Rates.OutputPerMTok/1e6,
	}
	if headerCost, ok := adapters.CostFromHeader(resp.Header); ok {
		cost = adapters.CostInfo{AmountUSD: headerCost, FromHeader: true}
	}

	return &adapters.TextGenerationResult{Response: &out, CostInfo: cost}, nil
}

// GenerateTextStream opens a streaming chat completion. The caller owns the
// returned body. No timeout is applied beyond the caller's context; a
// deadline here would cut long generations off mid-stream.
func (c *Client) GenerateTextStream(ctx context.Context, req *models.OpenAIChatRequest) (*adapters.TextStream, error) {
	body := *req
	body.Stream = true

	resp, err := c.postJSON(ctx, "/chat/completions", &body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := adapters.ErrorFromResponse(c.config.Name, resp)
		resp.Body.Close()
		return nil, perr
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	stream := &adapters.TextStream{Body: resp.Body, ContentType: contentType}
	if headerCost, ok := adapters.CostFromHeader(resp.Header); ok {
		stream.CostInfo = adapters.CostInfo{AmountUSD: headerCost, FromHeader: true}
	}
	return stream, nil
}

// Embed performs an embeddings request
func (c *Client) Embed(ctx context.Context, req *models.OpenAIEmbeddingsRequest) (*adapters.EmbeddingsResult, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.postJSON(ctx, "/embeddings", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, adapters.ErrorFromResponse(c.config.Name, resp)
	}

	var out models.OpenAIEmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.wireError("decode embeddings response", err)
	}

	cost := adapters.CostInfo{
		AmountUSD: float64(out.Usage.TotalTokens) * c.config.Rates.EmbeddingPerMTok / 1e6,
	}
	if headerCost, ok := adapters.CostFromHeader(resp.Header); ok {
		cost = adapters.CostInfo{AmountUSD: headerCost, FromHeader: true}
	}

	return &adapters.EmbeddingsResult{Response: &out, CostInfo: cost}, nil
}

// Transcribe uploads audio for transcription. The verbose response format
// is requested so the provider reports the audio duration, which drives
// the fallback cost.
func (c *Client) Transcribe(ctx context.Context, req *adapters.TranscriptionRequest) (*adapters.TranscriptionResult, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	filename := req.Filename
	if filename == "" {
		filename = "audio.wav"
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, c.wireError("build transcription form", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, c.wireError("build transcription form", err)
	}
	if req.Model != "" {
		_ = form.WriteField("model", req.Model)
	}
	if req.Language != "" {
		_ = form.WriteField("language", req.Language)
	}
	_ = form.WriteField("response_format", "verbose_json")
	if err := form.Close(); err != nil {
		return nil, c.wireError("build transcription form", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, c.wireError("build transcription request", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	c.setAuth(httpReq)

	resp, err := c.config.Transport.RoundTrip(httpReq)
	if err != nil {
		return nil, c.wireError("transcription request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, adapters.ErrorFromResponse(c.config.Name, resp)
	}

	var out struct {
		Text     string  `json:"text"`
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.wireError("decode transcription response", err)
	}

	cost := adapters.CostInfo{
		AmountUSD: out.Duration / 60.0 * c.config.Rates.TranscriptionPerMinute,
	}
	if headerCost, ok := adapters.CostFromHeader(resp.Header); ok {
		cost = adapters.CostInfo{AmountUSD: headerCost, FromHeader: true}
	}

	return &adapters.TranscriptionResult{
		Text:            out.Text,
		DurationSeconds: out.Duration,
		CostInfo:        cost,
	}, nil
}

// GenerateImage performs an image generation request
func (c *Client) GenerateImage(ctx context.Context, req *adapters.ImageRequest) (*adapters.ImageResult, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	body := map[string]any{"prompt": req.Prompt}
	if req.Model != "" {
		body["model"] = req.Model
	}
	if req.N > 0 {
		body["n"] = req.N
	}
	if req.Size != "" {
		body["size"] = req.Size
	}

	resp, err := c.postJSON(ctx, "/images/generations", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, adapters.ErrorFromResponse(c.config.Name, resp)
	}

	var out struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.wireError("decode image response", err)
	}

	images := make([]adapters.GeneratedImage, 0, len(out.Data))
	for _, d := range out.Data {
		images = append(images, adapters.GeneratedImage{URL: d.URL, B64JSON: d.B64JSON})
	}

	cost := adapters.CostInfo{AmountUSD: float64(len(images)) * c.config.Rates.PerImage}
	if headerCost, ok := adapters.CostFromHeader(resp.Header); ok {
		cost = adapters.CostInfo{AmountUSD: headerCost, FromHeader: true}
	}

	return &adapters.ImageResult{Images: images, CostInfo: cost}, nil
}

// postJSON sends a JSON POST and returns the raw response. The caller owns
// the response body.
func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, c.wireError("marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, c.wireError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.config.Transport.RoundTrip(req)
	if err != nil {
		return nil, c.wireError("request failed", err)
	}
	return resp, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

// wireError wraps a transport-level failure. The zero HTTP status marks it
// retryable for failover, same as a 5xx.
func (c *Client) wireError(message string, cause error) *adapters.ProviderError {
	return &adapters.ProviderError{
		Provider: c.config.Name,
		Message:  message,
		Cause:    cause,
	}
}
