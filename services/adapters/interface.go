// Package adapters defines the provider adapter contracts: one small base
// interface plus one interface per capability. An adapter type declares
// exactly the capabilities it implements; registration rejects any mismatch
// between the declared set and the interfaces the type satisfies.
package adapters

import (
	"context"
	"io"
	"time"

	"github.com/botmesh/model-gateway/models"
)

// Adapter is the base contract every provider adapter satisfies
type Adapter interface {
	// Name returns the adapter name used in cost rows and health records
	// (e.g. "openai", "self-hosted-vllm", "chatterbox-tts")
	Name() string

	// Capabilities returns the exact set of capabilities this adapter
	// implements
	Capabilities() []models.Capability
}

// TextGenerator produces chat completions in the canonical dialect
type TextGenerator interface {
	Adapter
	GenerateText(ctx context.Context, req *models.OpenAIChatRequest) (*TextGenerationResult, error)
}

// TextStreamer is an optional extension for adapters that can stream
// completions. The returned stream's body is the provider's SSE byte stream,
// relayed to the client untouched.
type TextStreamer interface {
	TextGenerator
	GenerateTextStream(ctx context.Context, req *models.OpenAIChatRequest) (*TextStream, error)
}

// Embedder produces embedding vectors
type Embedder interface {
	Adapter
	Embed(ctx context.Context, req *models.OpenAIEmbeddingsRequest) (*EmbeddingsResult, error)
}

// SpeechSynthesizer renders text to audio
type SpeechSynthesizer interface {
	Adapter
	Synthesize(ctx context.Context, req *SpeechRequest) (*SpeechResult, error)
}

// Transcriber converts audio to text
type Transcriber interface {
	Adapter
	Transcribe(ctx context.Context, req *TranscriptionRequest) (*TranscriptionResult, error)
}

// ImageGenerator renders images from prompts
type ImageGenerator interface {
	Adapter
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error)
}

// CostInfo is the provider-side cost of one completed call. FromHeader is
// set when the amount came from the provider's cost response header rather
// than a local computation.
type CostInfo struct {
	AmountUSD  float64 `json:"amount_usd"`
	FromHeader bool    `json:"from_header"`
}

// Output is the common view the router takes of any capability result
type Output interface {
	Cost() CostInfo
}

// TextGenerationResult is a completed chat completion and its cost
type TextGenerationResult struct {
	Response *models.OpenAIChatResponse
	CostInfo CostInfo
}

func (r *TextGenerationResult) Cost() CostInfo { return r.CostInfo }

// TextStream is a live completion stream. Body carries the provider's SSE
// bytes; the caller must close it. The cost is known up front only when the
// provider reported it in a response header.
type TextStream struct {
	Body        io.ReadCloser
	ContentType string
	CostInfo    CostInfo
}

func (s *TextStream) Cost() CostInfo { return s.CostInfo }

// EmbeddingsResult is a completed embeddings call and its cost
type EmbeddingsResult struct {
	Response *models.OpenAIEmbeddingsResponse
	CostInfo CostInfo
}

func (r *EmbeddingsResult) Cost() CostInfo { return r.CostInfo }

// SpeechRequest asks for rendered speech audio
type SpeechRequest struct {
	Model  string `json:"model,omitempty"`
	Input  string `json:"input" validate:"required"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"response_format,omitempty"`
}

// SpeechResult is rendered audio and its cost
type SpeechResult struct {
	Audio           []byte
	ContentType     string
	DurationSeconds float64
	CostInfo        CostInfo
}

func (r *SpeechResult) Cost() CostInfo { return r.CostInfo }

// TranscriptionRequest asks for a transcript of an audio payload
type TranscriptionRequest struct {
	Model    string
	Audio    []byte
	Filename string
	Language string
}

// TranscriptionResult is a transcript and its cost
type TranscriptionResult struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	CostInfo        CostInfo
}

func (r *TranscriptionResult) Cost() CostInfo { return r.CostInfo }

// ImageRequest asks for generated images
type ImageRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt" validate:"required"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

// ImageResult is a set of generated images and their cost
type ImageResult struct {
	Images   []GeneratedImage
	CostInfo CostInfo
}

// GeneratedImage is one generated image, delivered by URL or inline
type GeneratedImage struct {
	URL     string `json:"url,omitempty"`
	B64JSON string `json:"b64_json,omitempty"`
}

func (r *ImageResult) Cost() CostInfo { return r.CostInfo }

// Supports reports whether the adapter declares the given capability
func Supports(a Adapter, capability models.Capability) bool {
	for _, c := range a.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}

// ValidateCapabilities checks that every declared capability is backed by
// the matching interface on the adapter, and that the adapter declares at
// least one. Registration calls this before accepting an adapter.
func ValidateCapabilities(a Adapter) error {
	caps := a.Capabilities()
	if len(caps) == 0 {
		return &ProviderError{Provider: a.Name(), Message: "adapter declares no capabilities"}
	}
	for _, c := range caps {
		var ok bool
		switch c {
		case models.CapabilityTextGeneration:
			_, ok = a.(TextGenerator)
		case models.CapabilityEmbeddings:
			_, ok = a.(Embedder)
		case models.CapabilityTTS:
			_, ok = a.(SpeechSynthesizer)
		case models.CapabilityTranscription:
			_, ok = a.(Transcriber)
		case models.CapabilityImageGeneration:
			_, ok = a.(ImageGenerator)
		default:
			return &ProviderError{Provider: a.Name(), Message: "unknown capability " + string(c)}
		}
		if !ok {
			return &ProviderError{Provider: a.Name(), Message: "declared capability " + string(c) + " is not implemented"}
		}
	}
	return nil
}

// ProviderError is a failed provider call. HTTPStatus is zero when the call
// never produced a response (timeouts, connection resets), which the router
// treats the same as a 5xx.
type ProviderError struct {
	// Provider is the adapter name that produced the error
	Provider string

	// HTTPStatus is the upstream status code, or zero without a response
	HTTPStatus int

	// RetryAfter is the provider's requested backoff, when it sent one
	RetryAfter time.Duration

	// Message is the upstream error text
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether failover should continue past this error:
// server-side failures and calls that produced no response at all
func (e *ProviderError) Retryable() bool {
	return e.HTTPStatus == 0 || e.HTTPStatus >= 500
}
