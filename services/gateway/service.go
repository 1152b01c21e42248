// Package gateway sits between the HTTP handlers and the router: it
// validates inbound requests, translates the Anthropic dialect onto the
// canonical form and back, attaches the tenant's sell price so routing can
// record margins, and stamps response ids at the edge.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services"
	"github.com/botmesh/model-gateway/services/adapters"
	"github.com/botmesh/model-gateway/services/router"
	"github.com/botmesh/model-gateway/services/translate"
	"github.com/botmesh/model-gateway/utils"
)

// Router is the routing surface the gateway drives. Satisfied by the router
// service.
type Router interface {
	GenerateText(ctx context.Context, req *models.OpenAIChatRequest, opts router.Options) (*adapters.TextGenerationResult, router.Decision, error)
	GenerateTextStream(ctx context.Context, req *models.OpenAIChatRequest, opts router.Options) (*adapters.TextStream, router.Decision, error)
	Embed(ctx context.Context, req *models.OpenAIEmbeddingsRequest, opts router.Options) (*adapters.EmbeddingsResult, router.Decision, error)
	Synthesize(ctx context.Context, req *adapters.SpeechRequest, opts router.Options) (*adapters.SpeechResult, router.Decision, error)
	Transcribe(ctx context.Context, req *adapters.TranscriptionRequest, opts router.Options) (*adapters.TranscriptionResult, router.Decision, error)
	GenerateImage(ctx context.Context, req *adapters.ImageRequest, opts router.Options) (*adapters.ImageResult, router.Decision, error)
}

// Config holds configuration for the gateway service
type Config struct {
	// SellPrices is the per-capability resale price in USD. A capability
	// with no entry still routes, it just records no margin.
	SellPrices map[models.Capability]float64

	// PreferLowLatency orders failover chains by latency class instead of
	// gpu-first pricing
	PreferLowLatency bool
}

// DefaultConfig returns a gateway config with an empty price sheet
func DefaultConfig() Config {
	return Config{SellPrices: make(map[models.Capability]float64)}
}

// Service orchestrates one metered AI request end to end.
type Service struct {
	router Router
	config Config
	logger *zap.Logger
}

// NewService creates a gateway service
func NewService(router Router, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SellPrices == nil {
		config.SellPrices = make(map[models.Capability]float64)
	}
	return &Service{
		router: router,
		config: config,
		logger: logger,
	}
}

// StreamResult is the outcome of a streaming text request: a live provider
// stream, or a buffered completion to replay when no streaming-capable
// provider was available.
type StreamResult struct {
	Stream   *adapters.TextStream
	Replay   *models.OpenAIChatResponse
	Decision router.Decision
}

// ChatCompletion serves the OpenAI-dialect text surface. The request is
// already in the canonical form, so it routes as-is.
func (s *Service) ChatCompletion(ctx context.Context, tenantID string, req *models.OpenAIChatRequest) (*models.OpenAIChatResponse, router.Decision, error) {
	start := time.Now()
	if err := utils.ValidateStruct(req); err != nil {
		return nil, router.Decision{}, validationError(err)
	}

	result, decision, err := s.router.GenerateText(ctx, req, s.options(tenantID, models.CapabilityTextGeneration))
	if err != nil {
		return nil, decision, err
	}

	resp := result.Response
	s.stampCompletion(resp)
	s.logRouted(models.CapabilityTextGeneration, tenantID, decision, result.CostInfo, start)
	return resp, decision, nil
}

// ChatCompletionStream serves the OpenAI-dialect streaming surface. When no
// streaming-capable provider is available the request falls back to a
// buffered completion; providers marked unhealthy during the streaming walk
// are already filtered out of the fallback chain.
func (s *Service) ChatCompletionStream(ctx context.Context, tenantID string, req *models.OpenAIChatRequest) (*StreamResult, error) {
	start := time.Now()
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err)
	}

	opts := s.options(tenantID, models.CapabilityTextGeneration)
	stream, decision, err := s.router.GenerateTextStream(ctx, req, opts)
	if err == nil {
		s.logRouted(models.CapabilityTextGeneration, tenantID, decision, stream.CostInfo, start)
		return &StreamResult{Stream: stream, Decision: decision}, nil
	}
	if !services.IsNoProviderAvailable(err) {
		return nil, err
	}

	s.logger.Info("no streaming provider available, replaying buffered completion",
		zap.String("tenant_id", tenantID))

	buffered := *req
	buffered.Stream = false
	result, decision, err := s.router.GenerateText(ctx, &buffered, opts)
	if err != nil {
		return nil, err
	}

	resp := result.Response
	s.stampCompletion(resp)
	s.logRouted(models.CapabilityTextGeneration, tenantID, decision, result.CostInfo, start)
	return &StreamResult{Replay: resp, Decision: decision}, nil
}

// Messages serves the Anthropic-dialect text surface. The request is
// translated to the canonical form for routing and the response translated
// back, echoing the model name the client asked for. Streaming callers
// replay the returned response as the Anthropic event sequence.
func (s *Service) Messages(ctx context.Context, tenantID string, req *models.AnthropicRequest) (*models.AnthropicResponse, router.Decision, error) {
	start := time.Now()
	if err := utils.ValidateStruct(req); err != nil {
		return nil, router.Decision{}, validationError(err)
	}

	canonical, err := translate.AnthropicRequestToOpenAI(req)
	if err != nil {
		return nil, router.Decision{}, services.WrapError(services.ErrorTypeTranslation, "invalid request body", err)
	}

	result, decision, err := s.router.GenerateText(ctx, canonical, s.options(tenantID, models.CapabilityTextGeneration))
	if err != nil {
		return nil, decision, err
	}

	resp := translate.OpenAIResponseToAnthropic(result.Response)
	resp.Model = req.Model
	if resp.ID == "" {
		resp.ID = models.AnthropicMessageIDPrefix + uuid.NewString()
	}
	s.logRouted(models.CapabilityTextGeneration, tenantID, decision, result.CostInfo, start)
	return resp, decision, nil
}

// Embeddings serves the embeddings surface.
func (s *Service) Embeddings(ctx context.Context, tenantID string, req *models.OpenAIEmbeddingsRequest) (*models.OpenAIEmbeddingsResponse, router.Decision, error) {
	start := time.Now()
	if err := utils.ValidateStruct(req); err != nil {
		return nil, router.Decision{}, validationError(err)
	}

	result, decision, err := s.router.Embed(ctx, req, s.options(tenantID, models.CapabilityEmbeddings))
	if err != nil {
		return nil, decision, err
	}

	resp := result.Response
	if resp.Object == "" {
		resp.Object = "list"
	}
	s.logRouted(models.CapabilityEmbeddings, tenantID, decision, result.CostInfo, start)
	return resp, decision, nil
}

// Speech serves the text-to-speech surface.
func (s *Service) Speech(ctx context.Context, tenantID string, req *adapters.SpeechRequest) (*adapters.SpeechResult, router.Decision, error) {
	start := time.Now()
	if err := utils.ValidateStruct(req); err != nil {
		return nil, router.Decision{}, validationError(err)
	}

	result, decision, err := s.router.Synthesize(ctx, req, s.options(tenantID, models.CapabilityTTS))
	if err != nil {
		return nil, decision, err
	}

	s.logRouted(models.CapabilityTTS, tenantID, decision, result.CostInfo, start)
	return result, decision, nil
}

// Transcription serves the speech-to-text surface.
func (s *Service) Transcription(ctx context.Context, tenantID string, req *adapters.TranscriptionRequest) (*adapters.TranscriptionResult, router.Decision, error) {
	start := time.Now()
	if len(req.Audio) == 0 {
		return nil, router.Decision{}, services.NewDomainError(services.ErrorTypeValidation, "audio file is required", nil)
	}

	result, decision, err := s.router.Transcribe(ctx, req, s.options(tenantID, models.CapabilityTranscription))
	if err != nil {
		return nil, decision, err
	}

	s.logRouted(models.CapabilityTranscription, tenantID, decision, result.CostInfo, start)
	return result, decision, nil
}

// Images serves the image generation surface.
func (s *Service) Images(ctx context.Context, tenantID string, req *adapters.ImageRequest) (*adapters.ImageResult, router.Decision, error) {
	start := time.Now()
	if err := utils.ValidateStruct(req); err != nil {
		return nil, router.Decision{}, validationError(err)
	}
	if req.N < 0 {
		return nil, router.Decision{}, services.NewDomainError(services.ErrorTypeValidation, "n must not be negative", nil)
	}

	result, decision, err := s.router.GenerateImage(ctx, req, s.options(tenantID, models.CapabilityImageGeneration))
	if err != nil {
		return nil, decision, err
	}

	s.logRouted(models.CapabilityImageGeneration, tenantID, decision, result.CostInfo, start)
	return result, decision, nil
}

// SellPrice reports the configured resale price for a capability.
func (s *Service) SellPrice(capability models.Capability) float64 {
	return s.config.SellPrices[capability]
}

func (s *Service) options(tenantID string, capability models.Capability) router.Options {
	return router.Options{
		TenantID:         tenantID,
		SellPriceUSD:     s.config.SellPrices[capability],
		PreferLowLatency: s.config.PreferLowLatency,
	}
}

// stampCompletion fills the envelope fields the upstream left empty
func (s *Service) stampCompletion(resp *models.OpenAIChatResponse) {
	if resp.ID == "" {
		resp.ID = models.OpenAICompletionIDPrefix + uuid.NewString()
	}
	if resp.Object == "" {
		resp.Object = "chat.completion"
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
}

func (s *Service) logRouted(capability models.Capability, tenantID string, decision router.Decision, cost adapters.CostInfo, start time.Time) {
	s.logger.Info("request routed",
		zap.String("capability", string(capability)),
		zap.String("tenant_id", tenantID),
		zap.String("adapter", decision.Adapter),
		zap.String("tier", string(decision.Tier)),
		zap.String("reason", decision.Reason),
		zap.Int("attempts", decision.Attempts),
		zap.Float64("provider_cost_usd", cost.AmountUSD),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()))
}

// validationError converts a DTO validation failure into the domain error
// the handlers map to a 400
func validationError(err error) error {
	domainErr := services.NewDomainError(services.ErrorTypeValidation, err.Error(), err)
	for field, message := range utils.GetValidationFields(err) {
		domainErr.WithDetail(field, message)
	}
	return domainErr
}
