package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/middleware"
	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services"
	"github.com/botmesh/model-gateway/services/adapters"
	"github.com/botmesh/model-gateway/services/gateway"
	"github.com/botmesh/model-gateway/services/router"
)

// GatewayService is the part of the gateway the model-serving handlers call
type GatewayService interface {
	// ChatCompletion serves a buffered completion in the OpenAI dialect
	ChatCompletion(ctx context.Context, tenantID string, req *models.OpenAIChatRequest) (*models.OpenAIChatResponse, router.Decision, error)

	// ChatCompletionStream serves a streaming completion, falling back to a
	// buffered replay when no streaming provider is available
	ChatCompletionStream(ctx context.Context, tenantID string, req *models.OpenAIChatRequest) (*gateway.StreamResult, error)

	// Messages serves a completion in the Anthropic dialect
	Messages(ctx context.Context, tenantID string, req *models.AnthropicRequest) (*models.AnthropicResponse, router.Decision, error)

	// Embeddings serves an embeddings request
	Embeddings(ctx context.Context, tenantID string, req *models.OpenAIEmbeddingsRequest) (*models.OpenAIEmbeddingsResponse, router.Decision, error)

	// Speech renders text to audio
	Speech(ctx context.Context, tenantID string, req *adapters.SpeechRequest) (*adapters.SpeechResult, router.Decision, error)

	// Transcription converts audio to text
	Transcription(ctx context.Context, tenantID string, req *adapters.TranscriptionRequest) (*adapters.TranscriptionResult, router.Decision, error)

	// Images generates images from a prompt
	Images(ctx context.Context, tenantID string, req *adapters.ImageRequest) (*adapters.ImageResult, router.Decision, error)
}

// GatewayHandler handles the model-serving HTTP routes
type GatewayHandler struct {
	service GatewayService
	logger  *zap.Logger
}

// NewGatewayHandler creates a new GatewayHandler
func NewGatewayHandler(service GatewayService, logger *zap.Logger) *GatewayHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayHandler{
		service: service,
		logger:  logger,
	}
}

// errorWriter writes a service error in one dialect's envelope
type errorWriter func(w http.ResponseWriter, err error, logger *zap.Logger)

// tenantOrReject returns the authenticated tenant id from the request
// context. The auth middleware populates it on every model-serving route, so
// an empty value means the route was wired without authentication.
func (h *GatewayHandler) tenantOrReject(w http.ResponseWriter, r *http.Request, reject errorWriter) (string, bool) {
	tenantID := middleware.GetTenantIDFromContext(r.Context())
	if tenantID == "" {
		h.logger.Error("missing tenant in request context",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path))
		reject(w, services.NewDomainError(services.ErrorTypeUnauthorized, "Missing API key", nil), h.logger)
		return "", false
	}
	return tenantID, true
}

// decodeJSON parses the request body into v, surfacing parse failures as
// validation errors so they reach the client in the right dialect envelope
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, "Invalid request body", err)
	}
	return nil
}
