package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/middleware"
	"github.com/botmesh/model-gateway/services/adapters"
	"github.com/botmesh/model-gateway/utils"
)

// imagesResponse is the OpenAI images envelope
type imagesResponse struct {
	Created int64                     `json:"created"`
	Data    []adapters.GeneratedImage `json:"data"`
}

// HandleImages handles POST /v1/images/generations
func (h *GatewayHandler) HandleImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, ok := h.tenantOrReject(w, r, HandleOpenAIError)
	if !ok {
		return
	}

	var req adapters.ImageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleOpenAIError(w, err, h.logger)
		return
	}

	result, _, err := h.service.Images(ctx, tenantID, &req)
	if err != nil {
		HandleOpenAIError(w, err, h.logger)
		return
	}

	resp := imagesResponse{
		Created: time.Now().Unix(),
		Data:    result.Images,
	}
	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
