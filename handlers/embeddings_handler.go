package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/middleware"
	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/utils"
)

// HandleEmbeddings handles POST /v1/embeddings
func (h *GatewayHandler) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, ok := h.tenantOrReject(w, r, HandleOpenAIError)
	if !ok {
		return
	}

	var req models.OpenAIEmbeddingsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleOpenAIError(w, err, h.logger)
		return
	}

	resp, _, err := h.service.Embeddings(ctx, tenantID, &req)
	if err != nil {
		HandleOpenAIError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
