package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/middleware"
	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services/translate"
	"github.com/botmesh/model-gateway/utils"
)

// HandleMessages handles POST /v1/messages
func (h *GatewayHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, ok := h.tenantOrReject(w, r, HandleAnthropicError)
	if !ok {
		return
	}

	var req models.AnthropicRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleAnthropicError(w, err, h.logger)
		return
	}

	resp, _, err := h.service.Messages(ctx, tenantID, &req)
	if err != nil {
		HandleAnthropicError(w, err, h.logger)
		return
	}

	if req.Stream {
		h.replayMessagesStream(w, resp, requestID)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// replayMessagesStream writes a completed message as the Anthropic streaming
// event sequence. Upstream text providers stream the OpenAI dialect only, so
// this surface completes the call first and replays it; message_stop ends the
// stream, there is no [DONE] marker in this dialect.
func (h *GatewayHandler) replayMessagesStream(w http.ResponseWriter, resp *models.AnthropicResponse, requestID string) {
	utils.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	utils.FlushResponse(w)

	for _, event := range translate.AnthropicStreamEvents(resp) {
		if err := utils.WriteSSEEvent(w, event.Event, event.Data); err != nil {
			h.logger.Warn("stream interrupted",
				zap.String("request_id", requestID),
				zap.Error(err))
			return
		}
	}
}
