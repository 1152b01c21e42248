package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/middleware"
	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services/translate"
	"github.com/botmesh/model-gateway/utils"
)

// HandleChatCompletion handles POST /v1/chat/completions
func (h *GatewayHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, ok := h.tenantOrReject(w, r, HandleOpenAIError)
	if !ok {
		return
	}

	var req models.OpenAIChatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleOpenAIError(w, err, h.logger)
		return
	}

	if req.Stream {
		h.streamChatCompletion(ctx, w, tenantID, &req, requestID)
		return
	}

	resp, _, err := h.service.ChatCompletion(ctx, tenantID, &req)
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

// streamChatCompletion serves stream:true requests. A live upstream stream is
// proxied byte for byte; when only buffered providers remain the completed
// response replays as a single chunk followed by the [DONE] marker.
func (h *GatewayHandler) streamChatCompletion(ctx context.Context, w http.ResponseWriter, tenantID string, req *models.OpenAIChatRequest, requestID string) {
	result, err := h.service.ChatCompletionStream(ctx, tenantID, req)
	if err != nil {
		HandleOpenAIError(w, err, h.logger)
		return
	}

	utils.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	utils.FlushResponse(w)

	if result.Stream != nil {
		defer result.Stream.Body.Close()
		if err := copySSE(w, result.Stream.Body); err != nil {
			// the status line is gone, all that is left is to log and drop
			h.logger.Warn("stream interrupted",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
		return
	}

	for _, chunk := range translate.OpenAIStreamChunks(result.Replay) {
		data, err := json.Marshal(chunk)
		if err != nil {
			h.logger.Error("failed to marshal stream chunk",
				zap.String("request_id", requestID),
				zap.Error(err))
			return
		}
		if err := utils.WriteSSEData(w, data); err != nil {
			h.logger.Warn("stream interrupted",
				zap.String("request_id", requestID),
				zap.Error(err))
			return
		}
	}
	_ = utils.WriteSSEDone(w)
}

// copySSE forwards upstream SSE bytes to the client, flushing each read so
// tokens reach the client as the provider emits them
func copySSE(w http.ResponseWriter, body io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			utils.FlushResponse(w)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
