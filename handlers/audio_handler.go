package handlers

import (
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/middleware"
	"github.com/botmesh/model-gateway/services"
	"github.com/botmesh/model-gateway/services/adapters"
	"github.com/botmesh/model-gateway/utils"
)

// maxAudioUploadBytes caps transcription uploads at 25MB, matching the
// provider-side limit
const maxAudioUploadBytes = 25 << 20

// transcriptionResponse is the transcription envelope returned to clients
type transcriptionResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration,omitempty"`
}

// HandleSpeech handles POST /v1/audio/speech. The response body is the
// rendered audio, not JSON.
func (h *GatewayHandler) HandleSpeech(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, ok := h.tenantOrReject(w, r, HandleOpenAIError)
	if !ok {
		return
	}

	var req adapters.SpeechRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleOpenAIError(w, err, h.logger)
		return
	}

	result, _, err := h.service.Speech(ctx, tenantID, &req)
	if err != nil {
		HandleOpenAIError(w, err, h.logger)
		return
	}

	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Audio); err != nil {
		h.logger.Warn("failed to write audio response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// HandleTranscription handles POST /v1/audio/transcriptions. The request is
// multipart form data with the audio in the file field.
func (h *GatewayHandler) HandleTranscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	tenantID, ok := h.tenantOrReject(w, r, HandleOpenAIError)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		h.logger.Warn("failed to parse multipart body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleOpenAIError(w, services.NewDomainError(services.ErrorTypeValidation, "Invalid multipart body", err), h.logger)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		HandleOpenAIError(w, services.NewDomainError(services.ErrorTypeValidation, "file field is required", err), h.logger)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		HandleOpenAIError(w, services.NewDomainError(services.ErrorTypeValidation, "failed to read audio upload", err), h.logger)
		return
	}

	req := adapters.TranscriptionRequest{
		Model:    r.FormValue("model"),
		Audio:    audio,
		Filename: header.Filename,
		Language: r.FormValue("language"),
	}

	result, _, err := h.service.Transcription(ctx, tenantID, &req)
	if err != nil {
		HandleOpenAIError(w, err, h.logger)
		return
	}

	resp := transcriptionResponse{
		Text:     result.Text,
		Duration: result.DurationSeconds,
	}
	if err := utils.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
