package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/middleware"
	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services"
	"github.com/botmesh/model-gateway/services/adapters"
	"github.com/botmesh/model-gateway/services/gateway"
	"github.com/botmesh/model-gateway/services/router"
)

// MockGatewayService is a mock implementation of GatewayService
type MockGatewayService struct {
	mock.Mock
}

func (m *MockGatewayService) ChatCompletion(ctx context.Context, tenantID string, req *models.OpenAIChatRequest) (*models.OpenAIChatResponse, router.Decision, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, router.Decision{}, args.Error(2)
	}
	return args.Get(0).(*models.OpenAIChatResponse), args.Get(1).(router.Decision), args.Error(2)
}

func (m *MockGatewayService) ChatCompletionStream(ctx context.Context, tenantID string, req *models.OpenAIChatRequest) (*gateway.StreamResult, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.StreamResult), args.Error(1)
}

func (m *MockGatewayService) Messages(ctx context.Context, tenantID string, req *models.AnthropicRequest) (*models.AnthropicResponse, router.Decision, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, router.Decision{}, args.Error(2)
	}
	return args.Get(0).(*models.AnthropicResponse), args.Get(1).(router.Decision), args.Error(2)
}

func (m *MockGatewayService) Embeddings(ctx context.Context, tenantID string, req *models.OpenAIEmbeddingsRequest) (*models.OpenAIEmbeddingsResponse, router.Decision, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, router.Decision{}, args.Error(2)
	}
	return args.Get(0).(*models.OpenAIEmbeddingsResponse), args.Get(1).(router.Decision), args.Error(2)
}

func (m *MockGatewayService) Speech(ctx context.Context, tenantID string, req *adapters.SpeechRequest) (*adapters.SpeechResult, router.Decision, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, router.Decision{}, args.Error(2)
	}
	return args.Get(0).(*adapters.SpeechResult), args.Get(1).(router.Decision), args.Error(2)
}

func (m *MockGatewayService) Transcription(ctx context.Context, tenantID string, req *adapters.TranscriptionRequest) (*adapters.TranscriptionResult, router.Decision, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, router.Decision{}, args.Error(2)
	}
	return args.Get(0).(*adapters.TranscriptionResult), args.Get(1).(router.Decision), args.Error(2)
}

func (m *MockGatewayService) Images(ctx context.Context, tenantID string, req *adapters.ImageRequest) (*adapters.ImageResult, router.Decision, error) {
	args := m.Called(ctx, tenantID, req)
	if args.Get(0) == nil {
		return nil, router.Decision{}, args.Error(2)
	}
	return args.Get(0).(*adapters.ImageResult), args.Get(1).(router.Decision), args.Error(2)
}

// authedRequest builds a request carrying the tenant id the auth middleware
// would have set
func authedRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	ctx := middleware.WithRequestID(req.Context(), "req-1")
	ctx = middleware.WithTenantID(ctx, "tenant-a")
	return req.WithContext(ctx)
}

func TestHandleChatCompletion(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful completion", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockResp := &models.OpenAIChatResponse{
			ID:      "chatcmpl-1",
			Object:  "chat.completion",
			Created: 1700000000,
			Model:   "llama-3.3-70b",
			Choices: []models.OpenAIChoice{{
				Message:      models.OpenAIMessage{Role: models.OpenAIRoleAssistant, Content: "hello"},
				FinishReason: models.OpenAIFinishStop,
			}},
		}
		mockService.On("ChatCompletion", mock.Anything, "tenant-a", mock.MatchedBy(func(req *models.OpenAIChatRequest) bool {
			return req.Model == "llama-3.3-70b" && len(req.Messages) == 1
		})).Return(mockResp, router.Decision{Adapter: "vllm"}, nil)

		body, _ := json.Marshal(models.OpenAIChatRequest{
			Model:    "llama-3.3-70b",
			Messages: []models.OpenAIMessage{{Role: models.OpenAIRoleUser, Content: "hi"}},
		})
		req := authedRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response models.OpenAIChatResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "chatcmpl-1", response.ID)
		assert.Equal(t, "hello", response.Choices[0].Message.Content)

		mockService.AssertExpectations(t)
	})

	t.Run("missing tenant rejects in the OpenAI envelope", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var body models.OpenAIErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, models.OpenAIErrAuthentication, body.Error.Type)
		mockService.AssertNotCalled(t, "ChatCompletion")
	})

	t.Run("invalid body", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		req := authedRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{not json`))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body models.OpenAIErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, models.OpenAIErrInvalidRequest, body.Error.Type)
		mockService.AssertNotCalled(t, "ChatCompletion")
	})

	t.Run("no provider available maps to 503", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockService.On("ChatCompletion", mock.Anything, "tenant-a", mock.Anything).
			Return(nil, router.Decision{}, services.NewNoProviderAvailableError(models.CapabilityTextGeneration))

		body, _ := json.Marshal(models.OpenAIChatRequest{
			Model:    "llama-3.3-70b",
			Messages: []models.OpenAIMessage{{Role: models.OpenAIRoleUser, Content: "hi"}},
		})
		req := authedRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var errBody models.OpenAIErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&errBody))
		assert.Equal(t, models.OpenAIErrAPI, errBody.Error.Type)
	})

	t.Run("upstream rejection keeps the provider status", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockService.On("ChatCompletion", mock.Anything, "tenant-a", mock.Anything).
			Return(nil, router.Decision{}, &adapters.ProviderError{
				Provider:   "openai",
				HTTPStatus: http.StatusTooManyRequests,
				Message:    "rate limit exceeded",
			})

		body, _ := json.Marshal(models.OpenAIChatRequest{
			Model:    "gpt-4o",
			Messages: []models.OpenAIMessage{{Role: models.OpenAIRoleUser, Content: "hi"}},
		})
		req := authedRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		var errBody models.OpenAIErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&errBody))
		assert.Equal(t, models.OpenAIErrRateLimit, errBody.Error.Type)
		assert.Equal(t, "rate limit exceeded", errBody.Error.Message)
	})
}

func TestHandleChatCompletion_Streaming(t *testing.T) {
	logger := zap.NewNop()

	t.Run("live stream is proxied verbatim", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		upstream := "data: {\"id\":\"chatcmpl-1\"}\n\ndata: [DONE]\n\n"
		mockService.On("ChatCompletionStream", mock.Anything, "tenant-a", mock.Anything).
			Return(&gateway.StreamResult{
				Stream: &adapters.TextStream{
					Body:        io.NopCloser(strings.NewReader(upstream)),
					ContentType: "text/event-stream",
				},
			}, nil)

		body, _ := json.Marshal(models.OpenAIChatRequest{
			Model:    "llama-3.3-70b",
			Messages: []models.OpenAIMessage{{Role: models.OpenAIRoleUser, Content: "hi"}},
			Stream:   true,
		})
		req := authedRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Equal(t, upstream, w.Body.String())
		assert.True(t, w.Flushed)
	})

	t.Run("buffered replay emits chunks and DONE", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockService.On("ChatCompletionStream", mock.Anything, "tenant-a", mock.Anything).
			Return(&gateway.StreamResult{
				Replay: &models.OpenAIChatResponse{
					ID:      "chatcmpl-9",
					Object:  "chat.completion",
					Created: 1700000000,
					Model:   "llama-3.3-70b",
					Choices: []models.OpenAIChoice{{
						Message:      models.OpenAIMessage{Role: models.OpenAIRoleAssistant, Content: "replayed"},
						FinishReason: models.OpenAIFinishStop,
					}},
				},
			}, nil)

		body, _ := json.Marshal(models.OpenAIChatRequest{
			Model:    "llama-3.3-70b",
			Messages: []models.OpenAIMessage{{Role: models.OpenAIRoleUser, Content: "hi"}},
			Stream:   true,
		})
		req := authedRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		out := w.Body.String()
		assert.Contains(t, out, `"id":"chatcmpl-9"`)
		assert.Contains(t, out, `"content":"replayed"`)
		assert.Contains(t, out, `"finish_reason":"stop"`)
		assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
	})

	t.Run("stream error rejects before any SSE bytes", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockService.On("ChatCompletionStream", mock.Anything, "tenant-a", mock.Anything).
			Return(nil, services.NewNoProviderAvailableError(models.CapabilityTextGeneration))

		body, _ := json.Marshal(models.OpenAIChatRequest{
			Model:    "llama-3.3-70b",
			Messages: []models.OpenAIMessage{{Role: models.OpenAIRoleUser, Content: "hi"}},
			Stream:   true,
		})
		req := authedRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
		w := httptest.NewRecorder()

		handler.HandleChatCompletion(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})
}

func TestHandleMessages(t *testing.T) {
	logger := zap.NewNop()

	anthropicBody := func(stream bool) io.Reader {
		body, _ := json.Marshal(models.AnthropicRequest{
			Model:     "claude-sonnet-4",
			MaxTokens: 128,
			Stream:    stream,
			Messages:  []models.AnthropicMessage{models.NewAnthropicTextMessage(models.AnthropicRoleUser, "hi")},
		})
		return bytes.NewReader(body)
	}

	mockResponse := &models.AnthropicResponse{
		ID:    "msg_1",
		Type:  "message",
		Role:  models.AnthropicRoleAssistant,
		Model: "claude-sonnet-4",
		Content: []models.AnthropicContentBlock{
			{Type: models.AnthropicBlockText, Text: "hello"},
		},
		StopReason: models.AnthropicStopEndTurn,
		Usage:      models.AnthropicUsage{InputTokens: 3, OutputTokens: 2},
	}

	t.Run("successful message", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockService.On("Messages", mock.Anything, "tenant-a", mock.MatchedBy(func(req *models.AnthropicRequest) bool {
			return req.Model == "claude-sonnet-4"
		})).Return(mockResponse, router.Decision{Adapter: "openai"}, nil)

		req := authedRequest(http.MethodPost, "/v1/messages", anthropicBody(false))
		w := httptest.NewRecorder()

		handler.HandleMessages(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response models.AnthropicResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "msg_1", response.ID)
		assert.Equal(t, "hello", response.Content[0].Text)
	})

	t.Run("stream replays the completed message as events", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockService.On("Messages", mock.Anything, "tenant-a", mock.Anything).
			Return(mockResponse, router.Decision{}, nil)

		req := authedRequest(http.MethodPost, "/v1/messages", anthropicBody(true))
		w := httptest.NewRecorder()

		handler.HandleMessages(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

		out := w.Body.String()
		assert.Contains(t, out, "event: message_start\n")
		assert.Contains(t, out, "event: content_block_delta\n")
		assert.Contains(t, out, `"text":"hello"`)
		assert.Contains(t, out, "event: message_stop\n")
		assert.NotContains(t, out, "[DONE]")
	})

	t.Run("capacity exhaustion maps to 529 overloaded", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockService.On("Messages", mock.Anything, "tenant-a", mock.Anything).
			Return(nil, router.Decision{}, services.NewNoProviderAvailableError(models.CapabilityTextGeneration))

		req := authedRequest(http.MethodPost, "/v1/messages", anthropicBody(false))
		w := httptest.NewRecorder()

		handler.HandleMessages(w, req)

		assert.Equal(t, 529, w.Code)

		var body models.AnthropicErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, models.AnthropicErrOverloaded, body.Error.Type)
	})

	t.Run("missing tenant rejects in the Anthropic envelope", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
		w := httptest.NewRecorder()

		handler.HandleMessages(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var body models.AnthropicErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "error", body.Type)
		assert.Equal(t, models.AnthropicErrAuthentication, body.Error.Type)
	})
}

func TestHandleEmbeddings(t *testing.T) {
	mockService := new(MockGatewayService)
	handler := NewGatewayHandler(mockService, zap.NewNop())

	mockService.On("Embeddings", mock.Anything, "tenant-a", mock.Anything).
		Return(&models.OpenAIEmbeddingsResponse{
			Object: "list",
			Data:   []models.OpenAIEmbedding{{Object: "embedding", Embedding: []float64{0.1}}},
			Model:  "nomic-embed-text",
		}, router.Decision{}, nil)

	body, _ := json.Marshal(models.OpenAIEmbeddingsRequest{
		Model: "nomic-embed-text",
		Input: []string{"hello"},
	})
	req := authedRequest(http.MethodPost, "/v1/embeddings", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.HandleEmbeddings(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.OpenAIEmbeddingsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "list", response.Object)
	assert.Len(t, response.Data, 1)
}

func TestHandleSpeech(t *testing.T) {
	mockService := new(MockGatewayService)
	handler := NewGatewayHandler(mockService, zap.NewNop())

	audio := []byte{0x52, 0x49, 0x46, 0x46}
	mockService.On("Speech", mock.Anything, "tenant-a", mock.MatchedBy(func(req *adapters.SpeechRequest) bool {
		return req.Input == "hola" && req.Voice == "nova"
	})).Return(&adapters.SpeechResult{
		Audio:       audio,
		ContentType: "audio/wav",
	}, router.Decision{}, nil)

	body, _ := json.Marshal(adapters.SpeechRequest{Input: "hola", Voice: "nova"})
	req := authedRequest(http.MethodPost, "/v1/audio/speech", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.HandleSpeech(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.Equal(t, audio, w.Body.Bytes())
}

func TestHandleTranscription(t *testing.T) {
	logger := zap.NewNop()

	t.Run("multipart upload", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		mockService.On("Transcription", mock.Anything, "tenant-a", mock.MatchedBy(func(req *adapters.TranscriptionRequest) bool {
			return req.Filename == "clip.wav" && string(req.Audio) == "RIFFdata" && req.Model == "whisper-large-v3"
		})).Return(&adapters.TranscriptionResult{Text: "hola mundo", DurationSeconds: 1.5}, router.Decision{}, nil)

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", "clip.wav")
		require.NoError(t, err)
		_, err = part.Write([]byte("RIFFdata"))
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("model", "whisper-large-v3"))
		require.NoError(t, mw.Close())

		req := authedRequest(http.MethodPost, "/v1/audio/transcriptions", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()

		handler.HandleTranscription(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response transcriptionResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "hola mundo", response.Text)
		assert.Equal(t, 1.5, response.Duration)
	})

	t.Run("missing file field", func(t *testing.T) {
		mockService := new(MockGatewayService)
		handler := NewGatewayHandler(mockService, logger)

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("model", "whisper-large-v3"))
		require.NoError(t, mw.Close())

		req := authedRequest(http.MethodPost, "/v1/audio/transcriptions", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()

		handler.HandleTranscription(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "Transcription")
	})
}

func TestHandleImages(t *testing.T) {
	mockService := new(MockGatewayService)
	handler := NewGatewayHandler(mockService, zap.NewNop())

	mockService.On("Images", mock.Anything, "tenant-a", mock.MatchedBy(func(req *adapters.ImageRequest) bool {
		return req.Prompt == "a lighthouse at dusk"
	})).Return(&adapters.ImageResult{
		Images: []adapters.GeneratedImage{{URL: "https://img.example/1.png"}},
	}, router.Decision{}, nil)

	body, _ := json.Marshal(adapters.ImageRequest{Prompt: "a lighthouse at dusk"})
	req := authedRequest(http.MethodPost, "/v1/images/generations", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.HandleImages(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response imagesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.NotZero(t, response.Created)
	require.Len(t, response.Data, 1)
	assert.Equal(t, "https://img.example/1.png", response.Data[0].URL)
}
