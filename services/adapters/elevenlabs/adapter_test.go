package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services/adapters"
)

func TestNew(t *testing.T) {
	t.Run("requires an api key", func(t *testing.T) {
		if _, err := New(Config{}); err == nil {
			t.Error("Expected error for missing api key")
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		client, err := New(Config{APIKey: "xi-test"})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if client.Name() != "elevenlabs" {
			t.Errorf("Name() = %s", client.Name())
		}
		if client.config.CostPerThousandChars != 0.15 {
			t.Errorf("CostPerThousandChars = %f, want 0.15", client.config.CostPerThousandChars)
		}
	})
}

func TestClient_Capabilities(t *testing.T) {
	client, _ := New(Config{APIKey: "xi-test"})

	caps := client.Capabilities()
	if len(caps) != 1 || caps[0] != models.CapabilityTTS {
		t.Errorf("Capabilities() = %v, want [tts]", caps)
	}

	if err := adapters.ValidateCapabilities(client); err != nil {
		t.Errorf("ValidateCapabilities() error = %v", err)
	}
}

func TestClient_Synthesize(t *testing.T) {
	audio := []byte("mp3-bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/") {
			t.Errorf("Path = %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "xi-test" {
			t.Errorf("xi-api-key = %q", got)
		}

		var body map[string]any
		payload, _ := io.ReadAll(r.Body)
		json.Unmarshal(payload, &body)
		if body["text"] != "hello world" {
			t.Errorf("text = %v", body["text"])
		}
		if body["model_id"] != defaultModelID {
			t.Errorf("model_id = %v", body["model_id"])
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(audio)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "xi-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := client.Synthesize(context.Background(), &adapters.SpeechRequest{
		Input: "hello world",
	})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	if string(result.Audio) != string(audio) {
		t.Errorf("Audio = %q", result.Audio)
	}
	if result.ContentType != "audio/mpeg" {
		t.Errorf("ContentType = %s", result.ContentType)
	}

	// 11 characters at 0.15 per thousand
	wantCost := 11.0 / 1000.0 * 0.15
	if math.Abs(result.CostInfo.AmountUSD-wantCost) > 1e-12 {
		t.Errorf("Cost = %f, want %f", result.CostInfo.AmountUSD, wantCost)
	}
}

func TestClient_Synthesize_VoiceSelection(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("audio"))
	}))
	defer server.Close()

	client, _ := New(Config{APIKey: "xi-test", BaseURL: server.URL})

	t.Run("explicit voice", func(t *testing.T) {
		_, err := client.Synthesize(context.Background(), &adapters.SpeechRequest{
			Input: "hi",
			Voice: "custom-voice-9",
		})
		if err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}
		if gotPath != "/v1/text-to-speech/custom-voice-9" {
			t.Errorf("Path = %s", gotPath)
		}
	})

	t.Run("stock voice fallback", func(t *testing.T) {
		_, err := client.Synthesize(context.Background(), &adapters.SpeechRequest{Input: "hi"})
		if err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}
		if gotPath != "/v1/text-to-speech/"+defaultVoiceID {
			t.Errorf("Path = %s", gotPath)
		}
	})
}

func TestClient_Synthesize_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer server.Close()

	client, _ := New(Config{APIKey: "bad", BaseURL: server.URL})

	_, err := client.Synthesize(context.Background(), &adapters.SpeechRequest{Input: "hi"})
	perr, ok := err.(*adapters.ProviderError)
	if !ok {
		t.Fatalf("Expected ProviderError, got %T", err)
	}
	if perr.HTTPStatus != http.StatusUnauthorized {
		t.Errorf("HTTPStatus = %d, want 401", perr.HTTPStatus)
	}
	if perr.Message != "invalid api key" {
		t.Errorf("Message = %q", perr.Message)
	}
}
