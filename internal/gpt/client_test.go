package gpt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digkill/TGVideoBot/internal/config"
)

func testClient(baseURL, adapterModel string) *Client {
	return NewClient(config.Config{
		GPTAPIKey:          "key-1",
		GPTBaseURL:         baseURL,
		GPTChatModel:       "gpt-4o-mini",
		GPTTranscribeModel: "whisper-1",
		PromptAdapterModel: adapterModel,
	})
}

func TestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Error("auth header missing")
		}
		var req struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0]["role"] != "user" {
			t.Errorf("messages = %v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "blue because of scattering"}},
			},
		})
	}))
	defer srv.Close()

	answer, err := testClient(srv.URL, "").Ask(context.Background(), "why is the sky blue")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "blue because of scattering" {
		t.Errorf("answer = %q", answer)
	}
}

func TestAskNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL, "").Ask(context.Background(), "x"); err == nil {
		t.Fatal("empty choices must be an error")
	}
}

func TestAdaptPromptPassThrough(t *testing.T) {
	// No adapter model configured: the prompt must pass through without a
	// single HTTP call.
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected request with adapter disabled")
	}))
	defer srv.Close()

	got, err := testClient(srv.URL, "").AdaptPrompt(context.Background(), "a cat surfing")
	if err != nil {
		t.Fatalf("AdaptPrompt: %v", err)
	}
	if got != "a cat surfing" {
		t.Errorf("prompt = %q, want pass-through", got)
	}
}

func TestAdaptPromptUsesAdapterModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string              `json:"model"`
			Messages []map[string]string `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("model = %q, want adapter model", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0]["role"] != "system" {
			t.Errorf("adapter call must carry a system prompt: %v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "cinematic wide shot of a cat surfing"}},
			},
		})
	}))
	defer srv.Close()

	got, err := testClient(srv.URL, "gpt-4o").AdaptPrompt(context.Background(), "a cat surfing")
	if err != nil {
		t.Fatalf("AdaptPrompt: %v", err)
	}
	if got != "cinematic wide shot of a cat surfing" {
		t.Errorf("adapted prompt = %q", got)
	}
}

func TestAdaptPromptEmptyAnswerFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "   "}},
			},
		})
	}))
	defer srv.Close()

	got, err := testClient(srv.URL, "gpt-4o").AdaptPrompt(context.Background(), "a dog in rain")
	if err != nil {
		t.Fatalf("AdaptPrompt: %v", err)
	}
	if got != "a dog in rain" {
		t.Errorf("blank adaptation must fall back to the raw prompt, got %q", got)
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("model = %q", r.FormValue("model"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "voice.ogg" {
			t.Errorf("filename = %q", header.Filename)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "a cat surfing at sunset"})
	}))
	defer srv.Close()

	text, err := testClient(srv.URL, "").Transcribe(context.Background(), []byte("oggdata"), "voice.ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "a cat surfing at sunset" {
		t.Errorf("text = %q", text)
	}
}
