package veo

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digkill/TGVideoBot/internal/config"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.Config{
		VeoAPIKey:  "key-1",
		VeoBaseURL: baseURL,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/veo/generate" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Error("auth header missing")
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["model"] != "veo3_fast" || req["aspectRatio"] != "16:9" {
			t.Errorf("request = %v", req)
		}
		if _, ok := req["imageUrls"].([]any); !ok {
			t.Error("imageUrls must always be a JSON array")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"msg":  "success",
			"data": map[string]any{"taskId": "task-777"},
		})
	}))
	defer srv.Close()

	taskID, err := testClient(t, srv.URL).CreateTask(context.Background(), GenerateRequest{
		Prompt:      "a cat surfing",
		Model:       "veo3_fast",
		AspectRatio: "16:9",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if taskID != "task-777" {
		t.Errorf("task id = %q", taskID)
	}
}

func TestCreateTaskProviderCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 402,
			"msg":  "insufficient credits",
		})
	}))
	defer srv.Close()

	if _, err := testClient(t, srv.URL).CreateTask(context.Background(), GenerateRequest{Prompt: "x", Model: "veo3"}); err == nil {
		t.Fatal("non-200 envelope code must be an error")
	}
}

func TestGetStatusRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/veo/record-info" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("taskId") != "task-777" {
			t.Errorf("taskId = %q", r.URL.Query().Get("taskId"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{"taskId": "task-777", "errorCode": 0},
		})
	}))
	defer srv.Close()

	status, err := testClient(t, srv.URL).GetStatus(context.Background(), "task-777")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Done() || status.Failed() {
		t.Errorf("running task reported terminal: %+v", status)
	}
}

func TestGetStatusDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"taskId":    "task-777",
				"errorCode": 0,
				"response":  map[string]any{"resultUrls": []string{"https://cdn.example/v.mp4"}},
			},
		})
	}))
	defer srv.Close()

	status, err := testClient(t, srv.URL).GetStatus(context.Background(), "task-777")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !status.Done() || status.Failed() {
		t.Errorf("finished task not reported done: %+v", status)
	}
	if status.ResultURLs[0] != "https://cdn.example/v.mp4" {
		t.Errorf("result urls = %v", status.ResultURLs)
	}
}

func TestGetStatusFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"taskId":       "task-777",
				"errorCode":    501,
				"errorMessage": "content policy violation",
			},
		})
	}))
	defer srv.Close()

	status, err := testClient(t, srv.URL).GetStatus(context.Background(), "task-777")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if !status.Failed() || status.Done() {
		t.Errorf("failed task not reported failed: %+v", status)
	}
	if status.ErrorMessage != "content policy violation" {
		t.Errorf("error message = %q", status.ErrorMessage)
	}
}
