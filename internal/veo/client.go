package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/TGVideoBot/internal/config"
)

// Client talks to the video generation API. Task creation and status
// checks are separate calls: the generation poller owns the waiting, so
// there is no in-call polling loop here.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type GenerateRequest struct {
	Prompt      string
	ImageURLs   []string
	Model       string
	AspectRatio string
}

// TaskStatus mirrors the provider's record-info payload: a non-zero error
// code means the task failed, a populated result means it finished.
type TaskStatus struct {
	ErrorCode    int
	ErrorMessage string
	ResultURLs   []string
}

func (s *TaskStatus) Failed() bool {
	return s.ErrorCode != 0
}

func (s *TaskStatus) Done() bool {
	return len(s.ResultURLs) > 0
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		apiKey:  cfg.VeoAPIKey,
		baseURL: strings.TrimRight(cfg.VeoBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// CreateTask submits a generation job and returns the provider task id.
func (c *Client) CreateTask(ctx context.Context, req GenerateRequest) (string, error) {
	imageURLs := req.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}
	payload := map[string]any{
		"prompt":      req.Prompt,
		"imageUrls":   imageURLs,
		"model":       req.Model,
		"aspectRatio": req.AspectRatio,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/veo/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("post generate: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("veo generate failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return "", fmt.Errorf("veo error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode generate response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != 200 {
		return "", fmt.Errorf("generate failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	c.log.Info("veo task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, nil
}

// GetStatus fetches the current state of a previously created task.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	params := url.Values{}
	params.Set("taskId", taskID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/veo/record-info?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get task status: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("veo status failed", "status", resp.StatusCode, "task_id", taskID, "body", truncateBody(rawBody))
		return nil, fmt.Errorf("veo error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var statusResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID       string `json:"taskId"`
			ErrorCode    int    `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
			Response     *struct {
				ResultURLs []string `json:"resultUrls"`
			} `json:"response"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &statusResp); err != nil {
		return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if statusResp.Code != 200 {
		return nil, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
	}

	status := &TaskStatus{
		ErrorCode:    statusResp.Data.ErrorCode,
		ErrorMessage: statusResp.Data.ErrorMessage,
	}
	if statusResp.Data.Response != nil {
		status.ResultURLs = statusResp.Data.Response.ResultURLs
	}
	return status, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
