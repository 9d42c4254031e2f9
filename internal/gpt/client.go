package gpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/TGVideoBot/internal/config"
)

// Client wraps an OpenAI-compatible API: chat completions for the free
// chat feature and prompt adaptation, audio transcription for voice
// prompts.
type Client struct {
	apiKey          string
	baseURL         string
	chatModel       string
	transcribeModel string
	adapterModel    string
	httpClient      *http.Client
}

func NewClient(cfg config.Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		apiKey:          cfg.GPTAPIKey,
		baseURL:         strings.TrimRight(cfg.GPTBaseURL, "/"),
		chatModel:       cfg.GPTChatModel,
		transcribeModel: cfg.GPTTranscribeModel,
		adapterModel:    cfg.PromptAdapterModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ask sends a single-turn chat completion and returns the answer text.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	return c.complete(ctx, c.chatModel, "", question)
}

const adapterSystemPrompt = `You rewrite short user ideas into rich, cinematic video generation prompts. Keep the user's intent, add camera, lighting and motion details. Answer with the prompt only.`

// AdaptPrompt rewrites the raw user prompt for video generation. When no
// adapter model is configured the prompt passes through unchanged.
func (c *Client) AdaptPrompt(ctx context.Context, userPrompt string) (string, error) {
	if c.adapterModel == "" {
		return userPrompt, nil
	}
	adapted, err := c.complete(ctx, c.adapterModel, adapterSystemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(adapted) == "" {
		return userPrompt, nil
	}
	return adapted, nil
}

func (c *Client) complete(ctx context.Context, model, system, user string) (string, error) {
	messages := []map[string]string{}
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": user})

	payload := map[string]any{
		"model":    model,
		"messages": messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat completion error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Transcribe converts a voice recording into text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := writer.WriteField("model", c.transcribeModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return parsed.Text, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
