package addetector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Valleeh/podcleaner/internal/config"
)

// ChatMessage is one turn of a chat-completion prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Classifier submits a prompt to a language model and returns the raw
// completion text.
type Classifier interface {
	Classify(ctx context.Context, messages []ChatMessage, temperature float64) (string, error)
}

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint.
// A custom BaseURL points it at local or proxy deployments.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIClient builds a client from the LLM configuration.
func NewOpenAIClient(cfg config.LLM) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.ModelName,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the prompt and returns the first choice's content.
func (c *OpenAIClient) Classify(ctx context.Context, messages []ChatMessage, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call chat completions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completions returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
