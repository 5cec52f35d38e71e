package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// ChatGenerator talks to any OpenAI-compatible /chat/completions endpoint.
type ChatGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client

	mu    sync.Mutex
	stats Stats
}

// Stats tracks generation usage.
type Stats struct {
	TotalCalls       int
	TotalInputChars  int
	TotalOutputChars int
}

// ChatMessage represents a message in the chat format
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request format for chat completions
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

// ChatResponse is the response format from chat completions
type ChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

var providers = map[string]struct {
	baseURL   string
	keyEnvVar string
}{
	"openai": {"https://api.openai.com/v1", "OPENAI_API_KEY"},
	"local":  {"http://localhost:11434/v1", ""},
}

// NewChatGenerator creates a client for the provider, or for baseURL when given.
func NewChatGenerator(provider, model, baseURL, apiKeyEnv string, timeout time.Duration) (*ChatGenerator, error) {
	p, ok := providers[provider]
	if !ok && baseURL == "" {
		return nil, fmt.Errorf("unknown provider: %s (set base_url for custom endpoints)", provider)
	}

	if baseURL == "" {
		baseURL = p.baseURL
	}
	if apiKeyEnv == "" {
		apiKeyEnv = p.keyEnvVar
	}

	var apiKey string
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
		if apiKey == "" && ok && p.keyEnvVar != "" {
			return nil, fmt.Errorf("API key not found. Set %s environment variable", apiKeyEnv)
		}
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &ChatGenerator{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Generate sends each system instruction as its own system message,
// followed by the user message.
func (c *ChatGenerator) Generate(ctx context.Context, system []string, user string) (string, error) {
	messages := make([]ChatMessage, 0, len(system)+1)
	for _, s := range system {
		messages = append(messages, ChatMessage{Role: "system", Content: s})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: user})
	return c.Chat(ctx, messages)
}

// Chat sends a chat completion request
func (c *ChatGenerator) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	inputChars := 0
	for _, msg := range messages {
		inputChars += len(msg.Content)
	}

	req := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.7,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	output := chatResp.Choices[0].Message.Content

	c.mu.Lock()
	c.stats.TotalCalls++
	c.stats.TotalInputChars += inputChars
	c.stats.TotalOutputChars += len(output)
	c.mu.Unlock()

	return output, nil
}

// GetStats returns the current usage statistics
func (c *ChatGenerator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *ChatGenerator) ModelName() string {
	return c.model
}
