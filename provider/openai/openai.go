package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// client talks to any OpenAI-compatible chat-completions endpoint.
type client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *log.Logger
}

// request represents a request to the completions API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a response from the completions API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewClient creates a chat-completions client. An empty baseURL targets the
// OpenAI API; point it elsewhere for Groq, Ollama or a local gateway.
func NewClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration) *client {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	}
}

// Complete returns the assistant reply for the conversation. Any failure
// (no key, transport error, bad payload) degrades to simulation text so the
// tutoring turn still completes.
func (c *client) Complete(ctx context.Context, messages []Message) string {
	if c.apiKey == "" {
		return simulate("sem chave de API configurada", messages)
	}

	body, err := json.Marshal(request{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		c.logger.Printf("marshal failed: %v", err)
		return simulate(err.Error(), messages)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(body))
	if err != nil {
		c.logger.Printf("request build failed: %v", err)
		return simulate(err.Error(), messages)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Printf("call failed: %v", err)
		return simulate(err.Error(), messages)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Printf("API returned status %d: %s", resp.StatusCode, payload)
		return simulate(fmt.Sprintf("status %d", resp.StatusCode), messages)
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Printf("decode failed: %v", err)
		return simulate(err.Error(), messages)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return simulate("modelo não retornou conteúdo", messages)
	}
	return parsed.Choices[0].Message.Content
}

// simulate builds the local fallback reply: it names the failure and echoes
// the last user message so a developer can see what would have been sent.
func simulate(reason string, messages []Message) string {
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = messages[i].Content
			break
		}
	}
	var b strings.Builder
	b.WriteString("[SIMULAÇÃO LLM] ")
	b.WriteString(reason)
	if last != "" {
		b.WriteString("\nÚltima mensagem: ")
		b.WriteString(last)
	}
	return b.String()
}
