// Package provider abstracts the chat-completions backend. The tutoring
// turn path must never fail because the model did: Complete always returns
// a usable string, falling back to a local simulation when the API is
// unreachable or unconfigured.
package provider

import (
	"context"
	"errors"

	"github.com/mentora-ai/mentora/config"
	openai_provider "github.com/mentora-ai/mentora/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai" // any OpenAI-compatible endpoint (Groq, Ollama, ...)
)

// Message is one chat message in OpenAI wire format.
type Message = openai_provider.Message

// Provider is the interface all LLM implementations satisfy.
type Provider interface {
	// Complete returns the assistant reply for the conversation. It never
	// returns an error; failures yield fallback text.
	Complete(ctx context.Context, messages []Message) string
}

// NewProvider creates an LLM client from config.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Type) {
	case OpenAI, "":
		return openai_provider.NewClient(
			cfg.APIKey,
			cfg.BaseURL,
			cfg.Model,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.Timeout,
		), nil
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
