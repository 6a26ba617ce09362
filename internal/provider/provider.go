// Package provider talks to hosted language models. Providers speak a chat
// protocol; Generator narrows one down to single-prompt text generation.
package provider

import (
	"context"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// Provider is the abstraction over LLM APIs.
type Provider interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	Name() string
}

// Provider types accepted in configuration.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"
