package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// Generator adapts a chat Provider to single-prompt text generation. Each
// prompt is sent as one user message with no history.
type Generator struct {
	Provider    Provider
	Model       string
	MaxTokens   int
	Temperature float64

	mu    sync.Mutex
	usage protocol.Usage
	calls int
}

// NewGenerator wraps p with the provider's default model.
func NewGenerator(p Provider) *Generator {
	return &Generator{Provider: p}
}

// Generate returns the provider's reply to prompt. A blank reply is an error:
// callers always need some text to act on.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.Provider.Chat(ctx, protocol.ChatRequest{
		Model:       g.Model,
		Messages:    []protocol.ChatMessage{{Role: protocol.RoleUser, Content: prompt}},
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.Provider.Name(), err)
	}

	g.mu.Lock()
	g.usage = g.usage.Add(resp.Usage)
	g.calls++
	g.mu.Unlock()

	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%s: empty response", g.Provider.Name())
	}
	return resp.Content, nil
}

// Usage returns the accumulated token usage and number of successful calls.
func (g *Generator) Usage() (protocol.Usage, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage, g.calls
}
