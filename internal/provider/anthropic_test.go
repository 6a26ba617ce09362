package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// anthropicServer answers every request with text and records the last request.
func anthropicServer(t *testing.T, text string, captured *anthropicRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			json.NewDecoder(r.Body).Decode(captured)
		}
		resp := anthropicResponse{
			Content:    []contentBlock{{Type: "text", Text: text}},
			Usage:      anthropicUsage{InputTokens: 5, OutputTokens: 2},
			StopReason: "end_turn",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicChat_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Error("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Error("missing anthropic-version header")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Error("missing content-type")
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "claude-sonnet-4-20250514" {
			t.Errorf("expected default model, got %s", req.Model)
		}
		if req.MaxTokens != 4096 {
			t.Errorf("expected default max_tokens 4096, got %d", req.MaxTokens)
		}
		if len(req.Messages) != 1 {
			t.Fatalf("expected 1 message, got %d", len(req.Messages))
		}

		resp := anthropicResponse{
			Content: []contentBlock{
				{Type: "text", Text: "Approved"},
				{Type: "text", Text: " - clear and polite."},
			},
			Usage: anthropicUsage{InputTokens: 10, OutputTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	got, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: protocol.RoleUser, Content: "Review this draft"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "Approved - clear and polite." {
		t.Errorf("expected concatenated text blocks, got %q", got.Content)
	}
	if got.Usage.PromptTokens != 10 {
		t.Errorf("expected 10 prompt tokens, got %d", got.Usage.PromptTokens)
	}
	if got.Usage.CompletionTokens != 5 {
		t.Errorf("expected 5 completion tokens, got %d", got.Usage.CompletionTokens)
	}
}

func TestAnthropicChat_SystemPrompt(t *testing.T) {
	var capturedReq anthropicRequest
	srv := anthropicServer(t, "OK", &capturedReq)

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	_, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{
			{Role: protocol.RoleSystem, Content: "You are a support quality checker."},
			{Role: protocol.RoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedReq.System != "You are a support quality checker." {
		t.Errorf("system = %q", capturedReq.System)
	}
	// System message should NOT appear in messages array
	if len(capturedReq.Messages) != 1 {
		t.Fatalf("expected 1 message (system extracted), got %d", len(capturedReq.Messages))
	}
}

func TestAnthropicChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer srv.Close()

	p := NewAnthropic("test-key", WithAnthropicBaseURL(srv.URL))

	_, err := p.Chat(context.Background(), protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: protocol.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 429 status")
	}
}

func TestAnthropicChat_ModelSelection(t *testing.T) {
	tests := []struct {
		name      string
		opts      []AnthropicOption
		reqModel  string
		wantModel string
	}{
		{name: "default", wantModel: "claude-sonnet-4-20250514"},
		{name: "option", opts: []AnthropicOption{WithAnthropicModel("claude-haiku-4-5-20251001")}, wantModel: "claude-haiku-4-5-20251001"},
		{name: "request override", reqModel: "claude-opus-4-20250514", wantModel: "claude-opus-4-20250514"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedReq anthropicRequest
			srv := anthropicServer(t, "OK", &capturedReq)

			opts := append([]AnthropicOption{WithAnthropicBaseURL(srv.URL)}, tt.opts...)
			p := NewAnthropic("test-key", opts...)

			_, err := p.Chat(context.Background(), protocol.ChatRequest{
				Model:    tt.reqModel,
				Messages: []protocol.ChatMessage{{Role: protocol.RoleUser, Content: "Hi"}},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if capturedReq.Model != tt.wantModel {
				t.Errorf("model = %q, want %q", capturedReq.Model, tt.wantModel)
			}
		})
	}
}

func TestAnthropicProviderName(t *testing.T) {
	p := NewAnthropic("test-key")
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestToAnthropicMessages_MultipleSystemMessages(t *testing.T) {
	system, msgs := toAnthropicMessages([]protocol.ChatMessage{
		{Role: protocol.RoleSystem, Content: "First system."},
		{Role: protocol.RoleSystem, Content: "Second system."},
		{Role: protocol.RoleUser, Content: "Hi"},
	})

	if system != "First system.\n\nSecond system." {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 message, got %d", len(msgs))
	}
}
