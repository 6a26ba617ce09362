// Package intake accepts tickets pushed by external helpdesk systems over
// signed webhooks.
package intake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/h1v3-io/triage/internal/pipeline"
	"github.com/h1v3-io/triage/pkg/protocol"
)

// SubmitFunc runs one ticket to completion.
type SubmitFunc func(ctx context.Context, t pipeline.Ticket) (*protocol.Run, error)

// Source holds per-source webhook authentication.
type Source struct {
	// Secret for HMAC-SHA256 signature verification (X-Hub-Signature-256
	// or X-Signature-256 header). If empty, Bearer auth is used instead.
	Secret string `yaml:"secret"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `yaml:"bearer_token"`
}

// Payload is the expected JSON body for webhook requests.
type Payload struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	ExternalID  string `json:"external_id,omitempty"` // ticket ID in the sending system
}

// Response is returned for every accepted ticket.
type Response struct {
	Status     string        `json:"status"`
	Source     string        `json:"source"`
	ExternalID string        `json:"external_id,omitempty"`
	Run        *protocol.Run `json:"run"`
}

// Handler serves POST /api/webhook/{source}.
type Handler struct {
	sources map[string]Source
	submit  SubmitFunc
	logger  *slog.Logger
}

// New creates a webhook handler for the given sources.
func New(sources map[string]Source, submit SubmitFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sources: sources,
		submit:  submit,
		logger:  logger,
	}
}

// ServeHTTP handles webhook requests at /api/webhook/{source}. The ticket
// is triaged synchronously and the finished run is returned.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := extractName(r.URL.Path)
	if name == "" || name == "webhook" {
		http.Error(w, "missing source name in path", http.StatusBadRequest)
		return
	}

	source, ok := h.sources[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown webhook source: %s", name), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !authenticate(r, source, body) {
		h.logger.Warn("webhook rejected", "source", name)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	h.logger.Info("webhook ticket received", "source", name, "external_id", payload.ExternalID)

	run, err := h.submit(r.Context(), pipeline.Ticket{
		Subject:     payload.Subject,
		Description: payload.Description,
	})
	if errors.Is(err, pipeline.ErrInvalidTicket) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("webhook ticket failed",
			"source", name,
			"external_id", payload.ExternalID,
			"error", err,
		)
		http.Error(w, "triage failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{
		Status:     "ok",
		Source:     name,
		ExternalID: payload.ExternalID,
		Run:        run,
	})
}

func authenticate(r *http.Request, source Source, body []byte) bool {
	if source.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Signature-256")
		}
		return verifyHMAC(body, source.Secret, sig)
	}

	if source.BearerToken != "" {
		return r.Header.Get("Authorization") == "Bearer "+source.BearerToken
	}

	// No auth configured: allow (local development)
	return true
}

// verifyHMAC checks an HMAC-SHA256 signature of the form "sha256=<hex>".
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	expectedMAC, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expectedMAC)
}

// extractName gets the last path segment from /api/webhook/{source}.
func extractName(path string) string {
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	return parts[len(parts)-1]
}

// ComputeSignature returns the signature header value a sender must attach.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
