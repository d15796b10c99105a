// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the chat-completions client for the hosted provider.
//
// The client speaks the OpenAI-compatible chat completions protocol. The
// default target is Groq.
//
// CLOUD: Secure logging, bounded reads, no retries
package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/chatterm/internal/model"
)

// Configuration defaults for the provider.
const (
	// DefaultEndpoint is Groq's chat completions URL.
	DefaultEndpoint = "https://api.groq.com/openai/v1/chat/completions"

	// DefaultModel is the model requested when none is configured.
	DefaultModel = "llama-3.1-8b-instant"

	DefaultTemperature = 0.8
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 1500

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// DefaultKeyEnv names the environment variable holding the API key.
	DefaultKeyEnv = "GROQ_API_KEY"
)

// DefaultSystemPrompt sets the assistant's tone and formatting.
const DefaultSystemPrompt = "You are a helpful, friendly, and knowledgeable AI assistant. \n" +
	"Your responses should be:\n" +
	"- Clear and well-formatted with proper line breaks for readability\n" +
	"- Conversational and natural, as if chatting with a friend\n" +
	"- Concise but comprehensive - provide enough detail without being verbose\n" +
	"- Use bullet points or line breaks when listing items or explaining steps\n" +
	"- Empathetic and understanding\n" +
	"- Accurate and helpful\n" +
	"\n" +
	"Format your responses with proper spacing and structure for better readability."

// Config holds the static request parameters.
type Config struct {
	Endpoint     string
	Model        string
	Temperature  float64
	TopP         float64
	MaxTokens    int
	SystemPrompt string
}

// DefaultConfig returns the Groq defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:     DefaultEndpoint,
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
		MaxTokens:    DefaultMaxTokens,
		SystemPrompt: DefaultSystemPrompt,
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a single message in a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body POSTed to the endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
}

// chatResponse keeps content as a pointer so a missing field can be told
// apart from an empty reply.
type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Completer requests a single reply for a user message given prior history.
type Completer interface {
	Complete(ctx context.Context, userMessage string, history []model.Message) (string, error)
}

// Client is a Completer backed by an HTTP endpoint. It is safe for
// concurrent use; each call builds its own request.
type Client struct {
	apiKey     string
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	keyEnv     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithKeyEnv names the variable the key was expected in, for the missing
// key message.
func WithKeyEnv(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.keyEnv = name
		}
	}
}

// NewClient creates a client. An empty apiKey is allowed; Complete then
// fails with a ConfigError without touching the network.
func NewClient(apiKey string, cfg Config, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		cfg:        cfg,
		httpClient: http.DefaultClient,
		logger:     log.Logger,
		keyEnv:     DefaultKeyEnv,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "cloud").Logger()
	return c
}

// Config returns the request parameters.
func (c *Client) Config() Config {
	return c.cfg
}

// IsConfigured returns true if the client has an API key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the key for
// diagnostics.
// SECURITY: Never exposes key material.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// APIKeyMasked returns a display form of the key.
func (c *Client) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.KeyFingerprint())
}

// BuildMessages assembles the request messages: the system prompt, the
// usable history in order, then the new user message.
func BuildMessages(systemPrompt, userMessage string, history []model.Message) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(history)+2)
	msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	for _, m := range history {
		if !m.HasContext() {
			continue
		}
		role := RoleUser
		if m.Sender == model.SenderAssistant {
			role = RoleAssistant
		}
		msgs = append(msgs, ChatMessage{Role: role, Content: m.Content})
	}
	return append(msgs, ChatMessage{Role: RoleUser, Content: userMessage})
}

// Complete sends one request and returns the trimmed reply text. It never
// retries.
func (c *Client) Complete(ctx context.Context, userMessage string, history []model.Message) (string, error) {
	if !c.IsConfigured() {
		return "", &ConfigError{
			Message: fmt.Sprintf("API key not found. Please set %s in your environment or .env file.", c.keyEnv),
		}
	}

	reqBody := ChatRequest{
		Model:       c.cfg.Model,
		Messages:    BuildMessages(c.cfg.SystemPrompt, userMessage, history),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		TopP:        c.cfg.TopP,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", &NetworkError{Op: "create request", Err: err}
	}
	c.setHeaders(req)
	c.logRequest(req, len(reqBody.Messages))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	// SECURITY: Drop the credential before anything else can see the request.
	req.Header.Del("Authorization")
	if err != nil {
		return "", &NetworkError{Op: "request failed", Err: err}
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	body, err := readResponse(resp)
	if err != nil {
		return "", &NetworkError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", handleErrorResponse(resp.StatusCode, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", &FormatError{Reason: "invalid JSON", Err: err}
	}
	if len(chatResp.Choices) == 0 {
		return "", &FormatError{Reason: "no choices"}
	}
	msg := chatResp.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", &FormatError{Reason: "missing message content"}
	}
	return strings.TrimSpace(*msg.Content), nil
}

// setHeaders sets the required headers for API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// =============================================================================
// CLOUD: Request/Response Logging (without sensitive data)
// =============================================================================

// logRequest never logs headers or bodies.
func (c *Client) logRequest(req *http.Request, messages int) {
	c.logger.Debug().
		Str("method", req.Method).
		Str("host", req.URL.Host).
		Str("path", req.URL.Path).
		Str("model", c.cfg.Model).
		Int("messages", messages).
		Str("key", c.KeyFingerprint()).
		Msg("completion request")
}

func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("completion response")
}

// readResponse reads the response body with size limits to prevent memory
// exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts a non-2xx response to a ProviderError. The
// provider's own message is used when the body carries one.
func handleErrorResponse(status int, body []byte) error {
	pe := &ProviderError{
		Status:  status,
		Message: fmt.Sprintf("API request failed with status %d", status),
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Error.Message != "" {
			pe.Message = apiErr.Error.Message
		}
		pe.Type = apiErr.Error.Type
		pe.Code = rawCode(apiErr.Error.Code)
	}
	return pe
}

// rawCode accepts string or numeric error codes.
func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
