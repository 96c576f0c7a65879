// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the chat-completions client for the tutor
// pipeline.
//
// The provider speaks the common streaming chat API: POST to a completions
// endpoint with a bearer credential, response delivered as a line-delimited
// event stream terminated by a sentinel. This package owns the transport
// (holding the response body open) and the frame parser (reassembling frames
// across arbitrary chunk boundaries).
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Configuration constants for the provider API.
const (
	// DefaultBaseURL is the base URL for the chat-completions API.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTemperature is used when no temperature is configured.
	DefaultTemperature = 0.7

	// MaxErrorBodySize limits how much of an error response body is read.
	MaxErrorBodySize = 1 * 1024 * 1024
)

// sharedStreamingClient is used for streaming requests. No client timeout:
// the response body stays open for the whole exchange, lifetime is controlled
// via context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotConfigured indicates the API credential is not set. It is returned
// before any network request is attempted.
var ErrNotConfigured = errors.New("provider API key not configured")

// ProviderError represents an error response from the provider API.
type ProviderError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// StreamError represents an error that occurred mid-stream, preserving any
// partial content received before the failure.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// apiErrorResponse is the provider's error body shape.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the streaming chat-completions API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	timeout     time.Duration // per-request cap, 0 = no timeout
	httpClient  *http.Client
	log         zerolog.Logger
}

// NewClient creates a new provider client with the given API credential.
//
// An empty credential still yields a usable value; Stream requests will fail
// with ErrNotConfigured before any network I/O.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		apiKey:      strings.TrimSpace(apiKey),
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		temperature: DefaultTemperature,
		httpClient:  sharedStreamingClient,
		log:         log,
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	if url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	return c
}

// WithModel sets the model used for chat requests.
func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// WithTemperature sets the sampling temperature.
func (c *Client) WithTemperature(t float64) *Client {
	c.temperature = t
	return c
}

// WithTimeout caps the duration of a whole streaming request. Zero disables
// the cap, matching the behavior before timeouts existed.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// IsConfigured returns true if the client has an API credential.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.model
}

// setHeaders sets the required headers for streaming API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
}

// handleErrorResponse converts an HTTP error response to a ProviderError.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &ProviderError{
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
			Status:  statusCode,
		}
	}
	return &ProviderError{
		Message: strings.TrimSpace(string(body)),
		Status:  statusCode,
	}
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream performs a streaming chat completion request, invoking onDelta for
// each incremental content unit in arrival order. It returns when the stream
// terminates (sentinel or clean EOF), the context is cancelled, or the
// transport fails.
//
// A missing credential fails immediately with ErrNotConfigured, before any
// network request is attempted.
func (c *Client) Stream(ctx context.Context, messages []ChatMessage, onDelta func(string)) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reqBody := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		Temperature: c.temperature,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		// Sanitized inputs always marshal; treat a failure like a transport
		// fault rather than letting it escape as anything fancier.
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return c.handleErrorResponse(resp.StatusCode, body)
	}

	return c.consumeStream(ctx, resp.Body, onDelta)
}

// consumeStream drives the frame parser with raw chunks from the open
// response body until the sentinel, EOF, or cancellation.
func (c *Client) consumeStream(ctx context.Context, body io.Reader, onDelta func(string)) error {
	var received strings.Builder
	parser := NewFrameParser(func(delta string) {
		received.WriteString(delta)
		onDelta(delta)
	})
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			parser.Feed(string(buf[:n]))
			if parser.Done() {
				c.logSkips(parser)
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				// Any incomplete trailing frame is discarded: this protocol
				// terminates with a sentinel line, so a non-empty tail here
				// means a truncated connection, not valid data.
				parser.Close()
				c.logSkips(parser)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StreamError{Partial: received.String(), Err: err}
		}
	}
}

// logSkips surfaces the malformed-frame counter. Skipping is deliberate
// policy (availability over strict conformance); the log hook keeps it
// observable.
func (c *Client) logSkips(p *FrameParser) {
	if n := p.Skipped(); n > 0 {
		c.log.Warn().Int("frames", n).Msg("skipped malformed stream frames")
	}
}
