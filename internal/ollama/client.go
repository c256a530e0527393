// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for Ollama-compatible chat backends.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultBaseURL uses an explicit IPv4 address to avoid IPv6 localhost resolution issues.
const DefaultBaseURL = "http://127.0.0.1:11434"

// ClientConfig holds configuration options for the client.
type ClientConfig struct {
	// BaseURL is the API base URL (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 60s). Streaming requests
	// have no timeout; they end when the context is cancelled.
	Timeout time.Duration

	// AuthToken is sent as a bearer token when set.
	AuthToken string

	// Limiter throttles outgoing requests when set.
	Limiter *rate.Limiter

	// UserAgent header value.
	UserAgent string

	// HTTPClient overrides the transport used for all requests (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:   DefaultBaseURL,
		Timeout:   60 * time.Second,
		UserAgent: "rigchat/1.0",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to an Ollama-compatible API. It is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "rigchat/1.0"
	}

	c := &Client{config: config}
	if config.HTTPClient != nil {
		c.httpClient = config.HTTPClient
		c.streamClient = config.HTTPClient
	} else {
		c.httpClient = &http.Client{Timeout: config.Timeout}
		c.streamClient = &http.Client{}
	}
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &ChatError{Kind: KindUnknown, Message: "failed to marshal request", Cause: err}
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, r)
	if err != nil {
		return nil, &ChatError{Kind: KindNetwork, Message: "failed to create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}
	return req, nil
}

// send waits on the limiter, performs the request, and converts non-2xx
// responses into a ChatError. The caller closes the body on success.
func (c *Client) send(client *http.Client, req *http.Request) (*http.Response, error) {
	if c.config.Limiter != nil {
		if err := c.config.Limiter.Wait(req.Context()); err != nil {
			return nil, &ChatError{Kind: KindNetwork, Message: "rate limiter", Cause: err}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ChatError{Kind: KindNetwork, Message: err.Error(), Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, parseErrorBody(resp.StatusCode, body)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.send(c.httpClient, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ChatError{Kind: KindParseFail, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that the backend is reachable.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	resp, err := c.send(c.httpClient, req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.getJSON(ctx, http.MethodGet, "/api/tags", nil, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// RunningModels lists the models currently loaded in memory (/api/ps).
func (c *Client) RunningModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.getJSON(ctx, http.MethodGet, "/api/ps", nil, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// Show retrieves details and capabilities of a model.
func (c *Client) Show(ctx context.Context, model string) (*ShowModelResponse, error) {
	var result ShowModelResponse
	if err := c.getJSON(ctx, http.MethodPost, "/api/show", ShowModelRequest{Model: model}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Load asks the backend to load a model into memory by sending a chat
// request with no messages.
func (c *Client) Load(ctx context.Context, model, keepAlive string) error {
	var result ChatResponse
	req := ChatRequest{Model: model, Messages: []Message{}, KeepAlive: keepAlive}
	return c.getJSON(ctx, http.MethodPost, "/api/chat", req, &result)
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// Complete sends a non-streaming chat request and returns the full response.
// Set req.Format to constrain the output to a JSON schema.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	var result ChatResponse
	if err := c.getJSON(ctx, http.MethodPost, "/api/chat", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChatStream returns a stream for a streaming chat request. No request is
// made until the first call to Next.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) *ChatStream {
	req.Stream = true
	return &ChatStream{
		ctx: ctx,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat", req)
			if err != nil {
				return nil, err
			}
			resp, err := c.send(c.streamClient, httpReq)
			if err != nil {
				return nil, err
			}
			if resp.Body == nil || resp.Body == http.NoBody {
				return nil, &ChatError{Kind: KindNoResponseBody, Message: "response has no body", Status: resp.StatusCode}
			}
			return resp.Body, nil
		},
	}
}
