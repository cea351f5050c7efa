// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/model"
)

// Configuration constants.
const (
	// DefaultBaseURL is where the bundled server listens by default.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout bounds the non-streaming calls.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps the JSON bodies read by the client.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; the request context ends it.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
}

type modelsResponse struct {
	Models []string `json:"models"`
}

type exportRequest struct {
	Dialogue *model.Conversation `json:"dialogue"`
}

type exportResponse struct {
	URL string `json:"url"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat backend.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       zerolog.Logger
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		logger:       zerolog.Nop(),
	}
}

// WithTimeout sets the timeout of non-streaming calls.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.httpClient = &http.Client{Transport: sharedHTTPClient.Transport, Timeout: d}
	}
	return c
}

// WithHTTPClient replaces both underlying clients, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.logger = l
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Models lists the backend's models. An empty list is ErrNoModels.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, &TransportError{Op: "models", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	var out modelsResponse
	if err := c.doJSON(req, "models", &out); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return nil, ErrNoModels
	}
	c.logger.Debug().Int("count", len(models)).Msg("MODELS_LOADED")
	return models, nil
}

// OpenChat starts a streaming chat request and returns the event-stream
// body. The caller owns the body and must close it; cancelling ctx also
// aborts the read.
func (c *Client) OpenChat(ctx context.Context, chat ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(chat)
	if err != nil {
		return nil, &TransportError{Op: "chat", Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "chat", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "chat", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.statusError("chat", resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &TransportError{Op: "chat", Status: resp.StatusCode, Err: ErrNoBody}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		c.logger.Debug().Str("content_type", ct).Msg("CHAT_UNEXPECTED_CONTENT_TYPE")
	}
	return resp.Body, nil
}

// Export publishes conv and returns the share link.
func (c *Client) Export(ctx context.Context, conv *model.Conversation) (string, error) {
	body, err := json.Marshal(exportRequest{Dialogue: conv})
	if err != nil {
		return "", &TransportError{Op: "export", Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/export", bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Op: "export", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var out exportResponse
	if err := c.doJSON(req, "export", &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", ErrNoURL
	}
	return out.URL, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(op, resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}

func (c *Client) statusError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	e := &TransportError{Op: op, Status: resp.StatusCode, Message: errorMessage(data)}
	c.logger.Warn().Str("op", op).Int("status", resp.StatusCode).Str("message", e.Message).Msg("BACKEND_ERROR")
	return e
}
