// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/streamchat/internal/model"
)

// Upstream generates completions. Stream calls emit for every content
// delta in order and returns when the completion ends.
type Upstream interface {
	Stream(ctx context.Context, modelName string, messages []model.Message, emit func(token string) error) error
}

// UpstreamError is a provider failure with the status to report.
type UpstreamError struct {
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream error (status %d): %s", e.Status, e.Message)
	}
	return "upstream error: " + e.Message
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// OPENAI-COMPATIBLE UPSTREAM
// =============================================================================

// OpenAIUpstream streams from any OpenAI-compatible chat completions API.
type OpenAIUpstream struct {
	client *openai.Client
}

// NewOpenAIUpstream creates an upstream for baseURL authenticated by key.
func NewOpenAIUpstream(baseURL, key string) *OpenAIUpstream {
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIUpstream{client: openai.NewClientWithConfig(cfg)}
}

// Stream implements Upstream.
func (u *OpenAIUpstream) Stream(ctx context.Context, modelName string, messages []model.Message, emit func(string) error) error {
	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
		Stream:   true,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	stream, err := u.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return toUpstreamError(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return toUpstreamError(err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := emit(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

// toUpstreamError maps provider errors onto a status and message.
func toUpstreamError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &UpstreamError{Status: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return &UpstreamError{Status: http.StatusBadGateway, Message: err.Error(), Err: err}
}
