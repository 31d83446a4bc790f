// Package ai provides the text completion collaborator used by chatbots.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	defaultModel   = "gpt-4o-mini"
	maxErrorBody   = 1024
)

var (
	ErrEmptyCompletion  = errors.New("completion returned no text")
	ErrCompletionFailed = errors.New("completion request failed")
)

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config configures an OpenAI compatible chat completions endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI compatible /chat/completions endpoint.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(logger *slog.Logger, config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	if config.Model == "" {
		config.Model = defaultModel
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: logger.With("module", "ai_client"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.config.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WarnContext(ctx, "Failed to close completion response body", "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return "", fmt.Errorf("%w: status %d: %s", ErrCompletionFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded chatResponse

	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}

	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
