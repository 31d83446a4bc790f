// Package whatsapp sends outbound messages through the WhatsApp Cloud API.
package whatsapp

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
	DefaultBaseURL = "https://graph.facebook.com/v20.0"

	defaultTimeout = 15 * time.Second
	maxErrorBody   = 2048
)

var (
	ErrSendFailed    = errors.New("whatsapp send failed")
	ErrNoMessageID   = errors.New("whatsapp response carried no message id")
	ErrMissingConfig = errors.New("whatsapp access token is not configured")
)

// Sender delivers a text message and returns the provider message ID.
type Sender interface {
	SendText(ctx context.Context, phoneNumberID, to, text string) (string, error)
}

// SendError is returned for non-2xx responses.
type SendError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("whatsapp API returned status %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

func (e *SendError) Is(target error) bool {
	return target == ErrSendFailed
}

// Permanent reports whether retrying the same request cannot succeed. Rate
// limiting is the only client error worth retrying.
func (e *SendError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// IsPermanent reports whether err is a SendError that should not be retried.
func IsPermanent(err error) bool {
	var sendErr *SendError

	return errors.As(err, &sendErr) && sendErr.Permanent()
}

// Config configures the Cloud API client.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client calls the Cloud API /{phone-number-id}/messages endpoint.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(logger *slog.Logger, config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: logger.With("module", "whatsapp_client"),
	}
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) SendText(ctx context.Context, phoneNumberID, to, text string) (string, error) {
	if c.config.AccessToken == "" {
		return "", ErrMissingConfig
	}

	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.config.BaseURL, phoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WarnContext(ctx, "Failed to close send response body", "error", err)
		}
	}()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", decodeError(resp)
	}

	var decoded sendResponse

	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode send response: %w", err)
	}

	if len(decoded.Messages) == 0 || decoded.Messages[0].ID == "" {
		return "", ErrNoMessageID
	}

	return decoded.Messages[0].ID, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	sendErr := &SendError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var decoded errorResponse
	if json.Unmarshal(raw, &decoded) == nil && decoded.Error.Message != "" {
		sendErr.Message = decoded.Error.Message
		sendErr.Code = decoded.Error.Code
	}

	return sendErr
}
