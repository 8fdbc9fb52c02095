package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docchat/internal/constant"
	"docchat/internal/dto"
)

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat api: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the chat backend's REST endpoints.
type Client struct {
	BaseURL string
	Client  *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetSession fetches a session with its full conversation history.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*dto.ChatSessionResponse, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("chat api: session id is required")
	}
	var res dto.ChatSessionResponse
	path := constant.ChatAPIPrefix + "/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SendMessage performs one request/response turn.
func (c *Client) SendMessage(ctx context.Context, req dto.ChatMessageRequest) (*dto.ChatSessionResponse, error) {
	var res dto.ChatSessionResponse
	if err := c.do(ctx, http.MethodPost, constant.ChatMessagePath, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateSession stands in for the upload flow when talking to the relay.
func (c *Client) CreateSession(ctx context.Context, req dto.CreateSessionRequest) (*dto.ChatSessionResponse, error) {
	var res dto.ChatSessionResponse
	if err := c.do(ctx, http.MethodPost, constant.ChatSessionsPath, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chat api: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("chat api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("chat api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("chat api: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope dto.ErrorResponse
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Message = envelope.Message
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("chat api: decode response: %w", err)
	}
	return nil
}
