// Package backend provides an HTTP client for the orchestration backend's
// REST surface.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const healthTimeout = 5 * time.Second

var (
	// ErrUnreachable matches every ConnectivityError.
	ErrUnreachable = errors.New("backend unreachable")

	ErrInvalidDecision = errors.New("invalid decision, use retry_now, retry_later, or cancel")
)

// ConnectivityError is returned when no HTTP response was received.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrUnreachable, e.Err)
}

func (e *ConnectivityError) Unwrap() []error {
	return []error{ErrUnreachable, e.Err}
}

// APIError is returned when the backend answered with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Decisions accepted by the approve endpoint.
const (
	DecisionRetryNow   = "retry_now"
	DecisionRetryLater = "retry_later"
	DecisionCancel     = "cancel"
)

// Client talks to the orchestration backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for baseURL. The underlying HTTP client has no
// timeout: runs take as long as the backend needs.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks that the backend answers on /health.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	_, err := c.doRequest(ctx, "health", http.MethodGet, "/health", nil)
	return err
}

type runRequest struct {
	Goal  string  `json:"goal"`
	Email *string `json:"email"`
}

// Run submits a goal. An empty email is sent as null.
func (c *Client) Run(ctx context.Context, goal, email string) (map[string]any, error) {
	req := runRequest{Goal: goal}
	if email != "" {
		req.Email = &email
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}

	data, err := c.doRequest(ctx, "run", http.MethodPost, "/run", body)
	if err != nil {
		return nil, err
	}
	return decodePayload(data)
}

// GetSession fetches the stored detail of a previous run.
func (c *Client) GetSession(ctx context.Context, sessionID string) (map[string]any, error) {
	data, err := c.doRequest(ctx, "get session", http.MethodGet, "/session/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	return decodePayload(data)
}

type approveRequest struct {
	SessionID string `json:"session_id"`
	Decision  string `json:"decision"`
}

// Approve sends a human-in-the-loop decision for a paused session.
func (c *Client) Approve(ctx context.Context, sessionID, decision string) (map[string]any, error) {
	decision = strings.ToLower(strings.TrimSpace(decision))
	switch decision {
	case DecisionRetryNow, DecisionRetryLater, DecisionCancel:
	default:
		return nil, ErrInvalidDecision
	}

	body, err := json.Marshal(approveRequest{SessionID: sessionID, Decision: decision})
	if err != nil {
		return nil, fmt.Errorf("marshal approve request: %w", err)
	}

	data, err := c.doRequest(ctx, "approve", http.MethodPost, "/approve", body)
	if err != nil {
		return nil, err
	}
	return decodePayload(data)
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("backend request", "op", op, "method", method, "path", path, "request_id", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the caller gave up; that is not an outage
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, &ConnectivityError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("backend error response", "op", op, "status", resp.StatusCode, "request_id", requestID)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}

	return data, nil
}

// errorMessage picks the user-facing message out of an error body: the
// "error" field, then "detail", then the status text.
func errorMessage(status int, data []byte) string {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err == nil {
		for _, key := range []string{"error", "detail"} {
			if msg, ok := body[key].(string); ok && msg != "" {
				return msg
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("request failed with status %d: %s", status, text)
	}
	return fmt.Sprintf("request failed with status %d", status)
}

func decodePayload(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

// IsConnectivity reports whether err means the backend could not be reached.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
