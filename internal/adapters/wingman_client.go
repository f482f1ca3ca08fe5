// Package adapters talks to the wingman agent server over HTTP.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opencode-ai/streamctl/internal/models"
)

const defaultWingmanTimeout = 10 * time.Second

// WingmanClient handles wingman HTTP API calls.
type WingmanClient struct {
	BaseURL string

	// Client serves request/response calls and carries a timeout.
	Client *http.Client

	// StreamClient serves event streams. It has no timeout; streams end
	// when the server closes them or the request context is cancelled.
	StreamClient *http.Client
}

// Health is the /health response.
type Health struct {
	Status string `json:"status"`
}

// MessageRequest is the body of a streamed message.
type MessageRequest struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

type createSessionRequest struct {
	WorkDir string `json:"work_dir"`
}

// NewWingmanClient constructs a client with defaults applied.
func NewWingmanClient(baseURL string, timeout time.Duration) *WingmanClient {
	if timeout <= 0 {
		timeout = defaultWingmanTimeout
	}
	return &WingmanClient{
		BaseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:       &http.Client{Timeout: timeout},
		StreamClient: &http.Client{},
	}
}

// Health checks that the server is reachable.
func (c *WingmanClient) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return &out, nil
}

// ListSessions returns every session known to the server.
func (c *WingmanClient) ListSessions(ctx context.Context) ([]models.SessionRecord, error) {
	var out []models.SessionRecord
	if err := c.getJSON(ctx, "/sessions", &out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// CreateSession creates a session rooted at workDir.
func (c *WingmanClient) CreateSession(ctx context.Context, workDir string) (*models.SessionRecord, error) {
	var out models.SessionRecord
	if err := c.postJSON(ctx, "/sessions", createSessionRequest{WorkDir: workDir}, &out); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &out, nil
}

// GetSession fetches a session with its stored history.
func (c *WingmanClient) GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionIDRequired
	}
	var out models.SessionRecord
	if err := c.getJSON(ctx, "/sessions/"+url.PathEscape(sessionID), &out); err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &out, nil
}

// FetchHistory returns the stored history of a session.
func (c *WingmanClient) FetchHistory(ctx context.Context, sessionID string) ([]models.StoredMessage, error) {
	record, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return record.History, nil
}

// StreamMessage posts a message and returns the event-stream body. The
// caller must close it.
func (c *WingmanClient) StreamMessage(ctx context.Context, sessionID, agentID, message string) (io.ReadCloser, error) {
	baseURL, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionIDRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(MessageRequest{AgentID: agentID, Message: message})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	endpoint := baseURL + "/sessions/" + url.PathEscape(sessionID) + "/message/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("open message stream: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		_, err := readResponseBody(resp)
		return nil, fmt.Errorf("open message stream: %w", err)
	}
	return resp.Body, nil
}

func (c *WingmanClient) baseURL() (string, error) {
	if c == nil {
		return "", errors.New("wingman client is nil")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		return "", ErrBaseURLEmpty
	}
	return baseURL, nil
}

func (c *WingmanClient) httpClient() *http.Client {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: defaultWingmanTimeout}
	}
	if c.Client.Timeout <= 0 {
		c.Client.Timeout = defaultWingmanTimeout
	}
	return c.Client
}

func (c *WingmanClient) streamClient() *http.Client {
	if c.StreamClient == nil {
		c.StreamClient = &http.Client{}
	}
	return c.StreamClient
}

func (c *WingmanClient) getJSON(ctx context.Context, path string, out any) error {
	baseURL, err := c.baseURL()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *WingmanClient) postJSON(ctx context.Context, path string, payload, out any) error {
	baseURL, err := c.baseURL()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *WingmanClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("call wingman endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponseBody(resp)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read wingman response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp, body)}
	}

	return body, nil
}

func errorMessage(resp *http.Response, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = resp.Status
	}
	return snippet
}
