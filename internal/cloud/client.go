package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zadoli/thermosync/internal/device"
)

// API endpoints relative to the base URL.
const (
	loginEndpoint   = "/api/auth/login"
	devicesEndpoint = "/api/devices"
	commandEndpoint = "/api/devices/%d/cmd"
)

// Sentinel errors for the cloud API.
var (
	// ErrUnauthorized is returned on HTTP 401. The caller must obtain a
	// fresh token; the same token is never retried.
	ErrUnauthorized = errors.New("cloud: unauthorized")

	// ErrNoToken is returned when a login succeeds but the response
	// carries no token.
	ErrNoToken = errors.New("cloud: login response missing token")
)

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to the Computherm cloud REST API: login, device listing,
// and device commands. The push feed is handled elsewhere; this client is
// plain request/response.
type Client struct {
	baseURL string
	http    *http.Client
	logger  Logger
}

// NewClient creates a cloud API client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// Login authenticates and returns a bearer token. The API has shipped the
// token under two different field names; both are accepted.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return "", fmt.Errorf("cloud: encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("cloud: building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloud: login request: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("cloud: login failed with status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("cloud: decoding login response: %w", err)
	}

	token := lr.Token
	if token == "" {
		token = lr.AccessToken
	}
	if token == "" {
		return "", ErrNoToken
	}

	c.logger.Info("authenticated with cloud API")
	return token, nil
}

// ListDevices fetches the account's device metadata.
func (c *Client) ListDevices(ctx context.Context, token string) ([]device.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+devicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("cloud: building devices request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud: devices request: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: listing devices", ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cloud: listing devices failed with status %d", resp.StatusCode)
	}

	var devices []device.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		return nil, fmt.Errorf("cloud: decoding devices response: %w", err)
	}

	c.logger.Info("fetched device listing", "count", len(devices))
	return devices, nil
}

// SendCommand posts a control command for one device, addressed by its
// cloud API id (not its serial).
func (c *Client) SendCommand(ctx context.Context, token string, apiID int, cmd Command) error {
	payload, err := cmd.payload()
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cloud: encoding command: %w", err)
	}

	url := c.baseURL + fmt.Sprintf(commandEndpoint, apiID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cloud: building command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloud: command request: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: sending command", ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cloud: command failed with status %d", resp.StatusCode)
	}

	c.logger.Info("sent device command", "api_id", apiID, "payload", string(body))
	return nil
}

// drainAndClose discards any remaining body so the connection can be
// reused, then closes it.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
