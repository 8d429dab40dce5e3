package agent

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
	"sync"
	"time"

	"github.com/nerrad567/elevate/internal/session"
)

const (
	apiPrefix          = "/api/v1"
	defaultHTTPTimeout = 15 * time.Second
	maxErrorBody       = 64 << 10
)

// HTTPClient implements SessionAPI against the elevated HTTP API.
//
// It holds a bearer token. When a request comes back 401 and the client
// was given a username and password through Login, it signs in again and
// retries once.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu       sync.Mutex
	token    string
	username string
	password string
}

// NewHTTPClient creates a client for the server at baseURL
// (e.g. "http://localhost:8080"). A nil httpClient gets a default with a
// 15 second timeout.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// SetToken uses token for subsequent requests.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *HTTPClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login signs in and keeps the credentials for automatic re-login.
func (c *HTTPClient) Login(ctx context.Context, username, password string) error {
	var resp loginResponse
	if err := c.send(ctx, http.MethodPost, "/auth/login", loginRequest{username, password}, &resp, false); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = resp.AccessToken
	c.username, c.password = username, password
	c.mu.Unlock()
	return nil
}

type ticketResponse struct {
	Ticket string `json:"ticket"`
}

// WSTicket obtains a single-use ticket for the push WebSocket.
func (c *HTTPClient) WSTicket(ctx context.Context) (string, error) {
	var resp ticketResponse
	if err := c.do(ctx, http.MethodPost, "/auth/ws-ticket", nil, &resp); err != nil {
		return "", err
	}
	return resp.Ticket, nil
}

// PushURL returns the WebSocket URL for ticket.
func (c *HTTPClient) PushURL(ticket string) (string, error) {
	u, err := url.Parse(c.baseURL + apiPrefix + "/ws")
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"ticket": {ticket}}.Encode()
	return u.String(), nil
}

// Start implements SessionAPI.
func (c *HTTPClient) Start(ctx context.Context, deviceID, credential string) (time.Time, error) {
	var resp session.EndTimeResponse
	err := c.do(ctx, http.MethodPost, "/session/start",
		session.StartRequest{Credential: credential, DeviceID: deviceID}, &resp)
	if err != nil {
		return time.Time{}, err
	}
	return session.FromMillis(resp.EndTime), nil
}

// Check implements SessionAPI.
func (c *HTTPClient) Check(ctx context.Context, deviceID string) (*session.CheckResult, error) {
	var resp session.CheckResponse
	path := "/session/check?" + url.Values{"device_id": {deviceID}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Result(), nil
}

// End implements SessionAPI.
func (c *HTTPClient) End(ctx context.Context, credential string) error {
	return c.do(ctx, http.MethodPost, "/session/end", session.CredentialRequest{Credential: credential}, nil)
}

// EndAll implements SessionAPI.
func (c *HTTPClient) EndAll(ctx context.Context, credential string) error {
	return c.do(ctx, http.MethodPost, "/session/end-all", session.CredentialRequest{Credential: credential}, nil)
}

// Transfer implements SessionAPI.
func (c *HTTPClient) Transfer(ctx context.Context, credential, newDeviceID string) (time.Time, error) {
	var resp session.EndTimeResponse
	err := c.do(ctx, http.MethodPost, "/session/transfer",
		session.TransferRequest{Credential: credential, NewDeviceID: newDeviceID}, &resp)
	if err != nil {
		return time.Time{}, err
	}
	return session.FromMillis(resp.EndTime), nil
}

// Record returns the caller's raw session record.
func (c *HTTPClient) Record(ctx context.Context) (*session.RecordResponse, error) {
	var resp session.RecordResponse
	if err := c.do(ctx, http.MethodGet, "/session/record", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends an authenticated request, re-logging in once on 401.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	err := c.send(ctx, method, path, body, out, true)
	if !isUnauthenticated(err) {
		return err
	}

	c.mu.Lock()
	username, password := c.username, c.password
	c.mu.Unlock()
	if username == "" {
		return err
	}
	if lerr := c.Login(ctx, username, password); lerr != nil {
		return fmt.Errorf("re-authenticating: %w", lerr)
	}
	return c.send(ctx, method, path, body, out, true)
}

func (c *HTTPClient) send(ctx context.Context, method, path string, body, out any, auth bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); auth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}
	return decodeError(resp)
}

// errorBody is the server's error shape, plus conflict details on 409.
type errorBody struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	session.ConflictDetails
}

// decodeError maps an error response back to the session taxonomy.
func decodeError(resp *http.Response) error {
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // partial body still useful
	if json.Unmarshal(data, &body) != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", session.ErrUnauthenticated, body.Message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", session.ErrInvalidArgument, body.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", session.ErrPermissionDenied, body.Message)
	case http.StatusConflict:
		return &session.ConflictError{
			ExistingDeviceID: body.ExistingDeviceID,
			ExistingEndTime:  session.FromMillis(body.ExistingEndTime),
		}
	case http.StatusPreconditionFailed:
		if body.Code == "no_active_session" {
			return session.ErrNoActiveSession
		}
		return fmt.Errorf("%w: %s", session.ErrFailedPrecondition, body.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", session.ErrRecordNotFound, body.Message)
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Message)
	}
}

func isUnauthenticated(err error) bool {
	return errors.Is(err, session.ErrUnauthenticated)
}
