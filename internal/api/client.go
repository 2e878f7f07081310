package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Default timeouts. Read paths are polled and must stay cheap; write paths
// (message sends, chat requests) get more room.
const (
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the backend base URL. Required.
	BaseURL string
	// Token is the initial session bearer token. May be empty; install one
	// later with SetToken.
	Token string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	// Retry overrides the default retry configuration.
	Retry *RetryConfig
	// ReadTimeout bounds GET requests. Defaults to DefaultReadTimeout.
	ReadTimeout time.Duration
	// WriteTimeout bounds POST requests. Defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
	// OnUnauthorized is invoked (once per 401) after the client clears its
	// token in response to a 401.
	OnUnauthorized func()
}

// Client is the LockBox backend HTTP client.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	retry          *RetryConfig
	readTimeout    time.Duration
	writeTimeout   time.Duration
	onUnauthorized func()

	mu    sync.RWMutex
	token string
}

// NewClient creates a new API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	c := &Client{
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		httpClient:     cfg.HTTPClient,
		retry:          cfg.Retry,
		readTimeout:    cfg.ReadTimeout,
		writeTimeout:   cfg.WriteTimeout,
		onUnauthorized: cfg.OnUnauthorized,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.retry == nil {
		c.retry = DefaultRetryConfig()
	}
	if c.readTimeout <= 0 {
		c.readTimeout = DefaultReadTimeout
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = DefaultWriteTimeout
	}

	return c, nil
}

// SetToken installs a new session bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current session token, or "" if the session is invalid.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// HasSession reports whether a session token is installed.
func (c *Client) HasSession() bool {
	return c.Token() != ""
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	token := c.Token()
	if token == "" {
		return ErrNoSession
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err = c.httpClient.Do(req)
		if err != nil {
			if attempt < c.retry.MaxRetries && ctx.Err() == nil {
				if werr := c.retry.Wait(ctx, attempt); werr == nil {
					continue
				}
			}
			return &NetworkError{Err: err, URL: c.baseURL + path, Attempt: attempt}
		}

		if c.retry.ShouldRetry(attempt, resp.StatusCode) {
			resp.Body.Close()
			if err := c.retry.Wait(ctx, attempt); err != nil {
				return err
			}
			continue
		}
		break
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateSession()
		return parseErrorResponse(resp)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// invalidateSession clears the token and fires the unauthorized hook. The
// hook runs at most once per installed token.
func (c *Client) invalidateSession() {
	c.mu.Lock()
	hadToken := c.token != ""
	c.token = ""
	c.mu.Unlock()

	if hadToken && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil {
		msg := errResp.Detail
		if msg == "" {
			msg = errResp.Error
		}
		if msg == "" {
			msg = errResp.Message
		}
		if msg != "" {
			return &Error{StatusCode: resp.StatusCode, Message: msg}
		}
	}

	return &Error{StatusCode: resp.StatusCode, Message: string(body)}
}
