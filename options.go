package lockbox

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultBaseURL       = "http://localhost:8000"
	defaultPollInterval  = 15 * time.Second
	requestThrottle      = 3 * time.Second
	messagePreviewLength = 50
	timestampLayout      = time.RFC3339
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	retries    int

	keyDir        string
	storageSecret []byte
	cachePath     string
	cacheDisabled bool

	realtime             bool
	pollInterval         time.Duration
	reconnectWait        time.Duration
	maxReconnectAttempts int

	onMessage        func(Message)
	onChatRequest    func(ChatRequest)
	onSessionExpired func()
}

// Option configures the client.
type Option func(*clientConfig)

// WithBaseURL sets the backend base URL.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithTimeout sets the per-call read timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for backend calls.
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithKeyDir sets the directory holding the encrypted key file.
// Default: ~/.lockbox
func WithKeyDir(dir string) Option {
	return func(c *clientConfig) {
		c.keyDir = dir
	}
}

// WithStorageSecret sets the secret protecting key material at rest. The
// default derives from the user id alone, which only obscures the file;
// callers with a real session secret should supply it here.
func WithStorageSecret(secret []byte) Option {
	return func(c *clientConfig) {
		c.storageSecret = secret
	}
}

// WithCachePath sets the bbolt snapshot file location.
// Default: <keyDir>/<userID>.cache
func WithCachePath(path string) Option {
	return func(c *clientConfig) {
		c.cachePath = path
	}
}

// WithoutCache disables the local conversation snapshot entirely.
func WithoutCache() Option {
	return func(c *clientConfig) {
		c.cacheDisabled = true
	}
}

// WithRealtime enables or disables the WebSocket push channel. When
// disabled, or after the channel goes terminal, delivery relies on
// polling alone. Default: enabled.
func WithRealtime(enabled bool) Option {
	return func(c *clientConfig) {
		c.realtime = enabled
	}
}

// WithPollInterval sets the background poll interval used by Connect.
// Default: 15 seconds.
func WithPollInterval(interval time.Duration) Option {
	return func(c *clientConfig) {
		c.pollInterval = interval
	}
}

// WithReconnectWait sets the initial push-channel reconnect delay; it
// doubles per failed attempt.
func WithReconnectWait(wait time.Duration) Option {
	return func(c *clientConfig) {
		c.reconnectWait = wait
	}
}

// WithMaxReconnectAttempts bounds consecutive push-channel reconnects
// before the channel goes terminal.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *clientConfig) {
		c.maxReconnectAttempts = n
	}
}

// WithMessageHandler registers a callback for inbound messages. The
// callback runs on background goroutines and must not block.
func WithMessageHandler(fn func(Message)) Option {
	return func(c *clientConfig) {
		c.onMessage = fn
	}
}

// WithChatRequestHandler registers a callback for incoming chat requests.
func WithChatRequestHandler(fn func(ChatRequest)) Option {
	return func(c *clientConfig) {
		c.onChatRequest = fn
	}
}

// WithSessionExpiredHandler registers a callback fired when the backend
// invalidates the session (any 401). The local token is already cleared
// when it fires.
func WithSessionExpiredHandler(fn func()) Option {
	return func(c *clientConfig) {
		c.onSessionExpired = fn
	}
}
