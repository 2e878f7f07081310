package lockbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lockbox/client-go/internal/api"
	"github.com/lockbox/client-go/internal/cache"
	"github.com/lockbox/client-go/internal/crypto"
	"github.com/lockbox/client-go/internal/directory"
	"github.com/lockbox/client-go/internal/keystore"
	"github.com/lockbox/client-go/internal/ratelimit"
	"github.com/lockbox/client-go/internal/realtime"
)

// publishTimeout bounds the fire-and-forget public-key upload.
const publishTimeout = 10 * time.Second

// Client is the LockBox chat client for one user session. It owns the
// identity key material, the conversation state and the transports; all
// methods are safe for concurrent use.
type Client struct {
	userID string
	cfg    *clientConfig
	logger *slog.Logger

	apiClient *api.Client
	keys      *keystore.Store
	dir       *directory.Directory
	channel   *realtime.Channel
	snapshot  *cache.Store
	limiter   *ratelimit.Limiter

	mu            sync.RWMutex
	closed        bool
	loaded        bool
	conversations map[string][]Message
	contacts      map[string]*Contact
	requests      map[string]ChatRequest

	runCancel context.CancelFunc
}

// New builds a client for the given user session. The token is the bearer
// token obtained from the auth service; it may be rotated later with
// SetToken. New performs no network calls.
func New(userID, token string, opts ...Option) (*Client, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	cfg := &clientConfig{
		baseURL:      defaultBaseURL,
		realtime:     true,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	keyDir := cfg.keyDir
	if keyDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			keyDir = filepath.Join(home, ".lockbox")
		} else {
			keyDir = ".lockbox"
		}
	}

	c := &Client{
		userID:        userID,
		cfg:           cfg,
		logger:        logger,
		limiter:       ratelimit.New(requestThrottle),
		conversations: make(map[string][]Message),
		contacts:      make(map[string]*Contact),
		requests:      make(map[string]ChatRequest),
	}

	retry := api.DefaultRetryConfig()
	if cfg.retries > 0 {
		retry.MaxRetries = cfg.retries
	}
	apiClient, err := api.NewClient(api.Config{
		BaseURL:        cfg.baseURL,
		Token:          token,
		HTTPClient:     cfg.httpClient,
		Retry:          retry,
		ReadTimeout:    cfg.timeout,
		OnUnauthorized: c.handleSessionExpired,
	})
	if err != nil {
		return nil, err
	}
	c.apiClient = apiClient

	secret := cfg.storageSecret
	if len(secret) == 0 {
		secret = []byte("lockbox:" + userID)
	}
	keys, err := keystore.New(keyDir, userID, secret, c.publishKeys, logger)
	if err != nil {
		return nil, err
	}
	c.keys = keys

	c.dir = directory.New(apiClient, logger)
	c.channel = realtime.New(realtime.Config{
		BaseURL:              cfg.baseURL,
		Logger:               logger,
		ReconnectWait:        cfg.reconnectWait,
		MaxReconnectAttempts: cfg.maxReconnectAttempts,
	})

	if !cfg.cacheDisabled {
		path := cfg.cachePath
		if path == "" {
			path = filepath.Join(keyDir, userID+".cache")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			logger.Warn("cache directory unavailable, continuing without cache", "error", err)
		} else if snap, err := cache.Open(path, logger); err != nil {
			logger.Warn("cache unavailable, continuing without it", "error", err)
		} else {
			c.snapshot = snap
			c.restoreFromCache()
		}
	}

	return c, nil
}

// Connect starts background delivery: the WebSocket push channel (when
// enabled) and the polling loop that reconciles state with the backend.
// It returns after scheduling the work; delivery errors surface through
// the logger and the registered handlers.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.runCancel != nil {
		c.runCancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.mu.Unlock()

	if c.cfg.realtime {
		err := c.channel.Connect(runCtx, c.userID, c.apiClient.Token(), realtime.Handlers{
			OnMessage:     c.handlePushMessage,
			OnChatRequest: c.handlePushChatRequest,
		})
		if err != nil {
			c.logger.Warn("push channel unavailable, relying on polling", "error", err)
		}
	}

	go c.pollLoop(runCtx)
	return nil
}

// Disconnect stops background delivery. The client remains usable for
// direct calls; Connect may be called again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.runCancel
	c.runCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.channel.Disconnect()
}

// Close shuts the client down and releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()
	if c.snapshot != nil {
		return c.snapshot.Close()
	}
	return nil
}

// SetToken installs a fresh session token after re-authentication.
func (c *Client) SetToken(token string) {
	c.apiClient.SetToken(token)
}

// HasSession reports whether a session token is present.
func (c *Client) HasSession() bool {
	return c.apiClient.HasSession()
}

// GenerateKeys creates a fresh identity keypair set, persists it encrypted
// at rest, and publishes the public halves to the backend. After it
// returns, encrypt and sign operations succeed without further setup.
func (c *Client) GenerateKeys(ctx context.Context) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	_, err := c.keys.Generate(ctx)
	return wrapError(err)
}

// ImportKeys installs externally supplied private keys. Both keys are
// validated against the scheme's fixed sizes; the public halves are
// derived, persisted and published.
func (c *Client) ImportKeys(ctx context.Context, kemSecret, sigSecret []byte) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	_, err := c.keys.Import(ctx, kemSecret, sigSecret)
	return wrapError(err)
}

// LoadKeys restores previously persisted keys. It reports false when no
// usable key material exists (absent or corrupt file). On success the
// public halves are re-published to the backend, fire and forget.
func (c *Client) LoadKeys(ctx context.Context) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}
	keys, err := c.keys.Load()
	if err != nil {
		return false, wrapError(err)
	}
	if keys == nil {
		return false, nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := c.publishKeys(ctx, keys.KEM.PublicKey, keys.Signing.PublicKey); err != nil {
			c.logger.Warn("key republish failed", "error", err)
		}
	}()
	return true, nil
}

// ClearKeys destroys the local key material and the cached plaintext
// snapshot. Encrypt and decrypt operations fail with ErrNoKeyMaterial
// until keys are generated, imported or loaded again.
func (c *Client) ClearKeys() error {
	if err := c.keys.Clear(); err != nil {
		return wrapError(err)
	}
	if c.snapshot != nil {
		if err := c.snapshot.Clear(); err != nil {
			c.logger.Warn("cache clear failed", "error", err)
		}
	}
	return nil
}

// HasKeys reports whether identity keys are available in memory.
func (c *Client) HasKeys() bool {
	return c.keys.Current() != nil
}

func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// publishKeys uploads the public key halves. Used by the keystore on
// generate/import and by LoadKeys.
func (c *Client) publishKeys(ctx context.Context, kemPublicKey, sigPublicKey []byte) error {
	return c.apiClient.PublishKeys(ctx, api.PublishKeysRequest{
		UserID:       c.userID,
		KemPublicKey: crypto.ToBase64URL(kemPublicKey),
		SigPublicKey: crypto.ToBase64URL(sigPublicKey),
	})
}

func (c *Client) handleSessionExpired() {
	c.logger.Warn("session invalidated by backend")
	if c.cfg.onSessionExpired != nil {
		c.cfg.onSessionExpired()
	}
}

// pollLoop periodically reconciles local state with server truth. It is
// the delivery path of last resort: it works even when the push channel
// is disabled or terminal.
func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.pollInterval)
	defer ticker.Stop()

	c.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	if err := c.RefreshContacts(ctx); err != nil {
		c.logger.Debug("contact refresh failed", "error", err)
	}
	if err := c.LoadAll(ctx); err != nil {
		c.logger.Debug("message reload failed", "error", err)
	}
	if _, err := c.IncomingRequests(ctx); err != nil {
		c.logger.Debug("chat request poll failed", "error", err)
	}
}
