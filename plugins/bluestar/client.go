package bluestar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/KakatkarAkshay/bluestar-go/internal/session"
)

const (
	appVersion = "v4.11.4-133"
	osName     = "Android"
	osVersion  = "v13-33"
	userAgent  = "com.bluestarindia.bluesmart"

	loginAttempts  = 3
	requestTimeout = 30 * time.Second

	catalogCacheKey = "devices"
)

// Client talks to the Bluestar cloud REST API and owns the broker
// session derived from each login.
type Client struct {
	cfg        Config
	log        *zap.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
	catalog    *gocache.Cache
	store      session.Store
	sleep      func(time.Duration)
	newBroker  func(Credentials, *zap.Logger, func(string, map[string]any)) *Broker

	mu           sync.Mutex
	sessionToken string
	broker       *Broker
	onState      func(deviceID string, payload map[string]any)
}

func NewClient(cfg Config, log *zap.Logger, store session.Store) *Client {
	return &Client{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		catalog:    gocache.New(cfg.CatalogTTL, 10*time.Minute),
		store:      store,
		sleep:      time.Sleep,
		newBroker:  NewBroker,
	}
}

// SetStateHandler installs the inbound shadow-report callback. Must be
// called before the first login so the broker is built with it.
func (c *Client) SetStateHandler(fn func(string, map[string]any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Bootstrap tries to resume a persisted session before falling back to
// a fresh login. A resumed broker blob is attempted as-is; the gateway
// rejects expired credentials and we log in again.
func (c *Client) Bootstrap(ctx context.Context) error {
	if c.restoreSession(ctx) {
		return nil
	}
	return c.Login(ctx)
}

func (c *Client) restoreSession(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	state, err := c.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, session.ErrStateNotFound) {
			c.log.Warn("load session snapshot failed", zap.Error(err))
		}
		return false
	}
	if state.Phone != c.cfg.Phone || state.BrokerBlob == "" {
		return false
	}

	creds, err := extractCredentials(loginResponse{Session: state.SessionToken, MI: state.BrokerBlob})
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	broker := c.newBroker(creds, c.log, c.onState)
	if !broker.Connect() {
		broker.Disconnect()
		return false
	}
	c.sessionToken = state.SessionToken
	c.broker = broker
	c.log.Info("resumed persisted session", zap.String("phone", state.Phone))
	return true
}

// Login performs the vendor login handshake and rebuilds the broker
// session from the credentials embedded in the response. A broker
// connect failure does not fail login; a malformed credential blob is
// surfaced after the REST session is captured.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	resp, err := c.doLogin(ctx)
	if err != nil {
		return err
	}
	c.sessionToken = resp.Session

	if c.store != nil {
		state := session.NewState(c.cfg.Phone, resp.Session)
		state.BrokerBlob = resp.MI
		if err := c.store.Save(ctx, state); err != nil {
			c.log.Warn("persist session snapshot failed", zap.Error(err))
		}
	}

	creds, err := extractCredentials(resp)
	if err != nil {
		return err
	}

	if c.broker != nil {
		c.broker.Disconnect()
	}
	broker := c.newBroker(creds, c.log, c.onState)
	c.broker = broker
	if !broker.Connect() {
		c.log.Warn("broker connect failed, device control degraded until reconnect")
	}
	return nil
}

func (c *Client) doLogin(ctx context.Context) (loginResponse, error) {
	body, err := json.Marshal(loginRequest{AuthID: c.cfg.Phone, AuthType: 1, Password: c.cfg.Password})
	if err != nil {
		return loginResponse{}, fmt.Errorf("encode login request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < loginAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(time.Duration(1<<uint(attempt-1)) * time.Second)
		}

		var out loginResponse
		status, err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, "", &out)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrTransientUpstream, err)
			c.log.Warn("login attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		switch {
		case status == http.StatusOK:
			if out.Session == "" {
				return loginResponse{}, fmt.Errorf("login: response missing session")
			}
			return out, nil
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return loginResponse{}, ErrInvalidCredentials
		case status == http.StatusBadGateway:
			lastErr = fmt.Errorf("%w: status %d", ErrTransientUpstream, status)
			c.log.Warn("login attempt failed", zap.Int("attempt", attempt+1), zap.Int("status", status))
		default:
			return loginResponse{}, fmt.Errorf("login: unexpected status %d", status)
		}
	}
	return loginResponse{}, lastErr
}

// Devices fetches the device catalog, cached for the configured TTL.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	if cached, ok := c.catalog.Get(catalogCacheKey); ok {
		return cached.([]Device), nil
	}
	devices, _, err := c.ThingsSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// ThingsSnapshot fetches the catalog plus any state snapshot the API
// includes alongside it. The snapshot seeds the controller cache ahead
// of the first broker report.
func (c *Client) ThingsSnapshot(ctx context.Context) ([]Device, map[string]map[string]any, error) {
	var resp thingsResponse
	if err := c.authedGet(ctx, "/things", &resp); err != nil {
		return nil, nil, err
	}

	devices := make([]Device, 0, len(resp.Things))
	for _, thing := range resp.Things {
		name := thing.UserConfig.Name
		if name == "" {
			name = thing.ThingID
		}
		devices = append(devices, Device{ID: thing.ThingID, Name: name})
	}
	c.catalog.SetDefault(catalogCacheKey, devices)
	return devices, resp.States, nil
}

// authedGet runs an authenticated GET, logging in on demand and
// re-logging in exactly once when the session token is rejected.
func (c *Client) authedGet(ctx context.Context, path string, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.currentSession(ctx)
		if err != nil {
			return err
		}

		status, err := c.doJSON(ctx, http.MethodGet, path, nil, token, out)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransientUpstream, err)
		}
		switch {
		case status == http.StatusOK:
			return nil
		case status == http.StatusUnauthorized:
			c.clearSession(token)
		default:
			return fmt.Errorf("get %s: unexpected status %d", path, status)
		}
	}
	return fmt.Errorf("%w: session rejected after re-login", ErrInvalidCredentials)
}

func (c *Client) currentSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionToken != "" {
		return c.sessionToken, nil
	}
	if err := c.loginLocked(ctx); err != nil && !errors.Is(err, ErrMalformedCredential) {
		return "", err
	}
	return c.sessionToken, nil
}

func (c *Client) clearSession(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionToken == token {
		c.sessionToken = ""
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, token string, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-APP-VER", appVersion)
	req.Header.Set("X-OS-NAME", osName)
	req.Header.Set("X-OS-VER", osVersion)
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("X-APP-SESSION", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// Broker returns the current broker session, nil before first login.
func (c *Client) Broker() *Broker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broker
}

// EnsureBroker reconnects the broker if needed, re-logging in when no
// broker session exists at all.
func (c *Client) EnsureBroker(ctx context.Context) (*Broker, error) {
	broker := c.Broker()
	if broker == nil {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		broker = c.Broker()
		if broker == nil {
			return nil, ErrTransportUnavailable
		}
	}
	if !broker.EnsureConnected() {
		return nil, ErrTransportUnavailable
	}
	return broker, nil
}

// Close tears down the broker session. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	broker := c.broker
	c.broker = nil
	c.mu.Unlock()
	if broker != nil {
		broker.Disconnect()
	}
}
