// Package remotesink uploads events to the shared detector server. The
// client speaks the server's wire contract; the uploader owns queueing,
// batching, retry, and connectivity state.
package remotesink

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

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
)

// wireTimeLayout is the server's timestamp format: YYYY-MM-DD-HH-MM-SS.microseconds.
const wireTimeLayout = "2006-01-02-15-04-05.000000"

// ErrAuth marks an authentication failure that survived a token refresh.
var ErrAuth = errors.New("remote: authentication rejected")

// ClientConfig holds connection details for the remote server.
type ClientConfig struct {
	BaseURL    string        `yaml:"base_url"`
	UserID     string        `yaml:"user_id"`
	Password   string        `yaml:"password"`
	DetectorID string        `yaml:"detector_id"`
	Timeout    time.Duration `yaml:"timeout"`
}

func (c *ClientConfig) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("remote.base_url is required")
	}
	if c.UserID == "" {
		return errors.New("remote.user_id is required")
	}
	if c.DetectorID == "" {
		return errors.New("remote.detector_id is required")
	}
	return nil
}

// Client is a thin wrapper over the server's HTTP API. The bearer token is
// held here and refreshed reactively on 401/403, never proactively.
type Client struct {
	cfg  ClientConfig
	http *http.Client

	mu    sync.Mutex
	token string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote: unexpected status %d: %s", e.code, e.body)
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// Login obtains a fresh token with the configured credentials.
func (c *Client) Login(ctx context.Context) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/auth/login", map[string]any{
		"id":       c.cfg.UserID,
		"password": c.cfg.Password,
	}, false, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && isAuthStatus(se.code) {
			return fmt.Errorf("login: %w", ErrAuth)
		}
		return fmt.Errorf("login: %w", err)
	}
	c.setToken(resp.Token)
	return nil
}

// Refresh exchanges the current identity for a new token.
func (c *Client) Refresh(ctx context.Context) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, "/auth/refresh", map[string]any{
		"user_id": c.cfg.UserID,
	}, true, &resp)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	c.setToken(resp.Token)
	return nil
}

// SetupID registers the detector session with the server. Idempotent per id.
func (c *Client) SetupID(ctx context.Context, comment string, lat, lon float64, createdAt time.Time) error {
	err := c.post(ctx, "/setup-id", map[string]any{
		"id":            c.cfg.DetectorID,
		"comment":       comment,
		"gps_latitude":  lat,
		"gps_longitude": lon,
		"created_at":    createdAt.UTC().Format(wireTimeLayout),
	}, true, nil)
	if err != nil {
		return fmt.Errorf("setup-id: %w", err)
	}
	return nil
}

// UploadEvent sends one event. On a 401/403 it performs exactly one token
// refresh and retries the event once; a second rejection surfaces as ErrAuth
// and the event goes back to the caller's queue, not into the void.
func (c *Client) UploadEvent(ctx context.Context, ev *domain.Event) error {
	payload := map[string]any{
		"timestamp": eventWireTimestamp(ev),
		"adc":       ev.ADC,
		"vol":       ev.SiPMMilliVolts,
		"deadtime":  ev.DeadtimeMs,
	}
	path := "/upload-data/" + c.cfg.DetectorID

	err := c.post(ctx, path, payload, true, nil)
	if err == nil {
		return nil
	}
	var se *statusError
	if !errors.As(err, &se) || !isAuthStatus(se.code) {
		return fmt.Errorf("upload: %w", err)
	}

	if err := c.Refresh(ctx); err != nil {
		// Only a rejected refresh means the credentials are bad. A refresh
		// that failed on transport or a server error is an ordinary retryable
		// failure, not lost authentication.
		if errors.As(err, &se) && isAuthStatus(se.code) {
			return fmt.Errorf("upload: %w: %v", ErrAuth, err)
		}
		return fmt.Errorf("upload: refresh: %w", err)
	}
	if err := c.post(ctx, path, payload, true, nil); err != nil {
		if errors.As(err, &se) && isAuthStatus(se.code) {
			return fmt.Errorf("upload after refresh: %w", ErrAuth)
		}
		return fmt.Errorf("upload after refresh: %w", err)
	}
	return nil
}

func eventWireTimestamp(ev *domain.Event) string {
	if ev.SourceTimestamp != "" {
		return ev.SourceTimestamp
	}
	return ev.ReceivedAt.UTC().Format(wireTimeLayout)
}

func (c *Client) post(ctx context.Context, path string, payload any, authed bool, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: buf.String()}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}
