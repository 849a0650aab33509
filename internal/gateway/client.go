// Package gateway implements a client for the brokerage Client Portal
// gateway's local HTTPS REST API. It layers session management, keep-alive
// pings, contract resolution and the two-phase order confirmation protocol
// on top of the gateway's stateless HTTP endpoints.
package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds client construction parameters.
type Config struct {
	Host            string
	Port            int
	Timeout         time.Duration // ordinary calls, default 30s
	TickleTimeout   time.Duration // keep-alive ping, default 10s
	TickleInterval  time.Duration // default 30s
	MaxAuthAttempts int           // default 3

	// SideChannelRPS caps requests per second on the status/reauth/tickle
	// endpoints. The gateway enforces 1 req/s there; raise this only
	// against a fake gateway.
	SideChannelRPS float64

	Logger  *zap.Logger
	Manager GatewayManager // optional

	// Authenticator, when set, is invoked after the in-band attempt
	// budget is exhausted to re-run the external login, after which the
	// budget resets and one more round is tried.
	Authenticator Authenticator
}

// Client is a session-holding gateway client. One Client owns one logical
// gateway session; all authentication state lives here and is serialized
// behind mu.
type Client struct {
	mu   sync.Mutex
	cfg  Config
	log  *zap.Logger
	mgr  GatewayManager
	auth Authenticator

	baseURL string
	http    *http.Client
	side    *http.Client // bypasses the request pipeline, never re-auths

	// sideLimiter enforces the gateway's 1 req/s cap on the auth status,
	// reauthenticate and tickle endpoints.
	sideLimiter *rate.Limiter

	authenticated bool
	authAttempts  int
	authWait      chan struct{} // non-nil while an authentication is in flight
	authErr       error         // result of the last in-flight authentication

	tickleCancel context.CancelFunc
}

// New creates a gateway client. No network traffic happens until the first
// operation; authentication is lazy.
func New(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TickleTimeout <= 0 {
		cfg.TickleTimeout = 10 * time.Second
	}
	if cfg.TickleInterval <= 0 {
		cfg.TickleInterval = 30 * time.Second
	}
	if cfg.MaxAuthAttempts <= 0 {
		cfg.MaxAuthAttempts = 3
	}
	if cfg.SideChannelRPS <= 0 {
		cfg.SideChannelRPS = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Client{
		cfg:         cfg,
		log:         cfg.Logger,
		mgr:         cfg.Manager,
		auth:        cfg.Authenticator,
		sideLimiter: rate.NewLimiter(rate.Limit(cfg.SideChannelRPS), 1),
	}
	c.rebuildTransport()
	return c
}

// rebuildTransport recreates the HTTP clients for the current endpoint.
// Callers must hold mu or have exclusive access.
func (c *Client) rebuildTransport() {
	c.baseURL = fmt.Sprintf("https://%s:%d/v1/api", c.cfg.Host, c.cfg.Port)

	// The gateway serves a self-signed certificate on localhost; skipping
	// verification is an explicit trust exception scoped to this transport
	// and must not be reused for any other endpoint.
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	c.http = &http.Client{Transport: tr, Timeout: c.cfg.Timeout}
	c.side = &http.Client{Transport: tr.Clone(), Timeout: c.cfg.Timeout}
}

// SetEndpoint points the client at a different gateway process. A session
// is never valid across a port change: the keep-alive loop is stopped, the
// attempt counter reset, and the transport rebuilt.
func (c *Client) SetEndpoint(host string, port int) {
	c.mu.Lock()
	if host == "" {
		host = c.cfg.Host
	}
	if c.cfg.Host == host && c.cfg.Port == port {
		c.mu.Unlock()
		return
	}
	c.log.Info("gateway endpoint changed",
		zap.String("host", host), zap.Int("old_port", c.cfg.Port), zap.Int("new_port", port))
	c.stopTickleLocked()
	c.cfg.Host = host
	c.cfg.Port = port
	c.authenticated = false
	c.authAttempts = 0
	c.rebuildTransport()
	c.mu.Unlock()
}

// Destroy stops the keep-alive loop. Idempotent.
func (c *Client) Destroy() {
	c.mu.Lock()
	c.stopTickleLocked()
	c.mu.Unlock()
}

// Authenticated reports the current session state.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// ResetAuthAttempts clears the attempt counter, allowing a fresh burst of
// authentication attempts after the caller re-ran the external login.
func (c *Client) ResetAuthAttempts() {
	c.mu.Lock()
	c.authAttempts = 0
	c.mu.Unlock()
}

// correlationID returns a short random id for request diagnostics.
func correlationID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b[:])
}

// do runs one call through the request pipeline: correlation id, lazy
// authentication, execution, error classification. It never retries the
// business call; retries are the caller's responsibility.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	cid := correlationID()
	c.log.Debug("gateway request",
		zap.String("cid", cid), zap.String("method", method), zap.String("path", path))

	if err := c.ensureAuthenticated(ctx); err != nil {
		c.log.Warn("gateway request aborted, not authenticated",
			zap.String("cid", cid), zap.String("path", path), zap.Error(err))
		return err
	}

	c.mu.Lock()
	client := c.http
	c.mu.Unlock()
	err := c.execute(ctx, client, method, path, body, out)
	if err != nil {
		c.log.Warn("gateway request failed",
			zap.String("cid", cid), zap.String("method", method),
			zap.String("path", path), zap.Error(err))
		return err
	}
	c.log.Debug("gateway response", zap.String("cid", cid), zap.String("path", path))
	return nil
}

// sideDo runs one call on the side channel, bypassing the pipeline so that
// authentication probes cannot recurse into authentication. All side
// channel endpoints share the 1 req/s limiter.
func (c *Client) sideDo(ctx context.Context, method, path string, out any) error {
	if err := c.sideLimiter.Wait(ctx); err != nil {
		return &GatewayError{Kind: ErrKindTransport, Msg: "rate limit wait cancelled", Cause: err}
	}
	c.mu.Lock()
	client := c.side
	c.mu.Unlock()
	return c.execute(ctx, client, method, path, nil, out)
}

// execute performs one HTTP round trip and decodes the response. Failures
// come back as *GatewayError with the classifier's verdict attached.
func (c *Client) execute(ctx context.Context, client *http.Client, method, path string, body, out any) error {
	c.mu.Lock()
	url := c.baseURL + path
	c.mu.Unlock()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Kind: ErrKindUnknown, Msg: "encode request", Cause: err}
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return &GatewayError{Kind: ErrKindTransport, Msg: "create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return c.classified(&GatewayError{Kind: ErrKindTransport, Msg: "request failed", Cause: err}, "")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classified(&GatewayError{Kind: ErrKindTransport, Status: resp.StatusCode, Msg: "read response", Cause: err}, "")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ge := &GatewayError{
			Kind:   ErrKindTransport,
			Status: resp.StatusCode,
			Msg:    fmt.Sprintf("HTTP %d", resp.StatusCode),
			Cause:  fmt.Errorf("%s", string(data)),
		}
		return c.classified(ge, string(data))
	}

	if out != nil && len(data) > 0 {
		if raw, ok := out.(*json.RawMessage); ok {
			*raw = append((*raw)[:0], data...)
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &GatewayError{Kind: ErrKindUnknown, Status: resp.StatusCode, Msg: "decode response", Cause: err}
		}
	}
	return nil
}

// classified routes a failure through the authentication classifier and,
// on a match, normalizes it to the uniform remediation message.
func (c *Client) classified(ge *GatewayError, responseBody string) error {
	msg := ge.Msg
	if ge.Cause != nil {
		msg += " " + ge.Cause.Error()
	}
	if isAuthenticationError(ge.Status, msg, responseBody) {
		ge.IsAuthError = true
		if ge.Cause == nil {
			ge.Cause = fmt.Errorf("%s", ge.Msg)
		}
		ge.Msg = AuthRequiredMessage
	}
	return ge
}
