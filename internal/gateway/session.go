package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CheckStatus probes /iserver/auth/status on the side channel and updates
// the session accordingly. It never returns an error: a transport failure
// reads as "not authenticated" and stops the keep-alive loop.
func (c *Client) CheckStatus(ctx context.Context) bool {
	var status AuthStatus
	if err := c.sideDo(ctx, "GET", "/iserver/auth/status", &status); err != nil {
		c.log.Debug("auth status probe failed", zap.Error(err))
		c.mu.Lock()
		c.authenticated = false
		c.stopTickleLocked()
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	c.authenticated = status.Authenticated
	if status.Authenticated {
		c.authAttempts = 0
		c.startTickleLocked()
	} else {
		c.stopTickleLocked()
	}
	c.mu.Unlock()
	return status.Authenticated
}

// Authenticate runs one attempt-counted authentication round: probe status,
// and if the gateway session is stale, ask it to reauthenticate. After
// MaxAuthAttempts consecutive failures it fails immediately without a
// network call until the counter is reset by a success, ResetAuthAttempts,
// or an endpoint change.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	if c.authAttempts >= c.cfg.MaxAuthAttempts {
		c.mu.Unlock()
		return newAuthExhaustedError(c.cfg.MaxAuthAttempts)
	}
	c.authAttempts++
	attempt := c.authAttempts
	c.mu.Unlock()

	c.log.Info("authenticating with gateway",
		zap.Int("attempt", attempt), zap.Int("max", c.cfg.MaxAuthAttempts))

	var status AuthStatus
	if err := c.sideDo(ctx, "GET", "/iserver/auth/status", &status); err != nil {
		return c.authFailed(err)
	}
	if status.Authenticated {
		c.markAuthenticated()
		return nil
	}

	if err := c.sideDo(ctx, "POST", "/iserver/reauthenticate", nil); err != nil {
		return c.authFailed(err)
	}
	c.markAuthenticated()
	return nil
}

func (c *Client) markAuthenticated() {
	c.mu.Lock()
	c.authenticated = true
	c.authAttempts = 0
	c.startTickleLocked()
	c.mu.Unlock()
	c.log.Info("gateway session authenticated")
}

func (c *Client) authFailed(cause error) error {
	c.mu.Lock()
	attempts := c.authAttempts
	max := c.cfg.MaxAuthAttempts
	c.mu.Unlock()
	c.log.Warn("authentication failed",
		zap.Int("attempt", attempts), zap.Int("max", max), zap.Error(cause))
	if attempts >= max {
		return newAuthExhaustedError(max)
	}
	return newAuthPendingError(cause)
}

// ensureAuthenticated is the pipeline's lazy authentication step. Most
// calls find the session live and pay nothing. Concurrent callers that all
// observe a dead session collapse into a single in-flight authentication
// whose result they share, so the attempt counter moves once per round
// trip rather than once per caller.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	if c.authenticated {
		c.mu.Unlock()
		return nil
	}
	if c.authWait != nil {
		ch := c.authWait
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return &GatewayError{Kind: ErrKindTransport, Msg: "authentication wait cancelled", Cause: ctx.Err()}
		}
		c.mu.Lock()
		err := c.authErr
		authed := c.authenticated
		c.mu.Unlock()
		if authed {
			return nil
		}
		return err
	}
	ch := make(chan struct{})
	c.authWait = ch
	c.mu.Unlock()

	err := c.authenticateWithManager(ctx)

	c.mu.Lock()
	c.authErr = err
	c.authWait = nil
	c.mu.Unlock()
	close(ch)
	return err
}

// authenticateWithManager consults the external collaborators around a
// plain Authenticate: the gateway manager, when configured, may move the
// gateway to a new port first, which invalidates the old session. When the
// attempt budget runs out and an Authenticator is configured, its Login is
// run once, the budget reset, and one more round attempted.
func (c *Client) authenticateWithManager(ctx context.Context) error {
	if c.mgr != nil {
		if err := c.mgr.EnsureReady(ctx); err != nil {
			return &GatewayError{Kind: ErrKindTransport, Msg: "gateway not ready", Cause: err}
		}
		c.mu.Lock()
		current := c.cfg.Port
		host := c.cfg.Host
		c.mu.Unlock()
		if p := c.mgr.CurrentPort(); p != 0 && p != current {
			c.SetEndpoint(host, p)
		}
	}

	err := c.Authenticate(ctx)
	if err == nil || c.auth == nil || KindOf(err) != ErrKindAuthExhausted {
		return err
	}
	c.log.Info("authentication attempts exhausted, running external login")
	if lerr := c.auth.Login(ctx); lerr != nil {
		return newAuthPendingError(lerr)
	}
	c.ResetAuthAttempts()
	return c.Authenticate(ctx)
}

// startTickleLocked starts the keep-alive loop if it is not running.
// Caller holds mu.
func (c *Client) startTickleLocked() {
	if c.tickleCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.tickleCancel = cancel
	c.log.Info("starting session keep-alive", zap.Duration("interval", c.cfg.TickleInterval))
	go c.tickleLoop(ctx)
}

// stopTickleLocked stops the keep-alive loop. Idempotent. Caller holds mu.
func (c *Client) stopTickleLocked() {
	if c.tickleCancel == nil {
		return
	}
	c.log.Info("stopping session keep-alive")
	c.tickleCancel()
	c.tickleCancel = nil
}

// tickleLoop pings /tickle every TickleInterval to keep the gateway
// session alive. The interval leaves a wide margin under the gateway's
// 1 req/s cap on this endpoint, which the side channel limiter enforces
// regardless.
func (c *Client) tickleLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tickleOnce(ctx)
		}
	}
}

// tickleOnce sends one keep-alive ping. On failure it re-probes status;
// a confirmed dead session stops the loop so we do not pile up failed
// pings against an expired session.
func (c *Client) tickleOnce(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, c.cfg.TickleTimeout)
	defer cancel()

	if err := c.sideDo(tctx, "POST", "/tickle", nil); err != nil {
		c.log.Warn("keep-alive ping failed", zap.Error(err))
		if !c.CheckStatus(ctx) {
			c.log.Warn("gateway session expired, keep-alive stopped")
		}
		return
	}
	c.log.Debug("keep-alive ping sent")
}
