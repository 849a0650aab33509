package gateway

import "context"

// Authenticator performs the actual credential submission against the
// gateway (browser-driven or interactive). The client never inspects how
// login was done; it only needs success or a human-readable failure.
type Authenticator interface {
	Login(ctx context.Context) error
}

// GatewayManager manages the external gateway process lifecycle. When
// configured on a Client it is consulted before authentication: EnsureReady
// fails when the gateway is unreachable, and CurrentPort may differ from
// the configured port after a gateway restart.
type GatewayManager interface {
	EnsureReady(ctx context.Context) error
	CurrentPort() int
}

// Compile-time check that a static port config satisfies GatewayManager.
var _ GatewayManager = StaticGateway{}

// StaticGateway is a GatewayManager for a gateway at a fixed, externally
// managed port. EnsureReady always succeeds; reachability surfaces on the
// first real call instead.
type StaticGateway struct {
	Port int
}

func (s StaticGateway) EnsureReady(context.Context) error { return nil }

func (s StaticGateway) CurrentPort() int { return s.Port }
