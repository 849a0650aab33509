package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKind buckets gateway client failures for control flow. Anything that
// does not fit a known bucket falls back to ErrKindUnknown.
type ErrKind string

const (
	ErrKindAuthExhausted  ErrKind = "auth_exhausted"
	ErrKindAuthPending    ErrKind = "auth_pending"
	ErrKindSymbolNotFound ErrKind = "symbol_not_found"
	ErrKindOrderRejected  ErrKind = "order_rejected"
	ErrKindTransport      ErrKind = "transport"
	ErrKindUnknown        ErrKind = "unknown"
)

// AuthRequiredMessage is the single user-facing remediation text for every
// authentication-classified failure, regardless of which operation hit it.
const AuthRequiredMessage = "authentication required: please authenticate with the gateway first"

// GatewayError is the error type returned by all client operations.
type GatewayError struct {
	Kind   ErrKind
	Op     string // operation context, e.g. "place stock order AAPL"
	Symbol string
	Status int // HTTP status when the gateway responded, else 0
	Msg    string
	Cause  error

	// IsAuthError marks failures the classifier attributed to a lost or
	// missing session. Callers can present AuthRequiredMessage uniformly
	// instead of the raw transport error.
	IsAuthError bool
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// KindOf extracts the ErrKind from err, or ErrKindUnknown.
func KindOf(err error) ErrKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ErrKindUnknown
}

// IsAuthError reports whether err was classified as an authentication
// failure (including attempt exhaustion).
func IsAuthError(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.IsAuthError || ge.Kind == ErrKindAuthExhausted || ge.Kind == ErrKindAuthPending
	}
	return false
}

// authErrorSubstrings are the message fragments the gateway is observed to
// emit for session problems. The list is deliberately short; it is a
// heuristic, not a contract.
var authErrorSubstrings = []string{
	"authentication",
	"authenticate",
	"unauthorized",
	"not authenticated",
	"login",
}

// isAuthenticationError decides whether a failure represents "not
// authenticated". The gateway has no canonical auth-error shape: it may
// answer 401/403, or a 500 with a session message, or a body like
// {"error":"not authenticated"}. 500 is included because the gateway
// returns it for session problems, not just server faults; a genuine
// unrelated 500 is an accepted false positive since classification only
// changes the displayed message.
func isAuthenticationError(status int, msg, body string) bool {
	if status == 401 || status == 403 || status == 500 {
		return true
	}
	haystack := strings.ToLower(msg + " " + body)
	for _, s := range authErrorSubstrings {
		if strings.Contains(haystack, s) {
			return true
		}
	}
	return false
}

// Classify maps an arbitrary error to its ErrKind, folding classified
// authentication failures into ErrKindAuthPending.
func Classify(err error) ErrKind {
	if err == nil {
		return ErrKindUnknown
	}
	var ge *GatewayError
	if !errors.As(err, &ge) {
		return ErrKindUnknown
	}
	if ge.Kind != ErrKindTransport && ge.Kind != ErrKindUnknown {
		return ge.Kind
	}
	if ge.IsAuthError || isAuthenticationError(ge.Status, ge.Msg, "") {
		return ErrKindAuthPending
	}
	return ge.Kind
}

func newSymbolNotFoundError(symbol string) *GatewayError {
	return &GatewayError{
		Kind:   ErrKindSymbolNotFound,
		Symbol: symbol,
		Msg:    fmt.Sprintf("symbol %s not found", symbol),
	}
}

func newAuthExhaustedError(max int) *GatewayError {
	return &GatewayError{
		Kind:        ErrKindAuthExhausted,
		Msg:         fmt.Sprintf("max authentication attempts (%d) exceeded", max),
		IsAuthError: true,
	}
}

func newAuthPendingError(cause error) *GatewayError {
	return &GatewayError{
		Kind:        ErrKindAuthPending,
		Msg:         "failed to authenticate with gateway",
		Cause:       cause,
		IsAuthError: true,
	}
}

// opError attaches operation context to err. Authentication-classified
// errors keep the uniform remediation message and are passed through
// untouched so every operation surfaces the same text.
func opError(op string, err error) error {
	var ge *GatewayError
	if errors.As(err, &ge) {
		if ge.IsAuthError || ge.Kind == ErrKindAuthExhausted || ge.Kind == ErrKindAuthPending {
			return err
		}
		if ge.Op == "" {
			ge.Op = op
		}
		return err
	}
	return &GatewayError{Kind: ErrKindUnknown, Op: op, Msg: "operation failed", Cause: err}
}
