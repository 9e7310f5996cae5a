package opsdeck

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the authentication lifecycle. Backend failures are
// reported as an *AuthError that matches one of these via errors.Is, so
// callers branch on the sentinel without caring how the failure traveled.
var (
	// ErrCredentialsRequired is returned locally when username or password
	// is empty; no backend call is made.
	ErrCredentialsRequired = errors.New("opsdeck: username and password are required")

	// ErrAuthInProgress is returned when Login is called while another
	// login call is still in flight.
	ErrAuthInProgress = errors.New("opsdeck: authentication already in progress")

	// ErrNoChallenge is returned when VerifyChallenge is called without a
	// pending second-factor prompt.
	ErrNoChallenge = errors.New("opsdeck: no pending challenge")

	// ErrNoBackend is returned when an operation needs a backend and none
	// was configured.
	ErrNoBackend = errors.New("opsdeck: no auth backend configured")

	// ErrInvalidCredentials means the server rejected the username/password pair.
	ErrInvalidCredentials = errors.New("opsdeck: invalid credentials")

	// ErrAccountDisabled means the account exists but is administratively disabled.
	ErrAccountDisabled = errors.New("opsdeck: account disabled")

	// ErrRateLimited means the server is throttling login attempts.
	ErrRateLimited = errors.New("opsdeck: too many attempts")

	// ErrInvalidChallengeCode means the second-factor code is malformed or
	// was rejected by the server. The challenge stays pending either way.
	ErrInvalidChallengeCode = errors.New("opsdeck: invalid challenge code")

	// ErrTokenInvalid means the access token was rejected by a resource call.
	ErrTokenInvalid = errors.New("opsdeck: access token rejected")

	// ErrRefreshFailed means the refresh credential could not produce a new
	// access token; the session has been torn down.
	ErrRefreshFailed = errors.New("opsdeck: token refresh failed")

	// ErrSessionExpired means the session ended while an operation was in
	// flight; the operation's result was discarded.
	ErrSessionExpired = errors.New("opsdeck: session expired")
)

// Reason classifies an authentication failure on the wire.
type Reason string

const (
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonAccountDisabled    Reason = "account_disabled"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonInvalidChallenge   Reason = "invalid_challenge"
	ReasonTokenInvalid       Reason = "token_invalid"
	ReasonRefreshFailed      Reason = "refresh_failed"
	ReasonNetwork            Reason = "network"
	ReasonServer             Reason = "server_error"
)

var reasonSentinels = map[Reason]error{
	ReasonInvalidCredentials: ErrInvalidCredentials,
	ReasonAccountDisabled:    ErrAccountDisabled,
	ReasonRateLimited:        ErrRateLimited,
	ReasonInvalidChallenge:   ErrInvalidChallengeCode,
	ReasonTokenInvalid:       ErrTokenInvalid,
	ReasonRefreshFailed:      ErrRefreshFailed,
}

// AuthError carries the classified reason for a failed authentication call,
// plus the transport-level cause when there is one.
type AuthError struct {
	Reason Reason

	// RetryAfter is the server-suggested wait before retrying. Only set
	// for ReasonRateLimited, and only when the server sent one.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("opsdeck: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("opsdeck: %s", e.Reason)
}

// Unwrap returns the transport-level cause.
func (e *AuthError) Unwrap() error { return e.Err }

// Is matches the sentinel corresponding to the error's reason, so
// errors.Is(err, ErrInvalidCredentials) works on wrapped backend failures.
func (e *AuthError) Is(target error) bool {
	s, ok := reasonSentinels[e.Reason]
	return ok && target == s
}

// ReasonOf extracts the failure classification from an error chain.
// Unclassified errors report ReasonNetwork, the conservative default for
// "something between us and the server broke".
func ReasonOf(err error) Reason {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	for r, s := range reasonSentinels {
		if errors.Is(err, s) {
			return r
		}
	}
	return ReasonNetwork
}

// RetryAfterOf returns the server-suggested backoff, or zero when the
// error carries none.
func RetryAfterOf(err error) time.Duration {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}
