package opsdeck

import "context"

// CredentialStore persists session credentials across restarts.
// Implementations: credstore/ (memory, file, redis).
type CredentialStore interface {
	// Load returns the stored credentials, or (nil, nil) when none exist.
	Load(ctx context.Context) (*Credentials, error)

	// Save overwrites the stored credentials.
	Save(ctx context.Context, creds *Credentials) error

	// Clear removes any stored credentials. Clearing an empty store is not
	// an error.
	Clear(ctx context.Context) error
}

// AuthBackend talks to the console's authentication endpoints.
// Implementations: rest/ (HTTP API), fake/ (in-memory, for tests).
//
// Backends are credential-passive: methods that act on an established
// session take the access token explicitly, and the refresh credential is
// held inside the backend (HTTP-only cookie jar for rest/), out of reach
// of callers.
type AuthBackend interface {
	// Login exchanges primary credentials for either a session or a
	// second-factor challenge.
	Login(ctx context.Context, username, password string) (*AuthResult, error)

	// VerifyChallenge completes a pending challenge with the user's code.
	VerifyChallenge(ctx context.Context, challengeID, code string) (*AuthResult, error)

	// Refresh trades the held refresh credential for a fresh access token.
	Refresh(ctx context.Context) (*AuthResult, error)

	// Logout revokes the refresh credential server-side. Best effort; the
	// caller tears the session down regardless of the outcome.
	Logout(ctx context.Context) error

	// FetchIdentity returns the identity behind the access token.
	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)

	// ChangePassword sets a new password for the authenticated user.
	ChangePassword(ctx context.Context, accessToken, newPassword string) error
}

// Recorder observes session lifecycle events for metrics and audit trails.
// Implementations: metrics/ (Prometheus), audit/ (structured event log).
// All methods must be safe for concurrent use and must not block.
type Recorder interface {
	// AuthAttempt records a login outcome: "ok", "challenge", or a
	// failure reason label.
	AuthAttempt(outcome string)

	// ChallengeAttempt records a second-factor outcome: "ok", "cancelled",
	// or a failure reason label.
	ChallengeAttempt(outcome string)

	// RefreshAttempt records a refresh flight outcome ("ok" or a failure
	// reason label) and how many callers were queued on it.
	RefreshAttempt(outcome string, queued int)

	// RetryAfterRefresh records the status of a request replayed with a
	// refreshed token: "ok", "unauthorized", or "error".
	RetryAfterRefresh(outcome string)

	// GateDecision records a navigation ruling for a route.
	GateDecision(route, action string)

	// SessionTeardown records the end of a session: "logout" or
	// "refresh_failed".
	SessionTeardown(cause string)
}
