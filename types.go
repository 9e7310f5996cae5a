package opsdeck

// Identity describes the authenticated operator as reported by the console
// backend. It is immutable once stored; session updates replace the whole value.
type Identity struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	DisplayName string        `json:"display_name,omitempty"`
	Role        Role          `json:"role"`
	Permissions CapabilitySet `json:"permissions,omitempty"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the session's internal state to mutation.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	cp.Permissions = id.Permissions.clone()
	return &cp
}

// Credentials is the durable session material: the short-lived access token
// plus the identity it was issued for. The refresh credential is deliberately
// absent; it lives server-side (HTTP-only cookie) and never passes through here.
type Credentials struct {
	AccessToken string    `json:"access_token"`
	Identity    *Identity `json:"identity,omitempty"`
}

// Challenge is a pending second-factor prompt returned by a login attempt.
type Challenge struct {
	// ID is the opaque server handle for this prompt. It is sent back with
	// the code and is never logged.
	ID string
}

// AuthResult is what a backend returns from login, challenge verification
// and refresh calls. Exactly one of the two shapes is populated: either
// AccessToken (+Identity) for a completed authentication, or ChallengeID
// when the server demands a second factor first.
type AuthResult struct {
	AccessToken string
	Identity    *Identity

	ChallengeRequired bool
	ChallengeID       string
}

// LoginStatus distinguishes the two successful outcomes of Login.
type LoginStatus int

const (
	// LoginOK means the session is fully established.
	LoginOK LoginStatus = iota

	// LoginChallengeRequired means the server wants a second factor;
	// call VerifyChallenge with the code to finish.
	LoginChallengeRequired
)

// LoginResult reports a successful Login call.
type LoginResult struct {
	Status   LoginStatus
	Identity *Identity // set when Status == LoginOK
}

// State is the coarse position of the session lifecycle.
type State int

const (
	// StateAnonymous means no session exists.
	StateAnonymous State = iota

	// StateAuthenticating means a login call is in flight.
	StateAuthenticating

	// StateMFAPending means primary credentials were accepted and a
	// challenge code is awaited.
	StateMFAPending

	// StateAuthenticated means the session is established.
	StateAuthenticated
)

// String returns the lowercase name used in logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateMFAPending:
		return "mfa_pending"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time, read-only view of the session. Identity is a
// deep copy; mutating it does not touch the live session.
type Snapshot struct {
	State    State
	Identity *Identity

	// Generation increments on every teardown. Two snapshots with different
	// generations belong to different sessions even if the identity matches.
	Generation uint64
}

// Authenticated reports whether the snapshot represents an established session.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.Identity != nil
}
