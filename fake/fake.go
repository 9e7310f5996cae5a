// Package fake provides an in-memory AuthBackend for testing.
//
// Use fake.NewClient() in unit tests to exercise the full session lifecycle
// without network calls. The returned Backend steers server behavior:
// revoking the refresh credential, disabling accounts, and counting calls.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	opsdeck "github.com/opsdeck/opsdeck-go"
	"github.com/opsdeck/opsdeck-go/credstore"
)

// User describes a directory entry for the fake backend.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Password    string
	Role        opsdeck.Role
	Permissions []opsdeck.Capability

	// MFACode, when non-empty, makes logins for this user demand a
	// second factor with exactly this code.
	MFACode string

	Disabled bool
}

type userEntry struct {
	identity *opsdeck.Identity
	password string
	mfaCode  string
	disabled bool
}

type challengeEntry struct {
	username string
	code     string
}

type state struct {
	mu         sync.Mutex
	users      map[string]*userEntry      // username → entry
	challenges map[string]*challengeEntry // challengeID → entry
	failures   map[string]int             // username → consecutive bad passwords

	// One refresh credential at a time, owned by whoever logged in last.
	refreshOK   bool
	currentUser string

	loginCalls   int
	refreshCalls int
	logoutCalls  int

	signingKey  []byte
	tokenTTL    time.Duration
	maxAttempts int
	nextSerial  int
}

// Option configures the fake backend.
type Option func(*state)

// WithUser adds a directory entry. Invalid permission grants panic: a bad
// fixture is a bug in the test, not a runtime condition.
func WithUser(u User) Option {
	return func(s *state) {
		var caps opsdeck.CapabilitySet
		if u.Role == opsdeck.RoleTech {
			var err error
			caps, err = opsdeck.NewCapabilitySet(u.Permissions...)
			if err != nil {
				panic(fmt.Sprintf("fake: user %q: %v", u.Username, err))
			}
		}
		s.users[u.Username] = &userEntry{
			identity: &opsdeck.Identity{
				ID:          u.ID,
				Username:    u.Username,
				DisplayName: u.DisplayName,
				Role:        u.Role,
				Permissions: caps,
			},
			password: u.Password,
			mfaCode:  u.MFACode,
			disabled: u.Disabled,
		}
	}
}

// WithSigningKey sets the HS256 key for minted access tokens.
func WithSigningKey(key []byte) Option {
	return func(s *state) { s.signingKey = key }
}

// WithTokenTTL sets the lifetime of minted access tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *state) { s.tokenTTL = d }
}

// WithMaxAttempts enables login throttling: after n consecutive bad
// passwords the account answers rate_limited until a successful login.
func WithMaxAttempts(n int) Option {
	return func(s *state) { s.maxAttempts = n }
}

// Backend implements opsdeck.AuthBackend against an in-memory directory.
type Backend struct {
	s *state
}

// compile-time check
var _ opsdeck.AuthBackend = (*Backend)(nil)

// New creates a fake backend.
func New(opts ...Option) *Backend {
	s := &state{
		users:      make(map[string]*userEntry),
		challenges: make(map[string]*challengeEntry),
		failures:   make(map[string]int),
		signingKey: []byte("fake-signing-key"),
		tokenTTL:   time.Hour,
	}
	for _, o := range opts {
		o(s)
	}
	return &Backend{s: s}
}

// NewClient assembles an *opsdeck.Client wired to a fake backend and an
// in-memory credential store.
func NewClient(opts ...Option) (*opsdeck.Client, *Backend) {
	b := New(opts...)
	c, _ := opsdeck.NewClient(opsdeck.Config{},
		opsdeck.WithBackend(b),
		opsdeck.WithCredentialStore(credstore.NewMemory()),
	)
	return c, b
}

// tokenClaims is the payload of minted access tokens.
type tokenClaims struct {
	Username string `json:"username"`
	Serial   int    `json:"serial"`
	jwt.RegisteredClaims
}

// mintLocked signs a fresh access token. The serial makes every token
// distinct even within one clock tick.
func (s *state) mintLocked(id *opsdeck.Identity) (string, error) {
	now := time.Now().UTC()
	s.nextSerial++
	claims := tokenClaims{
		Username: id.Username,
		Serial:   s.nextSerial,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    "opsdeck-fake",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("fake: failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *state) parseToken(tokenString string) (*tokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// establishLocked opens a session for the user: mints a token and arms the
// refresh credential.
func (s *state) establishLocked(u *userEntry) (*opsdeck.AuthResult, error) {
	tok, err := s.mintLocked(u.identity)
	if err != nil {
		return nil, err
	}
	s.refreshOK = true
	s.currentUser = u.identity.Username
	return &opsdeck.AuthResult{AccessToken: tok, Identity: u.identity.Clone()}, nil
}

// Login checks the directory and either opens a session or demands the
// user's second factor.
func (b *Backend) Login(_ context.Context, username, password string) (*opsdeck.AuthResult, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.loginCalls++

	u, ok := b.s.users[username]
	if !ok {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonInvalidCredentials,
			Err: fmt.Errorf("fake: unknown user %q", username)}
	}
	if u.disabled {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonAccountDisabled,
			Err: fmt.Errorf("fake: user %q is disabled", username)}
	}
	if b.s.maxAttempts > 0 && b.s.failures[username] >= b.s.maxAttempts {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonRateLimited,
			RetryAfter: 30 * time.Second,
			Err:        fmt.Errorf("fake: user %q is throttled", username)}
	}
	if u.password != password {
		b.s.failures[username]++
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonInvalidCredentials,
			Err: fmt.Errorf("fake: wrong password for %q", username)}
	}
	delete(b.s.failures, username)

	if u.mfaCode != "" {
		id := uuid.NewString()
		b.s.challenges[id] = &challengeEntry{username: username, code: u.mfaCode}
		return &opsdeck.AuthResult{ChallengeRequired: true, ChallengeID: id}, nil
	}
	return b.s.establishLocked(u)
}

// VerifyChallenge completes a pending challenge. A wrong code leaves the
// challenge in place so it can be retried.
func (b *Backend) VerifyChallenge(_ context.Context, challengeID, code string) (*opsdeck.AuthResult, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	ch, ok := b.s.challenges[challengeID]
	if !ok {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonInvalidChallenge,
			Err: fmt.Errorf("fake: unknown or expired challenge")}
	}
	if ch.code != code {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonInvalidChallenge,
			Err: fmt.Errorf("fake: wrong challenge code")}
	}
	delete(b.s.challenges, challengeID)
	return b.s.establishLocked(b.s.users[ch.username])
}

// Refresh mints a new access token against the held refresh credential.
func (b *Backend) Refresh(_ context.Context) (*opsdeck.AuthResult, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.refreshCalls++

	if !b.s.refreshOK || b.s.currentUser == "" {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonRefreshFailed,
			Err: fmt.Errorf("fake: refresh credential revoked")}
	}
	u := b.s.users[b.s.currentUser]
	if u == nil || u.disabled {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonRefreshFailed,
			Err: fmt.Errorf("fake: account no longer active")}
	}
	tok, err := b.s.mintLocked(u.identity)
	if err != nil {
		return nil, err
	}
	return &opsdeck.AuthResult{AccessToken: tok, Identity: u.identity.Clone()}, nil
}

// Logout revokes the refresh credential.
func (b *Backend) Logout(_ context.Context) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.logoutCalls++
	b.s.refreshOK = false
	b.s.currentUser = ""
	return nil
}

// FetchIdentity resolves the identity behind an access token.
func (b *Backend) FetchIdentity(_ context.Context, accessToken string) (*opsdeck.Identity, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	claims, err := b.s.parseToken(accessToken)
	if err != nil {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonTokenInvalid, Err: err}
	}
	u, ok := b.s.users[claims.Username]
	if !ok {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonTokenInvalid,
			Err: fmt.Errorf("fake: user %q no longer exists", claims.Username)}
	}
	return u.identity.Clone(), nil
}

// ChangePassword sets a new password for the token's owner.
func (b *Backend) ChangePassword(_ context.Context, accessToken, newPassword string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	claims, err := b.s.parseToken(accessToken)
	if err != nil {
		return &opsdeck.AuthError{Reason: opsdeck.ReasonTokenInvalid, Err: err}
	}
	u, ok := b.s.users[claims.Username]
	if !ok {
		return &opsdeck.AuthError{Reason: opsdeck.ReasonTokenInvalid,
			Err: fmt.Errorf("fake: user %q no longer exists", claims.Username)}
	}
	u.password = newPassword
	return nil
}

// RevokeRefresh invalidates the held refresh credential, so the next
// Refresh fails. Simulates server-side revocation or expiry.
func (b *Backend) RevokeRefresh() {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.refreshOK = false
}

// DisableUser marks an account disabled.
func (b *Backend) DisableUser(username string) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if u, ok := b.s.users[username]; ok {
		u.disabled = true
	}
}

// LoginCalls returns how many login requests the backend served.
func (b *Backend) LoginCalls() int {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.s.loginCalls
}

// RefreshCalls returns how many refresh requests the backend served.
func (b *Backend) RefreshCalls() int {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.s.refreshCalls
}

// LogoutCalls returns how many logout requests the backend served.
func (b *Backend) LogoutCalls() int {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.s.logoutCalls
}
