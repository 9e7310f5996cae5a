package opsdeck

import (
	"context"
	"fmt"
	"strings"
)

// challengeCodeLength is the exact length of a second-factor code. Shorter
// or longer input is rejected locally without a server round trip.
const challengeCodeLength = 6

// Snapshot returns a point-in-time, read-only view of the session.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() Snapshot {
	return Snapshot{
		State:      c.state,
		Identity:   c.identity.Clone(),
		Generation: c.gen,
	}
}

// Identity returns a copy of the authenticated identity, or nil when no
// session is established.
func (c *Client) Identity() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated {
		return nil
	}
	return c.identity.Clone()
}

// Authenticated reports whether a session is established.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateAuthenticated && c.identity != nil
}

// Subscribe registers an observer that is called with a fresh snapshot
// after every session transition. The returned func cancels the
// subscription. Observers run outside the session lock, so they may call
// back into the client.
func (c *Client) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// notifyLocked captures the current snapshot and subscriber list. The
// returned func delivers the notifications and must be called after
// releasing c.mu.
func (c *Client) notifyLocked() func() {
	snap := c.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(snap)
		}
	}
}

// Login starts a session with primary credentials. Three things can come
// back: a LoginOK result with the identity, a LoginChallengeRequired result
// when the server wants a second factor, or an error. Empty input is
// rejected locally with ErrCredentialsRequired before any network call.
//
// If a session already exists it survives a failed re-login untouched; it
// is replaced only once the new login fully succeeds.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, ErrCredentialsRequired
	}
	if c.backend == nil {
		return LoginResult{}, ErrNoBackend
	}

	c.mu.Lock()
	if c.state == StateAuthenticating {
		c.mu.Unlock()
		return LoginResult{}, ErrAuthInProgress
	}
	wasAuthenticated := c.state == StateAuthenticated
	c.challenge = nil // a new login supersedes any pending challenge
	c.state = StateAuthenticating
	gen := c.gen
	notify := c.notifyLocked()
	c.mu.Unlock()
	notify()

	res, err := c.backend.Login(ctx, username, password)

	c.mu.Lock()
	if c.gen != gen {
		// Logged out while the call was in flight; discard the outcome.
		c.mu.Unlock()
		return LoginResult{}, ErrSessionExpired
	}
	if err == nil && !res.ChallengeRequired && res.Identity == nil {
		err = &AuthError{Reason: ReasonServer, Err: fmt.Errorf("login response missing identity")}
	}
	if err != nil {
		if wasAuthenticated {
			c.state = StateAuthenticated
		} else {
			c.state = StateAnonymous
		}
		notify := c.notifyLocked()
		c.mu.Unlock()
		notify()
		outcome := string(ReasonOf(err))
		c.record(func(r Recorder) { r.AuthAttempt(outcome) })
		c.logger.Warn("login failed", "user", username, "reason", outcome)
		return LoginResult{}, err
	}
	if res.ChallengeRequired {
		c.challenge = &Challenge{ID: res.ChallengeID}
		c.state = StateMFAPending
		notify := c.notifyLocked()
		c.mu.Unlock()
		notify()
		c.record(func(r Recorder) { r.AuthAttempt("challenge") })
		c.logger.Info("login requires second factor", "user", username)
		return LoginResult{Status: LoginChallengeRequired}, nil
	}
	c.adoptSessionLocked(ctx, res.AccessToken, res.Identity)
	notify = c.notifyLocked()
	c.mu.Unlock()
	notify()
	c.record(func(r Recorder) { r.AuthAttempt("ok") })
	c.logger.Info("login succeeded", "user", res.Identity.Username, "role", res.Identity.Role)
	return LoginResult{Status: LoginOK, Identity: res.Identity.Clone()}, nil
}

// VerifyChallenge completes a pending second-factor prompt. A malformed
// code is rejected locally; a server rejection leaves the challenge pending
// so the operator can try again. Without a pending challenge it returns
// ErrNoChallenge and has no side effects.
func (c *Client) VerifyChallenge(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if len(code) != challengeCodeLength {
		return fmt.Errorf("%w: code must be %d characters", ErrInvalidChallengeCode, challengeCodeLength)
	}
	if c.backend == nil {
		return ErrNoBackend
	}

	c.mu.Lock()
	if c.state != StateMFAPending || c.challenge == nil {
		c.mu.Unlock()
		return ErrNoChallenge
	}
	challengeID := c.challenge.ID
	gen := c.gen
	c.mu.Unlock()

	res, err := c.backend.VerifyChallenge(ctx, challengeID, code)

	c.mu.Lock()
	if c.gen != gen || c.state != StateMFAPending || c.challenge == nil || c.challenge.ID != challengeID {
		// The prompt went away while the call was in flight.
		c.mu.Unlock()
		return ErrNoChallenge
	}
	if err == nil && res.Identity == nil {
		err = &AuthError{Reason: ReasonServer, Err: fmt.Errorf("challenge response missing identity")}
	}
	if err != nil {
		c.mu.Unlock()
		outcome := string(ReasonOf(err))
		c.record(func(r Recorder) { r.ChallengeAttempt(outcome) })
		c.logger.Warn("challenge verification failed", "reason", outcome)
		return err
	}
	c.adoptSessionLocked(ctx, res.AccessToken, res.Identity)
	notify := c.notifyLocked()
	c.mu.Unlock()
	notify()
	c.record(func(r Recorder) { r.ChallengeAttempt("ok") })
	c.logger.Info("login succeeded", "user", res.Identity.Username, "role", res.Identity.Role)
	return nil
}

// CancelChallenge abandons a pending second-factor prompt and returns the
// session to anonymous. In any other state it does nothing.
func (c *Client) CancelChallenge() {
	c.mu.Lock()
	if c.state != StateMFAPending {
		c.mu.Unlock()
		return
	}
	c.challenge = nil
	c.state = StateAnonymous
	notify := c.notifyLocked()
	c.mu.Unlock()
	notify()
	c.record(func(r Recorder) { r.ChallengeAttempt("cancelled") })
	c.logger.Info("challenge cancelled")
}

// Logout ends the session. Local state and stored credentials are cleared
// unconditionally and the navigator is pointed at the entry route; the
// server-side revoke runs in the background as best effort, with failures
// logged and dropped. Valid in every state and idempotent.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	wasState := c.state
	hadSession := c.state == StateAuthenticated
	c.state = StateAnonymous
	c.token = ""
	c.identity = nil
	c.challenge = nil
	var notify func()
	if wasState != StateAnonymous {
		c.gen++
		notify = c.notifyLocked()
	}
	if c.store != nil {
		if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("clearing stored credentials failed", "error", err)
		}
	}
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	if hadSession {
		c.record(func(r Recorder) { r.SessionTeardown("logout") })
		if c.backend != nil {
			go c.revoke(ctx)
		}
	}
	c.goTo(c.config.EntryRoute)
	if wasState != StateAnonymous {
		c.logger.Info("logged out", "from", wasState.String())
	}
}

// revoke runs the best-effort server-side logout on a detached, bounded
// context. The local session is already gone, so failures are only logged.
func (c *Client) revoke(ctx context.Context) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.RevokeTimeout)
	defer cancel()
	if err := c.backend.Logout(rctx); err != nil {
		c.logger.Warn("server-side logout failed", "error", err)
	}
}

// expireSession tears the session down after an unrecoverable refresh
// failure. The generation check makes it a no-op when the session already
// ended or was replaced while the refresh was in flight.
func (c *Client) expireSession(gen uint64) bool {
	c.mu.Lock()
	if c.gen != gen || c.state != StateAuthenticated {
		c.mu.Unlock()
		return false
	}
	c.gen++
	c.state = StateAnonymous
	c.token = ""
	c.identity = nil
	c.challenge = nil
	notify := c.notifyLocked()
	if c.store != nil {
		if err := c.store.Clear(context.Background()); err != nil {
			c.logger.Warn("clearing stored credentials failed", "error", err)
		}
	}
	c.mu.Unlock()

	notify()
	c.record(func(r Recorder) { r.SessionTeardown("refresh_failed") })
	c.goTo(c.config.EntryRoute)
	c.logger.Warn("session expired: token refresh failed")
	return true
}

// adoptSessionLocked installs a fresh session, clearing residue from any
// previous operator first. Caller holds c.mu.
func (c *Client) adoptSessionLocked(ctx context.Context, token string, id *Identity) {
	c.token = token
	c.identity = id.Clone()
	c.challenge = nil
	c.state = StateAuthenticated
	if c.store == nil {
		return
	}
	sctx := context.WithoutCancel(ctx)
	if err := c.store.Clear(sctx); err != nil {
		c.logger.Warn("clearing previous credentials failed", "error", err)
	}
	if err := c.store.Save(sctx, &Credentials{AccessToken: token, Identity: id.Clone()}); err != nil {
		c.logger.Warn("persisting credentials failed", "error", err)
	}
}

// credentialSnapshot returns the current access token and session generation.
func (c *Client) credentialSnapshot() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.gen
}

// adoptRefresh installs a refreshed access token, provided the session that
// asked for it is still the live one. Returns false when the result must be
// discarded.
func (c *Client) adoptRefresh(gen uint64, res *AuthResult) bool {
	c.mu.Lock()
	if c.gen != gen || c.state != StateAuthenticated {
		c.mu.Unlock()
		return false
	}
	c.token = res.AccessToken
	var notify func()
	if res.Identity != nil {
		c.identity = res.Identity.Clone()
		notify = c.notifyLocked()
	}
	if c.store != nil {
		creds := &Credentials{AccessToken: c.token, Identity: c.identity.Clone()}
		if err := c.store.Save(context.Background(), creds); err != nil {
			c.logger.Warn("persisting refreshed credentials failed", "error", err)
		}
	}
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
	return true
}

// RefreshIdentity re-fetches the identity behind the current session,
// picking up server-side role or permission changes without a new login.
func (c *Client) RefreshIdentity(ctx context.Context) (*Identity, error) {
	if c.backend == nil {
		return nil, ErrNoBackend
	}
	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return nil, ErrSessionExpired
	}
	token := c.token
	gen := c.gen
	c.mu.Unlock()

	id, err := c.backend.FetchIdentity(ctx, token)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateAuthenticated {
		c.mu.Unlock()
		return nil, ErrSessionExpired
	}
	c.identity = id.Clone()
	if c.store != nil {
		creds := &Credentials{AccessToken: c.token, Identity: id.Clone()}
		if err := c.store.Save(context.WithoutCancel(ctx), creds); err != nil {
			c.logger.Warn("persisting refreshed identity failed", "error", err)
		}
	}
	notify := c.notifyLocked()
	c.mu.Unlock()
	notify()
	return id, nil
}

// ChangePassword sets a new password for the authenticated operator.
func (c *Client) ChangePassword(ctx context.Context, newPassword string) error {
	if newPassword == "" {
		return ErrCredentialsRequired
	}
	if c.backend == nil {
		return ErrNoBackend
	}
	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return ErrSessionExpired
	}
	token := c.token
	c.mu.Unlock()
	return c.backend.ChangePassword(ctx, token, newPassword)
}
