package opsdeck_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	opsdeck "github.com/opsdeck/opsdeck-go"
	"github.com/opsdeck/opsdeck-go/credstore"
)

// stubBackend implements opsdeck.AuthBackend with pluggable behavior per call.
type stubBackend struct {
	loginFn    func(ctx context.Context, username, password string) (*opsdeck.AuthResult, error)
	verifyFn   func(ctx context.Context, challengeID, code string) (*opsdeck.AuthResult, error)
	refreshFn  func(ctx context.Context) (*opsdeck.AuthResult, error)
	logoutFn   func(ctx context.Context) error
	fetchFn    func(ctx context.Context, accessToken string) (*opsdeck.Identity, error)
	passwordFn func(ctx context.Context, accessToken, newPassword string) error

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
}

var _ opsdeck.AuthBackend = (*stubBackend)(nil)

func (s *stubBackend) Login(ctx context.Context, username, password string) (*opsdeck.AuthResult, error) {
	if s.loginFn == nil {
		return nil, errors.New("stub: login not configured")
	}
	return s.loginFn(ctx, username, password)
}

func (s *stubBackend) VerifyChallenge(ctx context.Context, challengeID, code string) (*opsdeck.AuthResult, error) {
	if s.verifyFn == nil {
		return nil, errors.New("stub: verify not configured")
	}
	return s.verifyFn(ctx, challengeID, code)
}

func (s *stubBackend) Refresh(ctx context.Context) (*opsdeck.AuthResult, error) {
	s.refreshCalls.Add(1)
	if s.refreshFn == nil {
		return nil, errors.New("stub: refresh not configured")
	}
	return s.refreshFn(ctx)
}

func (s *stubBackend) Logout(ctx context.Context) error {
	s.logoutCalls.Add(1)
	if s.logoutFn == nil {
		return nil
	}
	return s.logoutFn(ctx)
}

func (s *stubBackend) FetchIdentity(ctx context.Context, accessToken string) (*opsdeck.Identity, error) {
	if s.fetchFn == nil {
		return nil, errors.New("stub: fetch not configured")
	}
	return s.fetchFn(ctx, accessToken)
}

func (s *stubBackend) ChangePassword(ctx context.Context, accessToken, newPassword string) error {
	if s.passwordFn == nil {
		return errors.New("stub: password change not configured")
	}
	return s.passwordFn(ctx, accessToken, newPassword)
}

// captureRecorder collects lifecycle events for assertions.
type captureRecorder struct {
	mu         sync.Mutex
	auths      []string
	challenges []string
	refreshes  []string
	retries    []string
	gates      []string
	teardowns  []string
}

var _ opsdeck.Recorder = (*captureRecorder)(nil)

func (r *captureRecorder) AuthAttempt(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auths = append(r.auths, outcome)
}

func (r *captureRecorder) ChallengeAttempt(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges = append(r.challenges, outcome)
}

func (r *captureRecorder) RefreshAttempt(outcome string, queued int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes = append(r.refreshes, outcome)
}

func (r *captureRecorder) RetryAfterRefresh(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, outcome)
}

func (r *captureRecorder) GateDecision(route, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates = append(r.gates, route+":"+action)
}

func (r *captureRecorder) SessionTeardown(cause string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardowns = append(r.teardowns, cause)
}

func (r *captureRecorder) Auths() []string      { return r.copyOf(&r.auths) }
func (r *captureRecorder) Challenges() []string { return r.copyOf(&r.challenges) }
func (r *captureRecorder) Refreshes() []string  { return r.copyOf(&r.refreshes) }
func (r *captureRecorder) Retries() []string    { return r.copyOf(&r.retries) }
func (r *captureRecorder) Gates() []string      { return r.copyOf(&r.gates) }
func (r *captureRecorder) Teardowns() []string  { return r.copyOf(&r.teardowns) }

func (r *captureRecorder) copyOf(list *[]string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(*list))
	copy(out, *list)
	return out
}

// navCapture records where the client navigated.
type navCapture struct {
	mu     sync.Mutex
	routes []string
}

func (n *navCapture) hook() func(string) {
	return func(route string) {
		n.mu.Lock()
		defer n.mu.Unlock()
		n.routes = append(n.routes, route)
	}
}

func (n *navCapture) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.routes))
	copy(out, n.routes)
	return out
}

// grants builds a capability set, failing the test on invalid names.
func grants(t *testing.T, caps ...opsdeck.Capability) opsdeck.CapabilitySet {
	t.Helper()
	set, err := opsdeck.NewCapabilitySet(caps...)
	if err != nil {
		t.Fatalf("NewCapabilitySet() error: %v", err)
	}
	return set
}

// seededClient builds a client that restores an established session from a
// pre-filled memory store, so tests can start authenticated without a
// backend login.
func seededClient(t *testing.T, token string, id *opsdeck.Identity, opts ...opsdeck.Option) *opsdeck.Client {
	t.Helper()
	return seededClientWithConfig(t, opsdeck.Config{}, token, id, opts...)
}

func seededClientWithConfig(t *testing.T, cfg opsdeck.Config, token string, id *opsdeck.Identity, opts ...opsdeck.Option) *opsdeck.Client {
	t.Helper()
	store := credstore.NewMemory()
	err := store.Save(context.Background(), &opsdeck.Credentials{AccessToken: token, Identity: id})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	c, err := opsdeck.NewClient(cfg,
		append([]opsdeck.Option{opsdeck.WithCredentialStore(store)}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
