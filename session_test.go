package opsdeck_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	opsdeck "github.com/opsdeck/opsdeck-go"
	"github.com/opsdeck/opsdeck-go/credstore"
	"github.com/opsdeck/opsdeck-go/fake"
)

// newFakeClient assembles a client against a fake backend with observers
// attached, mirroring how the console wires the real thing.
func newFakeClient(t *testing.T, rec *captureRecorder, nav *navCapture, opts ...fake.Option) (*opsdeck.Client, *fake.Backend) {
	t.Helper()
	b := fake.New(opts...)
	clientOpts := []opsdeck.Option{
		opsdeck.WithBackend(b),
		opsdeck.WithCredentialStore(credstore.NewMemory()),
	}
	if rec != nil {
		clientOpts = append(clientOpts, opsdeck.WithRecorder(rec))
	}
	if nav != nil {
		clientOpts = append(clientOpts, opsdeck.WithNavigator(nav.hook()))
	}
	c, err := opsdeck.NewClient(opsdeck.Config{}, clientOpts...)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c, b
}

func adaUser() fake.Option {
	return fake.WithUser(fake.User{
		ID: "u1", Username: "ada", Password: "correct", Role: opsdeck.RoleAdmin,
	})
}

func TestLogin_Success(t *testing.T) {
	rec := &captureRecorder{}
	c, _ := newFakeClient(t, rec, nil, adaUser())

	res, err := c.Login(context.Background(), "ada", "correct")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if res.Status != opsdeck.LoginOK {
		t.Fatalf("Status = %v, want LoginOK", res.Status)
	}
	if res.Identity == nil || res.Identity.Username != "ada" {
		t.Errorf("Identity = %+v, want ada", res.Identity)
	}
	if !c.Authenticated() {
		t.Error("client should be authenticated after login")
	}

	creds, err := c.Store().Load(context.Background())
	if err != nil || creds == nil {
		t.Fatalf("stored credentials missing: creds=%v err=%v", creds, err)
	}
	if creds.AccessToken == "" || creds.Identity.Username != "ada" {
		t.Errorf("stored credentials = %+v, want token and ada", creds)
	}
	if got := rec.Auths(); len(got) != 1 || got[0] != "ok" {
		t.Errorf("auth events = %v, want [ok]", got)
	}
}

func TestLogin_TrimsUsername(t *testing.T) {
	c, _ := newFakeClient(t, nil, nil, adaUser())
	if _, err := c.Login(context.Background(), "  ada  ", "correct"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
}

func TestLogin_EmptyInputRejectedLocally(t *testing.T) {
	c, b := newFakeClient(t, nil, nil, adaUser())

	cases := []struct{ username, password string }{
		{"", "correct"},
		{"ada", ""},
		{"   ", "correct"},
		{"", ""},
	}
	for _, tc := range cases {
		if _, err := c.Login(context.Background(), tc.username, tc.password); !errors.Is(err, opsdeck.ErrCredentialsRequired) {
			t.Errorf("Login(%q, %q) = %v, want ErrCredentialsRequired", tc.username, tc.password, err)
		}
	}
	if b.LoginCalls() != 0 {
		t.Errorf("backend saw %d login calls, want 0", b.LoginCalls())
	}
}

func TestLogin_NoBackend(t *testing.T) {
	c, _ := opsdeck.NewClient(opsdeck.Config{})
	if _, err := c.Login(context.Background(), "ada", "pw"); !errors.Is(err, opsdeck.ErrNoBackend) {
		t.Errorf("Login() = %v, want ErrNoBackend", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	rec := &captureRecorder{}
	c, _ := newFakeClient(t, rec, nil, adaUser())

	_, err := c.Login(context.Background(), "ada", "wrong")
	if !errors.Is(err, opsdeck.ErrInvalidCredentials) {
		t.Fatalf("Login() = %v, want ErrInvalidCredentials", err)
	}
	if c.Authenticated() {
		t.Error("failed login must not authenticate")
	}
	if creds, _ := c.Store().Load(context.Background()); creds != nil {
		t.Error("failed login must not persist credentials")
	}
	if got := rec.Auths(); len(got) != 1 || got[0] != "invalid_credentials" {
		t.Errorf("auth events = %v, want [invalid_credentials]", got)
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	c, _ := newFakeClient(t, nil, nil, fake.WithUser(fake.User{
		ID: "u9", Username: "mallory", Password: "pw", Role: opsdeck.RoleUser, Disabled: true,
	}))
	if _, err := c.Login(context.Background(), "mallory", "pw"); !errors.Is(err, opsdeck.ErrAccountDisabled) {
		t.Errorf("Login() = %v, want ErrAccountDisabled", err)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	c, _ := newFakeClient(t, nil, nil, adaUser(), fake.WithMaxAttempts(2))

	for i := 0; i < 2; i++ {
		if _, err := c.Login(context.Background(), "ada", "wrong"); !errors.Is(err, opsdeck.ErrInvalidCredentials) {
			t.Fatalf("attempt %d = %v, want ErrInvalidCredentials", i, err)
		}
	}
	_, err := c.Login(context.Background(), "ada", "correct")
	if !errors.Is(err, opsdeck.ErrRateLimited) {
		t.Fatalf("Login() = %v, want ErrRateLimited", err)
	}
	if opsdeck.RetryAfterOf(err) != 30*time.Second {
		t.Errorf("RetryAfterOf = %v, want 30s", opsdeck.RetryAfterOf(err))
	}
}

func TestLogin_ChallengeFlow(t *testing.T) {
	rec := &captureRecorder{}
	c, _ := newFakeClient(t, rec, nil, fake.WithUser(fake.User{
		ID: "u2", Username: "root", Password: "pw", Role: opsdeck.RoleSuperadmin, MFACode: "424242",
	}))

	res, err := c.Login(context.Background(), "root", "pw")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if res.Status != opsdeck.LoginChallengeRequired {
		t.Fatalf("Status = %v, want LoginChallengeRequired", res.Status)
	}
	if c.Authenticated() {
		t.Error("challenge pending must not count as authenticated")
	}
	if got := c.Snapshot().State; got != opsdeck.StateMFAPending {
		t.Errorf("State = %v, want mfa_pending", got)
	}

	// A wrong code is rejected but keeps the prompt alive.
	if err := c.VerifyChallenge(context.Background(), "999999"); !errors.Is(err, opsdeck.ErrInvalidChallengeCode) {
		t.Fatalf("VerifyChallenge(wrong) = %v, want ErrInvalidChallengeCode", err)
	}
	if got := c.Snapshot().State; got != opsdeck.StateMFAPending {
		t.Errorf("State after wrong code = %v, want mfa_pending", got)
	}

	if err := c.VerifyChallenge(context.Background(), "424242"); err != nil {
		t.Fatalf("VerifyChallenge() error: %v", err)
	}
	if !c.Authenticated() {
		t.Fatal("client should be authenticated after the challenge")
	}
	if id := c.Identity(); id == nil || id.Username != "root" {
		t.Errorf("Identity = %+v, want root", id)
	}
	if got := rec.Challenges(); len(got) != 2 || got[0] != "invalid_challenge" || got[1] != "ok" {
		t.Errorf("challenge events = %v, want [invalid_challenge ok]", got)
	}
}

func TestVerifyChallenge_LocalLengthCheck(t *testing.T) {
	// The length check runs before anything else; even without a pending
	// challenge a malformed code reports the malformation.
	b := &stubBackend{}
	c, _ := opsdeck.NewClient(opsdeck.Config{}, opsdeck.WithBackend(b))
	if err := c.VerifyChallenge(context.Background(), "1234"); !errors.Is(err, opsdeck.ErrInvalidChallengeCode) {
		t.Errorf("VerifyChallenge(short) = %v, want ErrInvalidChallengeCode", err)
	}
}

func TestVerifyChallenge_NoChallenge(t *testing.T) {
	b := &stubBackend{}
	c, _ := opsdeck.NewClient(opsdeck.Config{}, opsdeck.WithBackend(b))
	if err := c.VerifyChallenge(context.Background(), "123456"); !errors.Is(err, opsdeck.ErrNoChallenge) {
		t.Errorf("VerifyChallenge() = %v, want ErrNoChallenge", err)
	}
}

func TestVerifyChallenge_KeepsEstablishedSession(t *testing.T) {
	c, _ := newFakeClient(t, nil, nil, adaUser())
	if _, err := c.Login(context.Background(), "ada", "correct"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	if err := c.VerifyChallenge(context.Background(), "123456"); !errors.Is(err, opsdeck.ErrNoChallenge) {
		t.Fatalf("VerifyChallenge() = %v, want ErrNoChallenge", err)
	}
	if !c.Authenticated() {
		t.Error("stray challenge code must not disturb the session")
	}
}

func TestCancelChallenge(t *testing.T) {
	rec := &captureRecorder{}
	c, _ := newFakeClient(t, rec, nil, fake.WithUser(fake.User{
		ID: "u2", Username: "root", Password: "pw", Role: opsdeck.RoleSuperadmin, MFACode: "424242",
	}))

	if _, err := c.Login(context.Background(), "root", "pw"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	c.CancelChallenge()
	if got := c.Snapshot().State; got != opsdeck.StateAnonymous {
		t.Errorf("State = %v, want anonymous", got)
	}
	if err := c.VerifyChallenge(context.Background(), "424242"); !errors.Is(err, opsdeck.ErrNoChallenge) {
		t.Errorf("VerifyChallenge after cancel = %v, want ErrNoChallenge", err)
	}

	// Cancelling again, or outside a challenge, is a no-op.
	c.CancelChallenge()
	if got := rec.Challenges(); len(got) != 1 || got[0] != "cancelled" {
		t.Errorf("challenge events = %v, want [cancelled]", got)
	}
}

func TestLogin_RejectsConcurrentAttempt(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	b := &stubBackend{
		loginFn: func(ctx context.Context, username, password string) (*opsdeck.AuthResult, error) {
			close(started)
			<-release
			return &opsdeck.AuthResult{
				AccessToken: "tok",
				Identity:    &opsdeck.Identity{ID: "u1", Username: username, Role: opsdeck.RoleAdmin},
			}, nil
		},
	}
	c, _ := opsdeck.NewClient(opsdeck.Config{}, opsdeck.WithBackend(b))

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), "ada", "pw")
		done <- err
	}()
	<-started

	if _, err := c.Login(context.Background(), "eve", "pw"); !errors.Is(err, opsdeck.ErrAuthInProgress) {
		t.Errorf("concurrent Login() = %v, want ErrAuthInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Login() error: %v", err)
	}
	if id := c.Identity(); id == nil || id.Username != "ada" {
		t.Errorf("Identity = %+v, want ada", id)
	}
}

func TestLogin_FailureKeepsExistingSession(t *testing.T) {
	c, _ := newFakeClient(t, nil, nil, adaUser())
	if _, err := c.Login(context.Background(), "ada", "correct"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	if _, err := c.Login(context.Background(), "ghost", "pw"); !errors.Is(err, opsdeck.ErrInvalidCredentials) {
		t.Fatalf("Login(ghost) = %v, want ErrInvalidCredentials", err)
	}
	if !c.Authenticated() {
		t.Fatal("existing session must survive a failed re-login")
	}
	if id := c.Identity(); id == nil || id.Username != "ada" {
		t.Errorf("Identity = %+v, want ada", id)
	}
	creds, _ := c.Store().Load(context.Background())
	if creds == nil || creds.Identity.Username != "ada" {
		t.Error("stored credentials must survive a failed re-login")
	}
}

func TestLogin_ReplacesExistingSession(t *testing.T) {
	c, _ := newFakeClient(t, nil, nil, adaUser(), fake.WithUser(fake.User{
		ID: "u3", Username: "bob", Password: "pw", Role: opsdeck.RoleTech,
	}))
	if _, err := c.Login(context.Background(), "ada", "correct"); err != nil {
		t.Fatalf("Login(ada) error: %v", err)
	}
	if _, err := c.Login(context.Background(), "bob", "pw"); err != nil {
		t.Fatalf("Login(bob) error: %v", err)
	}

	if id := c.Identity(); id == nil || id.Username != "bob" {
		t.Errorf("Identity = %+v, want bob", id)
	}
	creds, _ := c.Store().Load(context.Background())
	if creds == nil || creds.Identity.Username != "bob" {
		t.Error("store should hold the new operator's credentials")
	}
}

func TestLogout_Idempotent(t *testing.T) {
	rec := &captureRecorder{}
	nav := &navCapture{}
	c, b := newFakeClient(t, rec, nav, adaUser())
	if _, err := c.Login(context.Background(), "ada", "correct"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	gen := c.Snapshot().Generation

	c.Logout(context.Background())
	if c.Authenticated() {
		t.Fatal("client should be anonymous after logout")
	}
	if creds, _ := c.Store().Load(context.Background()); creds != nil {
		t.Error("logout must clear stored credentials")
	}
	if got := c.Snapshot().Generation; got != gen+1 {
		t.Errorf("Generation = %d, want %d", got, gen+1)
	}
	waitFor(t, func() bool { return b.LogoutCalls() == 1 })

	// A second logout changes nothing and revokes nothing.
	c.Logout(context.Background())
	time.Sleep(50 * time.Millisecond)
	if b.LogoutCalls() != 1 {
		t.Errorf("LogoutCalls = %d, want 1", b.LogoutCalls())
	}
	if got := c.Snapshot().Generation; got != gen+1 {
		t.Errorf("Generation after second logout = %d, want %d", got, gen+1)
	}
	if got := rec.Teardowns(); len(got) != 1 || got[0] != "logout" {
		t.Errorf("teardown events = %v, want [logout]", got)
	}

	// Both calls still land the operator on the entry route.
	routes := nav.list()
	if len(routes) != 2 || routes[0] != opsdeck.RouteLogin || routes[1] != opsdeck.RouteLogin {
		t.Errorf("navigations = %v, want [login login]", routes)
	}
}

func TestLogout_FromPendingChallenge(t *testing.T) {
	c, b := newFakeClient(t, nil, nil, fake.WithUser(fake.User{
		ID: "u2", Username: "root", Password: "pw", Role: opsdeck.RoleSuperadmin, MFACode: "424242",
	}))
	if _, err := c.Login(context.Background(), "root", "pw"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	c.Logout(context.Background())
	if got := c.Snapshot().State; got != opsdeck.StateAnonymous {
		t.Errorf("State = %v, want anonymous", got)
	}
	if err := c.VerifyChallenge(context.Background(), "424242"); !errors.Is(err, opsdeck.ErrNoChallenge) {
		t.Errorf("VerifyChallenge = %v, want ErrNoChallenge", err)
	}

	// No session was established, so there is nothing to revoke server-side.
	time.Sleep(50 * time.Millisecond)
	if b.LogoutCalls() != 0 {
		t.Errorf("LogoutCalls = %d, want 0", b.LogoutCalls())
	}
}

func TestLogout_RevokeFailureIsBestEffort(t *testing.T) {
	id := &opsdeck.Identity{ID: "u1", Username: "ada", Role: opsdeck.RoleAdmin}
	b := &stubBackend{
		logoutFn: func(context.Context) error { return errors.New("server melted") },
	}
	c := seededClient(t, "tok", id, opsdeck.WithBackend(b))

	c.Logout(context.Background())
	if c.Authenticated() {
		t.Error("local teardown must not depend on the server")
	}
	waitFor(t, func() bool { return b.logoutCalls.Load() == 1 })
}

func TestLogout_DuringLoginDiscardsResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	b := &stubBackend{
		loginFn: func(ctx context.Context, username, password string) (*opsdeck.AuthResult, error) {
			close(started)
			<-release
			return &opsdeck.AuthResult{
				AccessToken: "tok",
				Identity:    &opsdeck.Identity{ID: "u1", Username: username, Role: opsdeck.RoleAdmin},
			}, nil
		},
	}
	store := credstore.NewMemory()
	c, _ := opsdeck.NewClient(opsdeck.Config{},
		opsdeck.WithBackend(b),
		opsdeck.WithCredentialStore(store),
	)

	done := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), "ada", "pw")
		done <- err
	}()
	<-started

	c.Logout(context.Background())
	close(release)

	if err := <-done; !errors.Is(err, opsdeck.ErrSessionExpired) {
		t.Fatalf("Login() = %v, want ErrSessionExpired", err)
	}
	if c.Authenticated() {
		t.Error("login completing after logout must not establish a session")
	}
	if creds, _ := store.Load(context.Background()); creds != nil {
		t.Error("no credentials may be persisted for a discarded login")
	}
}

func TestSubscribe_DeliversTransitions(t *testing.T) {
	c, _ := newFakeClient(t, nil, nil, adaUser())

	var mu sync.Mutex
	var states []opsdeck.State
	cancel := c.Subscribe(func(s opsdeck.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	})

	if _, err := c.Login(context.Background(), "ada", "correct"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	mu.Lock()
	got := append([]opsdeck.State(nil), states...)
	mu.Unlock()
	if len(got) != 2 || got[0] != opsdeck.StateAuthenticating || got[1] != opsdeck.StateAuthenticated {
		t.Fatalf("states = %v, want [authenticating authenticated]", got)
	}

	cancel()
	c.Logout(context.Background())
	mu.Lock()
	after := len(states)
	mu.Unlock()
	if after != 2 {
		t.Errorf("cancelled subscriber saw %d events, want 2", after)
	}
}

func TestRefreshIdentity_UpdatesSessionAndStore(t *testing.T) {
	base := &opsdeck.Identity{ID: "u1", Username: "ada", Role: opsdeck.RoleAdmin}
	updated := &opsdeck.Identity{ID: "u1", Username: "ada", DisplayName: "Ada L.", Role: opsdeck.RoleAdmin}
	b := &stubBackend{
		fetchFn: func(_ context.Context, token string) (*opsdeck.Identity, error) {
			if token != "tok" {
				t.Errorf("FetchIdentity token = %q, want tok", token)
			}
			return updated, nil
		},
	}
	c := seededClient(t, "tok", base, opsdeck.WithBackend(b))

	got, err := c.RefreshIdentity(context.Background())
	if err != nil {
		t.Fatalf("RefreshIdentity() error: %v", err)
	}
	if got.DisplayName != "Ada L." {
		t.Errorf("DisplayName = %q, want %q", got.DisplayName, "Ada L.")
	}
	if id := c.Identity(); id.DisplayName != "Ada L." {
		t.Error("session identity should be replaced")
	}
	creds, _ := c.Store().Load(context.Background())
	if creds == nil || creds.Identity.DisplayName != "Ada L." {
		t.Error("stored identity should be replaced")
	}
}

func TestRefreshIdentity_RequiresSession(t *testing.T) {
	c, _ := opsdeck.NewClient(opsdeck.Config{}, opsdeck.WithBackend(&stubBackend{}))
	if _, err := c.RefreshIdentity(context.Background()); !errors.Is(err, opsdeck.ErrSessionExpired) {
		t.Errorf("RefreshIdentity() = %v, want ErrSessionExpired", err)
	}
}

func TestChangePassword(t *testing.T) {
	c, b := newFakeClient(t, nil, nil, adaUser())
	if _, err := c.Login(context.Background(), "ada", "correct"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	if err := c.ChangePassword(context.Background(), "rotated"); err != nil {
		t.Fatalf("ChangePassword() error: %v", err)
	}

	c.Logout(context.Background())
	waitFor(t, func() bool { return b.LogoutCalls() == 1 })

	if _, err := c.Login(context.Background(), "ada", "correct"); !errors.Is(err, opsdeck.ErrInvalidCredentials) {
		t.Errorf("old password should stop working, got %v", err)
	}
	if _, err := c.Login(context.Background(), "ada", "rotated"); err != nil {
		t.Errorf("new password should work, got %v", err)
	}
}

func TestChangePassword_Validation(t *testing.T) {
	c, _ := newFakeClient(t, nil, nil, adaUser())
	if err := c.ChangePassword(context.Background(), ""); !errors.Is(err, opsdeck.ErrCredentialsRequired) {
		t.Errorf("empty password = %v, want ErrCredentialsRequired", err)
	}
	if err := c.ChangePassword(context.Background(), "next"); !errors.Is(err, opsdeck.ErrSessionExpired) {
		t.Errorf("anonymous change = %v, want ErrSessionExpired", err)
	}
}
