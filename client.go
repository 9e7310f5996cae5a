// Package opsdeck provides the session and access-control core for the
// OpsDeck IT operations console.
//
// The package keeps one authenticated session per Client: a login flow with
// an optional second-factor step-up, a credential store so sessions survive
// restarts, an http.RoundTripper that transparently refreshes the access
// token on 401 responses, and a navigation gate that maps session state and
// permissions to route decisions. Backends, stores and observers are
// injected via Option functions, keeping the core independent of any
// specific console server.
//
// Example usage with the REST backend:
//
//	client, err := opsdeck.NewClient(
//	    opsdeck.Config{},
//	    opsdeck.WithBackend(backend),
//	    opsdeck.WithCredentialStore(credstore.NewFile(path)),
//	)
package opsdeck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Client owns a single operator session and everything derived from it.
// All methods are safe for concurrent use.
type Client struct {
	config    Config
	logger    *slog.Logger
	store     CredentialStore
	backend   AuthBackend
	recorders []Recorder
	navigate  func(route string)
	routes    map[string]Route

	// refreshGroup collapses concurrent refresh attempts into one flight;
	// refreshQueue counts callers waiting on it.
	refreshGroup singleflight.Group
	refreshQueue atomic.Int32

	mu        sync.Mutex
	state     State
	token     string
	identity  *Identity
	challenge *Challenge
	gen       uint64
	subs      map[uint64]func(Snapshot)
	nextSub   uint64
}

// Config holds behavior configuration. The zero value is usable; defaults
// are applied by NewClient.
type Config struct {
	// RefreshTimeout bounds a token refresh flight. The flight runs on a
	// detached context so one caller giving up cannot starve the others,
	// so this bound is what actually ends a stuck refresh. Default: 10s.
	RefreshTimeout time.Duration

	// RevokeTimeout bounds the best-effort server-side logout call.
	// Default: 5s.
	RevokeTimeout time.Duration

	// EntryRoute is where unauthenticated operators are sent. Default: "login".
	EntryRoute string

	// HomeRoute is where authenticated operators land. Default: "dashboard".
	HomeRoute string

	// DeniedRoute is where permission failures are sent. Default: "unauthorized".
	DeniedRoute string
}

// Defaults applied by NewClient for zero Config fields.
const (
	DefaultRefreshTimeout = 10 * time.Second
	DefaultRevokeTimeout  = 5 * time.Second
)

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCredentialStore sets the durable credential store. Stored credentials
// are loaded during NewClient so a previous session resumes across restarts.
func WithCredentialStore(s CredentialStore) Option {
	return func(c *Client) { c.store = s }
}

// WithBackend sets the authentication backend.
func WithBackend(b AuthBackend) Option {
	return func(c *Client) { c.backend = b }
}

// WithRecorder adds a lifecycle observer. May be given multiple times;
// every recorder sees every event.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorders = append(c.recorders, r) }
}

// WithNavigator sets the hook invoked when the session demands navigation:
// to the entry route on teardown, or wherever the gate redirects. The hook
// must not block.
func WithNavigator(fn func(route string)) Option {
	return func(c *Client) { c.navigate = fn }
}

// WithRoutes replaces the default route table. Pass
// append(opsdeck.DefaultRoutes(), extra...) to extend rather than replace.
func WithRoutes(routes ...Route) Option {
	return func(c *Client) {
		c.routes = make(map[string]Route, len(routes))
		for _, r := range routes {
			c.routes[r.Name] = r
		}
	}
}

// NewClient creates a client with the given configuration and options.
// If a credential store is configured and holds a previous session, the
// client starts authenticated with it.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.RefreshTimeout < 0 || cfg.RevokeTimeout < 0 {
		return nil, fmt.Errorf("opsdeck: timeouts must not be negative")
	}
	if cfg.RefreshTimeout == 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.RevokeTimeout == 0 {
		cfg.RevokeTimeout = DefaultRevokeTimeout
	}
	if cfg.EntryRoute == "" {
		cfg.EntryRoute = RouteLogin
	}
	if cfg.HomeRoute == "" {
		cfg.HomeRoute = RouteDashboard
	}
	if cfg.DeniedRoute == "" {
		cfg.DeniedRoute = RouteUnauthorized
	}

	c := &Client{
		config: cfg,
		state:  StateAnonymous,
		subs:   make(map[uint64]func(Snapshot)),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.routes == nil {
		c.routes = make(map[string]Route)
		for _, r := range DefaultRoutes() {
			c.routes[r.Name] = r
		}
	}
	c.restoreSession()
	return c, nil
}

// restoreSession resumes a persisted session, if any. Store failures are
// logged and the client starts anonymous.
func (c *Client) restoreSession() {
	if c.store == nil {
		return
	}
	creds, err := c.store.Load(context.Background())
	if err != nil {
		c.logger.Warn("credential store unreadable, starting anonymous", "error", err)
		return
	}
	if creds == nil || creds.AccessToken == "" || creds.Identity == nil {
		return
	}
	c.mu.Lock()
	c.state = StateAuthenticated
	c.token = creds.AccessToken
	c.identity = creds.Identity.Clone()
	c.mu.Unlock()
	c.logger.Info("session restored from store", "user", creds.Identity.Username)
}

// Config returns the client configuration with defaults applied.
func (c *Client) Config() Config { return c.config }

// Backend returns the auth backend, or nil if not configured.
func (c *Client) Backend() AuthBackend { return c.backend }

// Store returns the credential store, or nil if not configured.
func (c *Client) Store() CredentialStore { return c.store }

// Close releases all resources held by the client. Any injected backend,
// store or recorder that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []interface{}{c.backend, c.store}
	for _, r := range c.recorders {
		closers = append(closers, r)
	}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// record fans an event out to every configured recorder.
func (c *Client) record(fn func(Recorder)) {
	for _, r := range c.recorders {
		fn(r)
	}
}

// goTo invokes the navigation hook, if one is configured.
func (c *Client) goTo(route string) {
	if c.navigate != nil {
		c.navigate(route)
	}
}
