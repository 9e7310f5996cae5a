// Package rest implements the opsdeck.AuthBackend against the console's
// HTTP authentication API.
//
// The refresh credential never surfaces here: the server sets it as an
// HTTP-only cookie, the backend's cookie jar carries it back on refresh and
// logout calls, and nothing above this package can read it.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	opsdeck "github.com/opsdeck/opsdeck-go"
)

// API paths relative to the base URL.
const (
	pathToken     = "/token"
	pathVerifyMFA = "/verify-mfa"
	pathRefresh   = "/refresh"
	pathLogout    = "/logout"
	pathMe        = "/me"
	pathPassword  = "/me/password"
)

// Backend talks to the console authentication endpoints.
type Backend struct {
	base       string
	httpClient *http.Client
	logger     *slog.Logger
}

// compile-time check
var _ opsdeck.AuthBackend = (*Backend)(nil)

// Option configures the Backend.
type Option func(*Backend)

// WithHTTPClient sets a custom HTTP client. A cookie jar is attached if the
// client has none; without one the refresh credential cannot survive.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// WithLogger sets a structured logger for the backend.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// New creates a backend rooted at baseURL, e.g. "https://console.example.com/api".
func New(baseURL string, opts ...Option) (*Backend, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("rest: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("rest: invalid base URL: %w", err)
	}

	b := &Backend{
		base:       baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("rest: failed to create cookie jar: %w", err)
		}
		b.httpClient.Jar = jar
	}
	return b, nil
}

// tokenResponse is the raw JSON response from the token endpoints. The
// server correlates a pending step-up by user id; that value feeds
// Challenge.ID and is echoed back on verify.
type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	MFARequired bool         `json:"mfa_required"`
	ChallengeID string       `json:"user_id"`
	User        *userPayload `json:"user"`
}

// userPayload is the wire shape of an identity.
type userPayload struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// identity converts the payload, rejecting unknown roles and capabilities
// outright. Permission grants only mean something for technicians; for the
// other roles access follows from the role itself and the list is dropped.
func (u *userPayload) identity() (*opsdeck.Identity, error) {
	role, err := opsdeck.ParseRole(u.Role)
	if err != nil {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonServer, Err: err}
	}
	var caps opsdeck.CapabilitySet
	if role == opsdeck.RoleTech {
		caps, err = opsdeck.ParseCapabilities(u.Permissions)
		if err != nil {
			return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonServer, Err: err}
		}
	}
	return &opsdeck.Identity{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        role,
		Permissions: caps,
	}, nil
}

// errorResponse is the error body the console returns alongside non-2xx codes.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var wireReasons = map[string]opsdeck.Reason{
	"invalid_credentials": opsdeck.ReasonInvalidCredentials,
	"missing_credentials": opsdeck.ReasonInvalidCredentials,
	"account_disabled":    opsdeck.ReasonAccountDisabled,
	"rate_limited":        opsdeck.ReasonRateLimited,
	"invalid_challenge":   opsdeck.ReasonInvalidChallenge,
	"token_invalid":       opsdeck.ReasonTokenInvalid,
}

// apiError maps a non-2xx response to an *opsdeck.AuthError. The error code
// in the body wins; absent one, 5xx maps to a server failure and anything
// else to the endpoint's fallback reason.
func apiError(resp *http.Response, body []byte, fallback opsdeck.Reason) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)

	reason, ok := wireReasons[er.Error]
	if !ok {
		reason = fallback
		if resp.StatusCode >= 500 {
			reason = opsdeck.ReasonServer
		}
	}
	ae := &opsdeck.AuthError{
		Reason: reason,
		Err:    fmt.Errorf("rest: %s returned %d", resp.Request.URL.Path, resp.StatusCode),
	}
	if reason == opsdeck.ReasonRateLimited {
		ae.RetryAfter = retryAfter(resp)
	}
	return ae
}

// retryAfter parses the Retry-After header as a second count.
func retryAfter(resp *http.Response) time.Duration {
	s := resp.Header.Get("Retry-After")
	if s == "" {
		return 0
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// do performs one request and reads the full body. Transport failures come
// back as network-classified auth errors.
func (b *Backend) do(ctx context.Context, method, path, contentType string, body io.Reader, token string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("rest: failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, nil, &opsdeck.AuthError{Reason: opsdeck.ReasonNetwork, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &opsdeck.AuthError{Reason: opsdeck.ReasonNetwork, Err: err}
	}
	return resp, data, nil
}

// Login exchanges primary credentials for a session or a challenge. The
// password travels form-encoded in the body and nowhere else.
func (b *Backend) Login(ctx context.Context, username, password string) (*opsdeck.AuthResult, error) {
	form := url.Values{
		"username": {username},
		"password": {password},
	}
	resp, body, err := b.do(ctx, http.MethodPost, pathToken,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp, body, opsdeck.ReasonInvalidCredentials)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonServer,
			Err: fmt.Errorf("rest: failed to decode token response: %w", err)}
	}
	if tr.MFARequired {
		if tr.ChallengeID == "" {
			return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonServer,
				Err: fmt.Errorf("rest: challenge demanded without user_id")}
		}
		return &opsdeck.AuthResult{ChallengeRequired: true, ChallengeID: tr.ChallengeID}, nil
	}
	return b.complete(ctx, &tr)
}

// VerifyChallenge submits a second-factor code for a pending challenge.
func (b *Backend) VerifyChallenge(ctx context.Context, challengeID, code string) (*opsdeck.AuthResult, error) {
	payload, err := json.Marshal(map[string]string{
		"user_id": challengeID,
		"code":    code,
	})
	if err != nil {
		return nil, fmt.Errorf("rest: failed to encode challenge: %w", err)
	}
	resp, body, err := b.do(ctx, http.MethodPost, pathVerifyMFA,
		"application/json", strings.NewReader(string(payload)), "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp, body, opsdeck.ReasonInvalidChallenge)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonServer,
			Err: fmt.Errorf("rest: failed to decode token response: %w", err)}
	}
	return b.complete(ctx, &tr)
}

// Refresh trades the refresh cookie for a new access token. The server
// rotates the cookie in the same response; the jar picks it up.
func (b *Backend) Refresh(ctx context.Context) (*opsdeck.AuthResult, error) {
	resp, body, err := b.do(ctx, http.MethodPost, pathRefresh, "", nil, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp, body, opsdeck.ReasonRefreshFailed)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonServer,
			Err: fmt.Errorf("rest: failed to decode token response: %w", err)}
	}
	return b.complete(ctx, &tr)
}

// Logout revokes the refresh credential server-side.
func (b *Backend) Logout(ctx context.Context) error {
	resp, body, err := b.do(ctx, http.MethodPost, pathLogout, "", nil, "")
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp, body, opsdeck.ReasonServer)
	}
	return nil
}

// FetchIdentity returns the identity behind the access token.
func (b *Backend) FetchIdentity(ctx context.Context, accessToken string) (*opsdeck.Identity, error) {
	resp, body, err := b.do(ctx, http.MethodGet, pathMe, "", nil, accessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp, body, opsdeck.ReasonTokenInvalid)
	}

	var u userPayload
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonServer,
			Err: fmt.Errorf("rest: failed to decode identity: %w", err)}
	}
	return u.identity()
}

// ChangePassword sets a new password for the authenticated user.
func (b *Backend) ChangePassword(ctx context.Context, accessToken, newPassword string) error {
	payload, err := json.Marshal(map[string]string{"password": newPassword})
	if err != nil {
		return fmt.Errorf("rest: failed to encode password change: %w", err)
	}
	resp, body, err := b.do(ctx, http.MethodPut, pathPassword,
		"application/json", strings.NewReader(string(payload)), accessToken)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp, body, opsdeck.ReasonServer)
	}
	return nil
}

// complete turns a token response into an AuthResult, fetching the identity
// separately when the server omitted it from the response.
func (b *Backend) complete(ctx context.Context, tr *tokenResponse) (*opsdeck.AuthResult, error) {
	if tr.AccessToken == "" {
		return nil, &opsdeck.AuthError{Reason: opsdeck.ReasonServer,
			Err: fmt.Errorf("rest: empty access_token in response")}
	}
	var (
		id  *opsdeck.Identity
		err error
	)
	if tr.User != nil {
		id, err = tr.User.identity()
	} else {
		id, err = b.FetchIdentity(ctx, tr.AccessToken)
	}
	if err != nil {
		return nil, err
	}
	return &opsdeck.AuthResult{AccessToken: tr.AccessToken, Identity: id}, nil
}
