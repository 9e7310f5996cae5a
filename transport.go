package opsdeck

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// Transport returns an http.RoundTripper that authenticates requests with
// the session's access token and transparently retries once after a token
// refresh when the server answers 401. A nil base means
// http.DefaultTransport.
func (c *Client) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &roundTripper{client: c, base: base}
}

// HTTPClient returns an *http.Client whose requests carry the session token.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c.Transport(nil)}
}

type roundTripper struct {
	client *Client
	base   http.RoundTripper
}

var _ http.RoundTripper = (*roundTripper)(nil)

// RoundTrip sends the request with the current access token attached. Every
// response except 401 passes through untouched, 403 included: a permission
// failure is not a credential failure and must never burn a refresh.
//
// On 401 the token is refreshed (all concurrent callers collapse onto one
// flight) and the request is replayed exactly once with the new token. If
// the refresh fails the session is torn down and the original 401 is
// returned. A 401 on the replayed request is returned as-is; the server is
// rejecting freshly minted tokens and another refresh cannot fix that.
func (t *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	token, gen := t.client.credentialSnapshot()
	reqID := requestID(req)

	resp, err := t.base.RoundTrip(t.authed(req, token, reqID))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if token == "" || refreshExempt(req.Context()) {
		// Anonymous call, or one that opted out of refresh.
		return resp, nil
	}

	newToken, rerr := t.client.freshToken(req.Context(), token, gen)
	if rerr != nil {
		// Teardown already happened inside freshToken. The caller gets
		// the original response.
		return resp, nil
	}

	// The first attempt consumed any request body; without GetBody there
	// is nothing left to replay.
	var retryBody io.ReadCloser
	if req.Body != nil {
		if req.GetBody == nil {
			return resp, nil
		}
		if retryBody, rerr = req.GetBody(); rerr != nil {
			return resp, nil
		}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	retry := t.authed(req, newToken, reqID)
	retry.Body = retryBody
	resp2, err2 := t.base.RoundTrip(retry)
	switch {
	case err2 != nil:
		t.client.record(func(r Recorder) { r.RetryAfterRefresh("error") })
	case resp2.StatusCode == http.StatusUnauthorized:
		t.client.record(func(r Recorder) { r.RetryAfterRefresh("unauthorized") })
	default:
		t.client.record(func(r Recorder) { r.RetryAfterRefresh("ok") })
	}
	return resp2, err2
}

// authed clones the request with auth and correlation headers attached,
// leaving the caller's request untouched as the RoundTripper contract
// requires.
func (t *roundTripper) authed(req *http.Request, token, reqID string) *http.Request {
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	out.Header.Set("X-Request-Id", reqID)
	return out
}

// requestID picks the correlation ID for a request: an explicit header
// wins, then the context, then a fresh UUID. Both the first attempt and
// the replay carry the same ID.
func requestID(req *http.Request) string {
	if id := req.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	if id := RequestIDFromContext(req.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

// freshToken returns a token to replay a rejected request with. If the
// session already rotated past the rejected token, that newer token is
// returned without a network call. Otherwise all callers collapse onto a
// single refresh flight and share its outcome.
func (c *Client) freshToken(ctx context.Context, rejected string, gen uint64) (string, error) {
	cur, g := c.credentialSnapshot()
	if g != gen {
		return "", ErrSessionExpired
	}
	if cur != "" && cur != rejected {
		return cur, nil
	}

	c.refreshQueue.Add(1)
	defer c.refreshQueue.Add(-1)

	// singleflight prevents a thundering herd of refresh calls when many
	// requests hit 401 at once.
	v, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		return c.runRefresh(ctx, rejected, gen)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// runRefresh is the body of the shared refresh flight. It runs on a context
// detached from whichever caller happened to start the flight, bounded by
// RefreshTimeout, so one impatient caller cannot cancel the refresh for
// everyone queued behind it.
func (c *Client) runRefresh(ctx context.Context, rejected string, gen uint64) (string, error) {
	// A flight that finished a moment ago may have rotated the token
	// already; check again inside the flight before going to the network.
	cur, g := c.credentialSnapshot()
	if g != gen {
		return "", ErrSessionExpired
	}
	if cur != "" && cur != rejected {
		return cur, nil
	}
	if c.backend == nil {
		return "", ErrNoBackend
	}

	queued := int(c.refreshQueue.Load())
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.RefreshTimeout)
	defer cancel()

	res, err := c.backend.Refresh(rctx)
	if err != nil {
		outcome := string(ReasonOf(err))
		c.record(func(r Recorder) { r.RefreshAttempt(outcome, queued) })
		c.logger.Warn("token refresh failed", "reason", outcome, "queued", queued)
		c.expireSession(gen)
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if !c.adoptRefresh(gen, res) {
		c.record(func(r Recorder) { r.RefreshAttempt("superseded", queued) })
		return "", ErrSessionExpired
	}
	c.record(func(r Recorder) { r.RefreshAttempt("ok", queued) })
	c.logger.Debug("access token refreshed", "queued", queued)
	return res.AccessToken, nil
}
