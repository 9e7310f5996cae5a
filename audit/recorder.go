package audit

import (
	"fmt"

	opsdeck "github.com/opsdeck/opsdeck-go"
)

// Recorder bridges session lifecycle events into the audit trail.
type Recorder struct {
	l *Logger
}

// compile-time check
var _ opsdeck.Recorder = (*Recorder)(nil)

// NewRecorder wraps a Logger as an opsdeck.Recorder.
func NewRecorder(l *Logger) *Recorder {
	return &Recorder{l: l}
}

// AuthAttempt logs a login outcome.
func (r *Recorder) AuthAttempt(outcome string) {
	r.l.Log(Event{Action: "login", Outcome: outcome})
}

// ChallengeAttempt logs a second-factor outcome.
func (r *Recorder) ChallengeAttempt(outcome string) {
	r.l.Log(Event{Action: "challenge", Outcome: outcome})
}

// RefreshAttempt logs a refresh flight outcome with its queue depth.
func (r *Recorder) RefreshAttempt(outcome string, queued int) {
	r.l.Log(Event{Action: "refresh", Outcome: outcome, Detail: fmt.Sprintf("queued=%d", queued)})
}

// RetryAfterRefresh logs the status of a replayed request.
func (r *Recorder) RetryAfterRefresh(outcome string) {
	r.l.Log(Event{Action: "retry", Outcome: outcome})
}

// GateDecision logs a navigation ruling.
func (r *Recorder) GateDecision(route, action string) {
	r.l.Log(Event{Action: "gate", Outcome: action, Route: route})
}

// SessionTeardown logs the end of a session.
func (r *Recorder) SessionTeardown(cause string) {
	r.l.Log(Event{Action: "teardown", Outcome: cause})
}
