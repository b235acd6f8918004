package collector

import (
	"bytes"
	"strings"
	"time"
)

// turnMode identifies which deadline governs the turn. Making the mode
// explicit keeps "which deadline is active" a type-level fact instead of
// something inferred from zero values.
type turnMode int

const (
	// modeNormal applies the sliding idle window: any frame resets it.
	modeNormal turnMode = iota
	// modeDraining applies the fixed drain window set when the first text
	// fragment arrived. Nothing renews it, not even more text.
	modeDraining
)

// Reason records why a turn completed successfully. Callers use it to
// distinguish "the agent took too long" from "the connection dropped" for
// diagnostics; all three are success at this layer.
type Reason string

const (
	// ReasonIdleTimeout means the idle window elapsed with no text ever
	// arriving. The partial (possibly empty) result is returned as-is.
	ReasonIdleTimeout Reason = "idle_timeout"

	// ReasonDrainComplete means the drain window after the first text
	// fragment elapsed. This is the normal completion path.
	ReasonDrainComplete Reason = "drain_complete"

	// ReasonRemoteClosed means the remote endpoint closed the connection
	// before either window elapsed.
	ReasonRemoteClosed Reason = "remote_closed"
)

// turnState is the mutable state owned exclusively by one collection call.
// It is created when the call starts, mutated only by observe, and falls out
// of scope when the call returns. There is no cross-call retention.
type turnState struct {
	mode          turnMode
	idleDeadline  time.Time // sliding; meaningful only in modeNormal
	drainDeadline time.Time // fixed; set exactly once on entering modeDraining
	textParts     []string  // append-only, arrival order
	audioParts    [][]byte  // append-only, arrival order

	idleWindow  time.Duration
	drainWindow time.Duration
}

func newTurnState(now time.Time, idleWindow, drainWindow time.Duration) *turnState {
	return &turnState{
		mode:         modeNormal,
		idleDeadline: now.Add(idleWindow),
		idleWindow:   idleWindow,
		drainWindow:  drainWindow,
	}
}

// observe applies one received frame to the state machine and reports
// whether the frame terminates the turn (remote close). It never fails:
// channel faults are handled by the caller, not here.
func (s *turnState) observe(f Frame, now time.Time) (done bool) {
	switch f := f.(type) {
	case AudioFrame:
		s.audioParts = append(s.audioParts, f.Data)
		s.touch(now)
	case TextFrame:
		s.textParts = append(s.textParts, f.Text)
		if s.mode == modeNormal {
			// First content signal: commit to a fixed drain deadline.
			// Later text appends but never moves it, so an endpoint that
			// streams many small fragments cannot stall completion.
			s.mode = modeDraining
			s.drainDeadline = now.Add(s.drainWindow)
		}
	case HeartbeatFrame, UnknownFrame:
		// Activity in Normal mode; deliberately ignored while draining so
		// keep-alives cannot extend the grace period.
		s.touch(now)
	case ClosedFrame:
		return true
	}
	return false
}

// touch slides the idle deadline. No-op while draining: the drain deadline
// is immutable once set.
func (s *turnState) touch(now time.Time) {
	if s.mode == modeNormal {
		s.idleDeadline = now.Add(s.idleWindow)
	}
}

// deadline returns the currently active deadline.
func (s *turnState) deadline() time.Time {
	if s.mode == modeDraining {
		return s.drainDeadline
	}
	return s.idleDeadline
}

// expired reports whether the active deadline has passed.
func (s *turnState) expired(now time.Time) bool {
	return !now.Before(s.deadline())
}

// timeoutReason maps the current mode to the completion reason for a
// deadline expiry.
func (s *turnState) timeoutReason() Reason {
	if s.mode == modeDraining {
		return ReasonDrainComplete
	}
	return ReasonIdleTimeout
}

// text joins the accumulated fragments with no separator; the producer
// pre-segments them.
func (s *turnState) text() string {
	return strings.Join(s.textParts, "")
}

// audio concatenates the accumulated chunks in arrival order.
func (s *turnState) audio() []byte {
	return bytes.Join(s.audioParts, nil)
}
