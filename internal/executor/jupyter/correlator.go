package jupyter

import (
	"fmt"
	"strings"
	"time"

	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/kernel"
)

// phase is the correlator's position in one request's lifecycle:
//
//	Idle → Sent → Busy → Sealed
//	        └──────────────┘
//
// Sealed is terminal. A status=idle for the active request seals from Sent
// or Busy; a deadline, disconnect or cancellation seals via abort.
type phase int

const (
	phaseIdle phase = iota
	phaseSent
	phaseBusy
	phaseSealed
)

// String returns a string representation of the phase.
func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "Idle"
	case phaseSent:
		return "Sent"
	case phaseBusy:
		return "Busy"
	case phaseSealed:
		return "Sealed"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// update reports what consume did with a message.
type update int

const (
	updateIgnored update = iota
	updateApplied
	updateSealed
)

// correlator turns the multiplexed message stream of a channel into the
// result of a single request. It is not safe for concurrent use.
type correlator struct {
	msgID  string
	phase  phase
	sentAt time.Time

	stdout strings.Builder
	stderr strings.Builder
	result executor.ExecutionResult
}

func newCorrelator() *correlator {
	return &correlator{}
}

// begin makes msgID the active request.
func (c *correlator) begin(req kernel.ExecuteRequest) {
	c.msgID = req.ID
	c.sentAt = req.SubmittedAt
	c.phase = phaseSent
}

// consume applies msg to the in-progress result. Messages for any other
// request, and everything after sealing, are ignored.
func (c *correlator) consume(msg kernel.Message) update {
	if c.phase != phaseSent && c.phase != phaseBusy {
		return updateIgnored
	}
	if msg.ParentID == "" || msg.ParentID != c.msgID {
		return updateIgnored
	}

	switch msg.Kind {
	case kernel.KindStatus:
		switch msg.ExecutionState {
		case kernel.ExecutionStateBusy:
			c.phase = phaseBusy
			return updateApplied
		case kernel.ExecutionStateIdle:
			c.phase = phaseSealed
			return updateSealed
		}
		return updateIgnored

	case kernel.KindStream:
		switch msg.StreamName {
		case kernel.StreamStdout:
			c.stdout.WriteString(msg.Text)
		case kernel.StreamStderr:
			c.stderr.WriteString(msg.Text)
		default:
			return updateIgnored
		}
		c.phase = phaseBusy
		return updateApplied

	case kernel.KindError:
		c.result.HasError = true
		c.result.ErrorName = msg.ErrorName
		c.result.ErrorMessage = msg.ErrorValue
		c.result.ErrorTraceback = append([]string(nil), msg.Traceback...)
		c.phase = phaseBusy
		return updateApplied

	case kernel.KindReply:
		// Success is decided by whether an error message was seen, not by
		// the reply's status.
		c.result.ExecutionCount = msg.ExecutionCount
		return updateApplied
	}

	return updateIgnored
}

// abort seals the result without a completion signal. Partial output is kept.
func (c *correlator) abort(reason executor.AbortReason) {
	if c.phase == phaseSealed {
		return
	}
	c.phase = phaseSealed
	c.result.HasError = true
	c.result.Abort = reason
}

// sealed reports whether collection has finished.
func (c *correlator) sealed() bool {
	return c.phase == phaseSealed
}

// snapshot returns the sealed result. The returned value shares nothing
// with the correlator.
func (c *correlator) snapshot() *executor.ExecutionResult {
	res := c.result
	res.Stdout = c.stdout.String()
	res.Stderr = c.stderr.String()
	res.ErrorTraceback = append([]string(nil), c.result.ErrorTraceback...)
	if !c.sentAt.IsZero() {
		res.Duration = time.Since(c.sentAt)
	}
	return &res
}
