package rpc

import (
	"time"

	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/types"
)

// State is an RPCCall's position in UNSENT -> SENT -> {RESPONDED, TIMEOUT,
// ERROR, STALLED}, with STALLED able to fall through to TIMEOUT.
type State int

const (
	Unsent State = iota
	Sent
	Responded
	Timeout
	Error
	Stalled
)

func (s State) String() string {
	switch s {
	case Unsent:
		return "UNSENT"
	case Sent:
		return "SENT"
	case Responded:
		return "RESPONDED"
	case Timeout:
		return "TIMEOUT"
	case Error:
		return "ERROR"
	case Stalled:
		return "STALLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s ends the call's lifecycle: no further
// transitions occur once a call reaches RESPONDED, TIMEOUT or ERROR.
func (s State) Terminal() bool {
	return s == Responded || s == Timeout || s == Error
}

// StateChangeFunc is invoked whenever a Call transitions state.
type StateChangeFunc func(c *Call, from, to State)

// Call is an RPCCall: one outstanding request awaiting a reply.
type Call struct {
	Target    types.NodeInfo
	Request   *messages.Message
	TxID      uint32
	SentAt    time.Time
	RepliedAt time.Time
	Timeout   time.Duration
	State     State

	Response *messages.Message
	Err      error

	onStateChange StateChangeFunc
}

// NewCall builds an unsent call for request addressed to target, to be
// handed to a Transport for sending.
func NewCall(target types.NodeInfo, request *messages.Message, timeout time.Duration, onStateChange StateChangeFunc) *Call {
	return &Call{
		Target:        target,
		Request:       request,
		TxID:          request.TxID,
		Timeout:       timeout,
		State:         Unsent,
		onStateChange: onStateChange,
	}
}

func (c *Call) transition(to State) {
	from := c.State
	c.State = to
	if c.onStateChange != nil {
		c.onStateChange(c, from, to)
	}
}

// MarkSent records the send timestamp and moves the call to SENT.
func (c *Call) MarkSent() {
	c.SentAt = time.Now()
	c.transition(Sent)
}

// MarkResponded attaches resp and moves the call to RESPONDED.
func (c *Call) MarkResponded(resp *messages.Message) {
	c.RepliedAt = time.Now()
	c.Response = resp
	c.transition(Responded)
}

// MarkError attaches err and moves the call directly to ERROR, per the
// send-path failure rule.
func (c *Call) MarkError(err error) {
	c.Err = err
	c.transition(Error)
}

// MarkStalled flags a call whose deadline has passed but whose receive
// path has not yet been drained, letting the owning task probe other
// candidates without failing the call outright.
func (c *Call) MarkStalled() {
	if c.State == Sent {
		c.transition(Stalled)
	}
}

// MarkTimeout moves a SENT or STALLED call to TIMEOUT on further silence.
func (c *Call) MarkTimeout() {
	if c.State == Sent || c.State == Stalled {
		c.transition(Timeout)
	}
}

// Expired reports whether c's deadline has passed as of now.
func (c *Call) Expired(now time.Time) bool {
	return c.State == Sent && now.Sub(c.SentAt) >= c.Timeout
}
