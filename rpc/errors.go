package rpc

import (
	"errors"
	"fmt"

	"github.com/elastos-carrier/carrier-go/messages"
)

var errBackpressure = errors.New("rpc: too many active calls")

// errResponderMismatch reports a reply whose source address does not
// match the address the call was sent to (spec.md §4.1 receive-path
// step 3). The wire protocol carries no responder identity field to
// check against, so the address a reply actually arrived from is the
// closest available stand-in for "the id we dialed".
var errResponderMismatch = errors.New("rpc: reply source address does not match the dialed target")

// ProtocolError wraps an error envelope's (code, message) as a Go error.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rpc: remote error %d: %s", e.Code, e.Message)
}

func protocolError(body *messages.ErrorBody) error {
	if body == nil {
		return errors.New("rpc: remote error with no body")
	}
	return &ProtocolError{Code: body.Code, Message: body.Message}
}
