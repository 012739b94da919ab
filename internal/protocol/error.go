package protocol

import "fmt"

// Error is a typed protocol/policy/resource failure, correlated by a
// request id when one applies (spec §7). It implements the error interface
// so router and connection-actor code can return ordinary Go errors that
// translate directly into wire Error frames.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// AsFrame converts e into a wire Error frame correlated with id (0 if the
// triggering request carried no id).
func (e *Error) AsFrame(id uint64) Frame {
	return NewError(id, e.Code, e.Message)
}

// Fatal reports whether this error class terminates the connection per the
// §7 taxonomy: protocol errors are fatal, policy and most resource errors
// are not.
func (e *Error) Fatal() bool {
	switch e.Code {
	case ErrInvalidFrame, ErrProtocolMismatch:
		return true
	default:
		return false
	}
}
