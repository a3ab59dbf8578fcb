package chat

import (
	"errors"
	"io"

	"github.com/wtask/chatrelay/internal/chat/protocol"
)

// disconnectReason - why a session has ended.
type disconnectReason int

const (
	_ disconnectReason = iota
	reasonLogout
	reasonEOF
	reasonTimeout
	reasonTooLong
	reasonError
	reasonShutdown
	reasonRejected
)

func (r disconnectReason) String() string {
	switch r {
	case reasonLogout:
		return "logout"
	case reasonEOF:
		return "eof"
	case reasonTimeout:
		return "timeout"
	case reasonTooLong:
		return "too_long"
	case reasonError:
		return "error"
	case reasonShutdown:
		return "shutdown"
	case reasonRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// readFailureReason - classifies error returned by protocol.Reader.
func readFailureReason(err error) disconnectReason {
	switch {
	case errors.Is(err, io.EOF):
		return reasonEOF
	case errors.Is(err, protocol.ErrTimeout):
		return reasonTimeout
	case errors.Is(err, protocol.ErrFrameTooLong):
		return reasonTooLong
	default:
		return reasonError
	}
}
