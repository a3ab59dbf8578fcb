package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize - default limit of one frame in bytes, line terminator excluded.
const MaxFrameSize = 4096

var (
	// ErrFrameTooLong - peer sent more than the frame limit without a line terminator.
	// The connection must be dropped, the stream can't be resynchronized.
	ErrFrameTooLong = errors.New("protocol: frame too long")

	// ErrTimeout - no complete frame arrived within the read timeout.
	// Bytes of an incomplete frame are kept for the next ReadFrame call.
	ErrTimeout = errors.New("protocol: read timeout")
)

// DeadlineReader - byte stream with read deadlines, e.g. net.Conn.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Reader - reads newline terminated frames from a stream with bounded memory.
// Reader is owned by a single goroutine.
type Reader struct {
	src     DeadlineReader
	buf     *bufio.Reader
	max     int
	pending []byte
}

// NewReader - builds Reader over src, frames longer than max bytes are rejected.
// Non-positive max means MaxFrameSize.
func NewReader(src DeadlineReader, max int) *Reader {
	if max <= 0 {
		max = MaxFrameSize
	}
	return &Reader{
		src: src,
		buf: bufio.NewReaderSize(src, max+1),
		max: max,
	}
}

// ReadFrame - returns next frame without its line terminator.
// Errors are io.EOF when peer closed the stream, ErrTimeout when timeout
// (if positive) is expired, ErrFrameTooLong or the transport error.
func (r *Reader) ReadFrame(timeout time.Duration) ([]byte, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := r.src.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("protocol: set read deadline: %w", err)
	}

	for {
		chunk, err := r.buf.ReadSlice('\n')
		r.pending = append(r.pending, chunk...)

		if err == nil {
			frame := r.pending[:len(r.pending)-1]
			if n := len(frame); n > 0 && frame[n-1] == '\r' {
				frame = frame[:n-1]
			}
			if len(frame) > r.max {
				r.pending = nil
				return nil, ErrFrameTooLong
			}
			out := make([]byte, len(frame))
			copy(out, frame)
			r.pending = r.pending[:0]
			return out, nil
		}

		if len(r.pending) > r.max+1 {
			r.pending = nil
			return nil, ErrFrameTooLong
		}

		var netErr net.Error
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			// an unterminated tail is not a frame
			r.pending = nil
			return nil, io.EOF
		case errors.As(err, &netErr) && netErr.Timeout():
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		default:
			return nil, err
		}
	}
}
