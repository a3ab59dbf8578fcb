package broker

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wtask/chatrelay/internal/chat/protocol"
)

// Conn - connection record of a registered client.
// Any goroutine may write to the record, all writes are serialized by the record's own
// guard so frames never interleave. Only the owning session reads the transport.
type Conn struct {
	identity     string
	id           string
	transport    net.Conn
	writeTimeout time.Duration
	maxFrame     int

	mu     sync.Mutex
	closed atomic.Bool
}

// ConnOption - tunes Conn.
type ConnOption func(c *Conn)

// WithConnID - sets connection id used in logs.
func WithConnID(id string) ConnOption {
	return func(c *Conn) { c.id = id }
}

// WithConnWriteTimeout - bounds each write, non-positive means no deadline.
func WithConnWriteTimeout(timeout time.Duration) ConnOption {
	return func(c *Conn) { c.writeTimeout = timeout }
}

// WithConnMaxFrame - outbound frames over max bytes are replaced with message_too_long error.
func WithConnMaxFrame(max int) ConnOption {
	return func(c *Conn) { c.maxFrame = max }
}

// NewConn - builds record for identity over transport.
func NewConn(identity string, transport net.Conn, options ...ConnOption) *Conn {
	c := &Conn{
		identity:  identity,
		transport: transport,
		maxFrame:  protocol.MaxFrameSize,
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c
}

// Identity - registered name.
func (c *Conn) Identity() string {
	return c.identity
}

// ID - connection id, may be empty.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr - peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.transport.RemoteAddr()
}

// Send - encodes and writes frame.
func (c *Conn) Send(f protocol.Frame) error {
	data, err := protocol.EncodeLimited(f, c.maxFrame)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Conn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(data)
}

// writeLocked - caller holds c.mu.
func (c *Conn) writeLocked(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if c.writeTimeout > 0 {
		c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.transport.Write(data)
	return err
}

// Close - closes transport, it unblocks the owning session's read.
// Repeated calls return nil.
func (c *Conn) Close() error {
	// no write guard here: closing must release a writer stalled on a slow peer
	if c.closed.Swap(true) {
		return nil
	}
	return c.transport.Close()
}
