package protocol

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipe - returns reader over server side and the client side to write into.
func pipe(test *testing.T, max int) (*Reader, net.Conn) {
	client, server := net.Pipe()
	test.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewReader(server, max), client
}

func write(conn net.Conn, data string) {
	go conn.Write([]byte(data))
}

func TestReader_ReadFrame(test *testing.T) {
	r, client := pipe(test, 64)
	write(client, "{\"type\":\"list\"}\nsecond\r\n")

	frame, err := r.ReadFrame(time.Second)
	require.NoError(test, err)
	assert.Equal(test, `{"type":"list"}`, string(frame))

	frame, err = r.ReadFrame(time.Second)
	require.NoError(test, err)
	assert.Equal(test, "second", string(frame))
}

func TestReader_TimeoutKeepsPartialFrame(test *testing.T) {
	r, client := pipe(test, 64)
	write(client, "hel")

	_, err := r.ReadFrame(50 * time.Millisecond)
	require.ErrorIs(test, err, ErrTimeout)

	write(client, "lo\n")
	frame, err := r.ReadFrame(time.Second)
	require.NoError(test, err)
	assert.Equal(test, "hello", string(frame))
}

func TestReader_FrameTooLong(test *testing.T) {
	r, client := pipe(test, 16)
	write(client, strings.Repeat("x", 100)+"\n")

	_, err := r.ReadFrame(time.Second)
	assert.ErrorIs(test, err, ErrFrameTooLong)
}

func TestReader_FrameAtLimit(test *testing.T) {
	r, client := pipe(test, 16)
	write(client, strings.Repeat("x", 16)+"\n"+strings.Repeat("y", 17)+"\n")

	frame, err := r.ReadFrame(time.Second)
	require.NoError(test, err)
	assert.Len(test, frame, 16)

	_, err = r.ReadFrame(time.Second)
	assert.ErrorIs(test, err, ErrFrameTooLong)
}

func TestReader_EOF(test *testing.T) {
	r, client := pipe(test, 64)
	go func() {
		client.Write([]byte("last\nunterminated"))
		client.Close()
	}()

	frame, err := r.ReadFrame(time.Second)
	require.NoError(test, err)
	assert.Equal(test, "last", string(frame))

	_, err = r.ReadFrame(time.Second)
	assert.ErrorIs(test, err, io.EOF)
}

func TestReader_DefaultLimit(test *testing.T) {
	r := NewReader(nil, 0)
	assert.Equal(test, MaxFrameSize, r.max)
}
