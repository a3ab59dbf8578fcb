package chat

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wtask/chatrelay/internal/chat/protocol"
)

func TestValidIdentity(test *testing.T) {
	cases := []struct {
		identity string
		valid    bool
	}{
		{"alice", true},
		{"Alice_2-x", true},
		{"a", true},
		{strings.Repeat("z", 32), true},
		{strings.Repeat("z", 33), false},
		{"", false},
		{"al ice", false},
		{"alice!", false},
		{"алиса", false},
		{"alice\n", false},
	}
	for _, c := range cases {
		assert.Equal(test, c.valid, ValidIdentity(c.identity), "%q", c.identity)
	}
}

func TestDisconnectReason(test *testing.T) {
	assert.Equal(test, "logout", reasonLogout.String())
	assert.Equal(test, "too_long", reasonTooLong.String())
	assert.Equal(test, "rejected", reasonRejected.String())
	assert.Equal(test, "unknown", disconnectReason(0).String())

	assert.Equal(test, reasonEOF, readFailureReason(io.EOF))
	assert.Equal(test, reasonTimeout, readFailureReason(fmt.Errorf("%w: i/o timeout", protocol.ErrTimeout)))
	assert.Equal(test, reasonTooLong, readFailureReason(protocol.ErrFrameTooLong))
	assert.Equal(test, reasonError, readFailureReason(errors.New("connection reset by peer")))
}
