package chat

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wtask/chatrelay/internal/chat/metrics"
	"github.com/wtask/chatrelay/internal/chat/protocol"
)

func TestServer_Metrics(test *testing.T) {
	registry := prometheus.NewRegistry()
	recorder, err := metrics.New(registry)
	require.NoError(test, err)
	_, addr := startServer(test, WithMetrics(recorder))

	alice := join(test, addr, "alice")
	bob := join(test, addr, "bob", alice)
	require.NoError(test, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP chatrelay_registered_users Number of identities in the registry.
# TYPE chatrelay_registered_users gauge
chatrelay_registered_users 2
`), "chatrelay_registered_users"))

	alice.send(protocol.Chat{Text: "hi"})
	bob.next()
	bob.send(protocol.Logout{})
	assert.Equal(test, protocol.System{Text: "bob left", TS: testTS}, alice.next())
	alice.next()

	require.NoError(test, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP chatrelay_registered_users Number of identities in the registry.
# TYPE chatrelay_registered_users gauge
chatrelay_registered_users 1
`), "chatrelay_registered_users"))

	assert.Eventually(test, func() bool {
		return testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP chatrelay_disconnects_total Count of closed client connections by reason.
# TYPE chatrelay_disconnects_total counter
chatrelay_disconnects_total{reason="logout"} 1
`), "chatrelay_disconnects_total") == nil
	}, waitFrame, 10*time.Millisecond)

	assert.NoError(test, testutil.GatherAndCompare(registry, strings.NewReader(`
# HELP chatrelay_frames_received_total Count of decoded frames received from registered clients.
# TYPE chatrelay_frames_received_total counter
chatrelay_frames_received_total{type="chat"} 1
chatrelay_frames_received_total{type="logout"} 1
`), "chatrelay_frames_received_total"))
}

func TestServer_LogsInsecureMode(test *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s, err := NewServer(WithLogger(zap.New(core)))
	require.NoError(test, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(test, err)
	served := make(chan error, 1)
	go func() { served <- s.Serve(listener) }()

	assert.Eventually(test, func() bool {
		return logs.FilterMessageSnippet("INSECURE plaintext").Len() == 1
	}, waitFrame, 10*time.Millisecond)
	entry := logs.FilterMessageSnippet("INSECURE plaintext").All()[0]
	assert.Equal(test, zapcore.WarnLevel, entry.Level)
	assert.Equal(test, false, entry.ContextMap()["tls"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(test, s.Shutdown(ctx))
	assert.ErrorIs(test, <-served, ErrServerClosed)
}

func TestServer_LogsSessionPanic(test *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	s, err := NewServer(WithLogger(zap.New(core)), WithRegisterTimeout(time.Second))
	require.NoError(test, err)

	client, server := net.Pipe()
	defer client.Close()
	s.serveSession(panicConn{server})

	assert.Equal(test, 1, logs.FilterMessage("session panic").Len())
	assert.Empty(test, s.Users())
}

// panicConn - transport whose reads panic.
type panicConn struct {
	net.Conn
}

func (panicConn) Read([]byte) (int, error) {
	panic("broken transport")
}
