package broker

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wtask/chatrelay/internal/chat/protocol"
)

// peer - client side of a piped connection, collects received frames.
type peer struct {
	conn   net.Conn
	frames chan protocol.Frame
}

// connect - builds registered-ready record for identity and its client side peer.
func connect(test *testing.T, identity string, options ...ConnOption) (*Conn, *peer) {
	client, server := net.Pipe()
	p := &peer{conn: client, frames: make(chan protocol.Frame, 16)}
	go func() {
		defer close(p.frames)
		scanner := bufio.NewScanner(client)
		for scanner.Scan() {
			f, err := protocol.Decode(scanner.Bytes())
			if err != nil {
				test.Errorf("%s: can't decode %q: %v", identity, scanner.Text(), err)
				return
			}
			p.frames <- f
		}
	}()
	test.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewConn(identity, server, options...), p
}

func (p *peer) next(test *testing.T) protocol.Frame {
	test.Helper()
	select {
	case f, ok := <-p.frames:
		require.True(test, ok, "connection closed")
		return f
	case <-time.After(time.Second):
		test.Fatal("no frame received")
		return nil
	}
}

func (p *peer) silent(test *testing.T) {
	test.Helper()
	select {
	case f, ok := <-p.frames:
		if ok {
			test.Errorf("unexpected frame %#v", f)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func newRouter(test *testing.T, now time.Time) *Router {
	r, err := New(
		NewRegistry(),
		WithLogger(zaptest.NewLogger(test)),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(test, err)
	return r
}

func TestNew(test *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(test, err, ErrNoRegistry)

	_, err = New(NewRegistry(), WithClock(nil))
	assert.Error(test, err)

	_, err = New(NewRegistry(), WithMaxFrame(0))
	assert.Error(test, err)

	r, err := New(NewRegistry(), WithLogger(nil), WithMaxFrame(1024))
	require.NoError(test, err)
	assert.NotNil(test, r.log)
	assert.Equal(test, 1024, r.maxFrame)
}

func TestRegistry_TryRegister(test *testing.T) {
	registry := NewRegistry()
	alice := NewConn("alice", nil)
	assert.True(test, registry.TryRegister(alice))
	assert.False(test, registry.TryRegister(NewConn("alice", nil)))
	assert.True(test, registry.TryRegister(NewConn("Alice", nil)), "identities are case-sensitive")

	c, ok := registry.Lookup("alice")
	require.True(test, ok)
	assert.Same(test, alice, c)
	assert.Equal(test, 2, registry.Len())
}

func TestRegistry_TryRegisterConcurrent(test *testing.T) {
	registry := NewRegistry()
	const attempts = 64

	wg := sync.WaitGroup{}
	start := make(chan struct{})
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- registry.TryRegister(NewConn("same", nil))
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	assert.Equal(test, 1, succeeded)
	assert.Equal(test, 1, registry.Len())
}

func TestRegistry_RemoveAndRelease(test *testing.T) {
	registry := NewRegistry()
	old := NewConn("bob", nil)
	require.True(test, registry.TryRegister(old))

	assert.True(test, registry.Remove("bob"))
	assert.False(test, registry.Remove("bob"), "remove is idempotent")

	current := NewConn("bob", nil)
	require.True(test, registry.TryRegister(current))
	assert.False(test, registry.Release(old), "stale record must not remove the current one")
	_, ok := registry.Lookup("bob")
	assert.True(test, ok)
	assert.True(test, registry.Release(current))
	_, ok = registry.Lookup("bob")
	assert.False(test, ok)
}

func TestRegistry_Snapshots(test *testing.T) {
	registry := NewRegistry()
	for _, id := range []string{"carol", "alice", "bob", "Zed"} {
		require.True(test, registry.TryRegister(NewConn(id, nil)))
	}
	assert.Equal(test, []string{"Zed", "alice", "bob", "carol"}, registry.Snapshot())

	records := registry.SnapshotRecords()
	require.Len(test, records, 4)
	for i, id := range []string{"Zed", "alice", "bob", "carol"} {
		assert.Equal(test, id, records[i].Identity())
	}

	drained := registry.Drain()
	assert.Len(test, drained, 4)
	assert.Empty(test, registry.Snapshot())
}

func TestRegistry_AdmitWritesAckFirst(test *testing.T) {
	r := newRouter(test, time.Unix(100, 0))
	bob, bobPeer := connect(test, "bob")

	ok, err := r.Registry().Admit(bob, protocol.RegisterAck{OK: true, UserID: "bob"})
	require.NoError(test, err)
	require.True(test, ok)
	r.AnnounceSystem("bob joined")

	assert.Equal(test, protocol.RegisterAck{OK: true, UserID: "bob"}, bobPeer.next(test))
	assert.Equal(test, protocol.System{Text: "bob joined", TS: 100}, bobPeer.next(test))

	again, _ := connect(test, "bob")
	ok, err = r.Registry().Admit(again, protocol.RegisterAck{OK: true, UserID: "bob"})
	assert.NoError(test, err)
	assert.False(test, ok)
}

func TestRouter_BroadcastExcludesAuthor(test *testing.T) {
	r := newRouter(test, time.Unix(1700000000, 0))
	alice, alicePeer := connect(test, "alice")
	bob, bobPeer := connect(test, "bob")
	carol, carolPeer := connect(test, "carol")
	for _, c := range []*Conn{alice, bob, carol} {
		require.True(test, r.Registry().TryRegister(c))
	}

	chat := protocol.Chat{From: "alice", Text: "hi", TS: r.Now()}
	assert.Equal(test, 2, r.Broadcast(chat, "alice"))

	assert.Equal(test, chat, bobPeer.next(test))
	assert.Equal(test, chat, carolPeer.next(test))
	alicePeer.silent(test)
}

func TestRouter_Unicast(test *testing.T) {
	r := newRouter(test, time.Unix(1700000000, 0))
	bob, bobPeer := connect(test, "bob")
	require.True(test, r.Registry().TryRegister(bob))

	pm := protocol.PM{From: "alice", To: "bob", Text: "hey", TS: r.Now()}
	assert.True(test, r.Unicast("bob", pm))
	assert.Equal(test, pm, bobPeer.next(test))

	assert.False(test, r.Unicast("nobody", pm))
	assert.Equal(test, 1, r.Registry().Len())
}

func TestRouter_LazyEviction(test *testing.T) {
	r := newRouter(test, time.Unix(1700000000, 0))
	alice, alicePeer := connect(test, "alice")
	gone, gonePeer := connect(test, "gone")
	require.True(test, r.Registry().TryRegister(alice))
	require.True(test, r.Registry().TryRegister(gone))

	gonePeer.conn.Close()

	assert.Equal(test, 1, r.AnnounceSystem("ping"))
	assert.Equal(test, "ping", alicePeer.next(test).(protocol.System).Text)
	assert.Equal(test, []string{"alice"}, r.Registry().Snapshot())
	assert.ErrorIs(test, gone.Send(protocol.List{}), ErrConnClosed)

	assert.False(test, r.Unicast("gone", protocol.List{}))
}

func TestRouter_UnicastEvictsOnFailure(test *testing.T) {
	r := newRouter(test, time.Unix(1, 0))
	bob, bobPeer := connect(test, "bob")
	require.True(test, r.Registry().TryRegister(bob))
	bobPeer.conn.Close()

	assert.False(test, r.Unicast("bob", protocol.System{Text: "x"}))
	_, ok := r.Registry().Lookup("bob")
	assert.False(test, ok)
}

func TestRouter_AnnounceRoster(test *testing.T) {
	r := newRouter(test, time.Unix(5, 0))
	bob, bobPeer := connect(test, "bob")
	alice, alicePeer := connect(test, "alice")
	require.True(test, r.Registry().TryRegister(bob))
	require.True(test, r.Registry().TryRegister(alice))

	assert.Equal(test, 2, r.AnnounceRoster())
	expected := protocol.Users{Users: []string{"alice", "bob"}, TS: 5}
	assert.Equal(test, expected, alicePeer.next(test))
	assert.Equal(test, expected, bobPeer.next(test))
}

func TestConn_Send(test *testing.T) {
	c, p := connect(test, "alice", WithConnID("conn-1"), WithConnMaxFrame(64), WithConnWriteTimeout(time.Second))
	assert.Equal(test, "alice", c.Identity())
	assert.Equal(test, "conn-1", c.ID())
	assert.NotNil(test, c.RemoteAddr())

	require.NoError(test, c.Send(protocol.System{Text: "short"}))
	assert.Equal(test, protocol.System{Text: "short"}, p.next(test))

	require.NoError(test, c.Send(protocol.System{Text: strings.Repeat("x", 100)}))
	assert.Equal(test, protocol.ErrorReply{Code: protocol.CodeMessageTooLong}, p.next(test))

	require.NoError(test, c.Close())
	require.NoError(test, c.Close())
	assert.ErrorIs(test, c.Send(protocol.List{}), ErrConnClosed)
}

func TestConn_ConcurrentWritesDoNotInterleave(test *testing.T) {
	c, p := connect(test, "alice")
	const writers, each = 8, 20

	wg := sync.WaitGroup{}
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				c.Send(protocol.System{Text: fmt.Sprintf("%d-%d %s", w, i, strings.Repeat("z", 200))})
			}
		}(w)
	}
	for i := 0; i < writers*each; i++ {
		_, ok := p.next(test).(protocol.System)
		require.True(test, ok)
	}
	wg.Wait()
}
