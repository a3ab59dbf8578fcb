package chat

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wtask/chatrelay/internal/chat/protocol"
)

// WebSocketPath - HTTP path of WebSocket endpoint.
const WebSocketPath = "/ws"

// WebSocketHandler - upgrades requests to WebSocket and serves them as ordinary sessions.
// Each text message is one frame. WebSocket and TCP clients share the registry.
func (s *Server) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isClosed() {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// upgrader has replied already
			s.log.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		s.handle(newWSConn(ws, s.maxFrame))
	})
}

// ServeWebSocket - serves WebSocket endpoint over listener until Shutdown.
func (s *Server) ServeWebSocket(listener net.Listener) error {
	if listener == nil {
		return errors.New("chat.Server.ServeWebSocket: listener is nil")
	}
	addr := formatAddress(listener.Addr())
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
		s.log.Info("listening websocket", zap.String("addr", addr), zap.String("path", WebSocketPath), zap.Bool("tls", true))
	} else {
		s.log.Warn("listening websocket in INSECURE plaintext mode, TLS certificate and key are not configured",
			zap.String("addr", addr),
			zap.String("path", WebSocketPath),
			zap.Bool("tls", false),
		)
	}
	if !s.trackListener(listener, true) {
		listener.Close()
		return ErrServerClosed
	}
	defer s.trackListener(listener, false)

	mux := http.NewServeMux()
	mux.Handle(WebSocketPath, s.WebSocketHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.registerTimeout,
		ErrorLog:          zap.NewStdLog(s.log.Named("http")),
	}
	err := srv.Serve(listener)
	if s.isClosed() {
		return ErrServerClosed
	}
	return err
}

// wsConn - presents WebSocket as a line oriented net.Conn:
// every received message is followed by '\n', every written line is sent as one text message.
// A pump goroutine reads messages, so read deadlines never break the socket.
// Deadline is sampled when Read starts to wait.
type wsConn struct {
	ws    *websocket.Conn
	inbox chan []byte
	done  chan struct{}

	readErr error // valid after inbox is closed
	pending []byte

	mu           sync.Mutex
	readDeadline time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn, maxFrame int) *wsConn {
	ws.SetReadLimit(int64(maxFrame))
	c := &wsConn{
		ws:    ws,
		inbox: make(chan []byte),
		done:  make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *wsConn) pump() {
	defer close(c.inbox)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = wsReadError(err)
			return
		}
		select {
		case c.inbox <- append(data, '\n'):
		case <-c.done:
			c.readErr = net.ErrClosed
			return
		}
	}
}

func wsReadError(err error) error {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return protocol.ErrFrameTooLong
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	):
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return io.EOF
	default:
		return err
	}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		c.mu.Lock()
		deadline := c.readDeadline
		c.mu.Unlock()

		var expired <-chan time.Time
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			expired = timer.C
		}

		select {
		case data, ok := <-c.inbox:
			if !ok {
				return 0, c.readErr
			}
			c.pending = data
		case <-expired:
			return 0, os.ErrDeadlineExceeded
		case <-c.done:
			return 0, net.ErrClosed
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}
	written := 0
	for written < len(p) {
		line := p[written:]
		n := len(line)
		for i, b := range line {
			if b == '\n' {
				n = i
				break
			}
		}
		if n > 0 {
			if err := c.ws.WriteMessage(websocket.TextMessage, line[:n]); err != nil {
				return written, err
			}
		}
		written += n
		if written < len(p) {
			written++ // terminator
		}
	}
	return written, nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t)
	return c.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
