package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wtask/chatrelay/internal/chat/broker"
	"github.com/wtask/chatrelay/internal/chat/message"
	"github.com/wtask/chatrelay/internal/chat/metrics"
	"github.com/wtask/chatrelay/internal/chat/protocol"
	"github.com/wtask/chatrelay/pkg/background"
)

const (
	// DefaultTimeout - default registration, read and write timeout.
	DefaultTimeout = 15 * time.Second

	// MinFrameSize - smallest frame limit, it leaves room for text after the envelope of a relayed message.
	MinFrameSize = 256

	// ShutdownNotice - system text announced to registered clients on shutdown.
	ShutdownNotice = "server shutting down"

	maxAcceptDelay = time.Second
)

// Server - represents chat relay over any net.Listener implementation.
// One session goroutine serves each accepted connection; sessions share
// the registry and write directly to each other's connections through the router.
type Server struct {
	log             *zap.Logger
	tlsConfig       *tls.Config
	registerTimeout time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	maxFrame        int
	textBudget      int
	metrics         *metrics.Recorder
	now             func() time.Time

	registry *broker.Registry
	router   *broker.Router
	sessions *background.Scope

	mu         sync.Mutex
	closed     bool
	listeners  map[net.Listener]struct{}
	transports map[net.Conn]struct{}
}

// NewServer - creates new chat server which ready to serve several network listeners.
func NewServer(options ...ServerOption) (*Server, error) {
	s := &Server{
		log:             zap.NewNop(),
		registerTimeout: DefaultTimeout,
		readTimeout:     DefaultTimeout,
		writeTimeout:    DefaultTimeout,
		maxFrame:        protocol.MaxFrameSize,
		now:             time.Now,
		registry:        broker.NewRegistry(),
		listeners:       map[net.Listener]struct{}{},
		transports:      map[net.Conn]struct{}{},
	}
	if err := setup(s, options...); err != nil {
		return nil, err
	}
	s.textBudget = message.Budget(s.maxFrame)
	router, err := broker.New(
		s.registry,
		broker.WithLogger(s.log.Named("router")),
		broker.WithMetrics(s.metrics),
		broker.WithClock(s.now),
		broker.WithMaxFrame(s.maxFrame),
	)
	if err != nil {
		return nil, fmt.Errorf("chat.NewServer: can't build router: %w", err)
	}
	s.router = router
	s.sessions, _ = background.NewScope(context.Background())
	return s, nil
}

// Users - sorted identities registered at the moment.
func (s *Server) Users() []string {
	return s.registry.Snapshot()
}

// Serve - accepts connections from listener and spawns session for each of them.
// When TLS is configured every accepted connection is wrapped into TLS server-side handshake.
// Serve always closes listener and returns ErrServerClosed after Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	if listener == nil {
		return errors.New("chat.Server.Serve: listener is nil")
	}
	addr := formatAddress(listener.Addr())
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
		s.log.Info("listening", zap.String("addr", addr), zap.Bool("tls", true))
	} else {
		s.log.Warn("listening in INSECURE plaintext mode, TLS certificate and key are not configured",
			zap.String("addr", addr),
			zap.Bool("tls", false),
		)
	}
	if !s.trackListener(listener, true) {
		listener.Close()
		return ErrServerClosed
	}
	defer s.trackListener(listener, false)

	delay := time.Duration(0)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.log.Error("accept failed", zap.String("addr", addr), zap.Error(err), zap.Duration("retry", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.handle(conn)
	}
}

// handle - starts session for transport in background, never blocks on the peer.
func (s *Server) handle(transport net.Conn) {
	if !s.trackTransport(transport, true) {
		transport.Close()
		return
	}
	started := s.sessions.Go(func(context.Context) {
		defer s.trackTransport(transport, false)
		s.serveSession(transport)
	})
	if !started {
		s.trackTransport(transport, false)
		transport.Close()
	}
}

// Shutdown - stops accepting, announces shutdown, closes every connection
// and waits for sessions to finish until ctx is done.
// Repeated calls only wait for sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.sessions.Wait(ctx)
	}
	s.closed = true
	listeners := make([]net.Listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	s.sessions.Cancel()
	for _, l := range listeners {
		l.Close()
	}
	s.log.Info("shutting down", zap.Int("users", s.registry.Len()))
	s.router.AnnounceSystem(ShutdownNotice)
	for _, c := range s.registry.Drain() {
		c.Close()
	}
	s.metrics.SetUsers(0)

	// unregistered sessions are not reachable through the registry
	s.mu.Lock()
	transports := make([]net.Conn, 0, len(s.transports))
	for t := range s.transports {
		transports = append(transports, t)
	}
	s.mu.Unlock()
	for _, t := range transports {
		t.Close()
	}

	err := s.sessions.Wait(ctx)
	if err != nil {
		s.log.Warn("shutdown is incomplete", zap.Error(err))
		return err
	}
	s.log.Info("shutdown complete")
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackListener(l net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.listeners[l] = struct{}{}
		return true
	}
	delete(s.listeners, l)
	return true
}

func (s *Server) trackTransport(c net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed {
			return false
		}
		s.transports[c] = struct{}{}
		return true
	}
	delete(s.transports, c)
	return true
}
