package chat

import (
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wtask/chatrelay/internal/chat/metrics"
)

// ServerOption - tunes Server.
type ServerOption func(s *Server) error

func setup(s *Server, options ...ServerOption) error {
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(s); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger - attaches logger, nil keeps the no-op one.
func WithLogger(log *zap.Logger) ServerOption {
	return func(s *Server) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithTLSConfig - makes every accepted TCP connection a TLS server-side handshake.
// Nil config means plaintext.
func WithTLSConfig(config *tls.Config) ServerOption {
	return func(s *Server) error {
		s.tlsConfig = config
		return nil
	}
}

func positive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("chat.%s: invalid duration (%s)", name, d)
	}
	return nil
}

// WithRegisterTimeout - hard limit to receive register frame from a new connection.
func WithRegisterTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) error {
		if err := positive("WithRegisterTimeout", timeout); err != nil {
			return err
		}
		s.registerTimeout = timeout
		return nil
	}
}

// WithReadTimeout - polling interval of registered sessions, expiration is not a disconnect.
func WithReadTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) error {
		if err := positive("WithReadTimeout", timeout); err != nil {
			return err
		}
		s.readTimeout = timeout
		return nil
	}
}

// WithWriteTimeout - bounds each frame write.
func WithWriteTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) error {
		if err := positive("WithWriteTimeout", timeout); err != nil {
			return err
		}
		s.writeTimeout = timeout
		return nil
	}
}

// WithMaxFrameSize - limit of inbound and outbound frame in bytes, line terminator excluded.
// Chat and private message text is truncated to fit the limit.
func WithMaxFrameSize(size int) ServerOption {
	return func(s *Server) error {
		if size < MinFrameSize {
			return fmt.Errorf("chat.WithMaxFrameSize: invalid size (%d)", size)
		}
		s.maxFrame = size
		return nil
	}
}

// WithMetrics - attaches metrics recorder.
func WithMetrics(m *metrics.Recorder) ServerOption {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// WithClock - overwrites time source of frame timestamps.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) error {
		if now == nil {
			return fmt.Errorf("chat.WithClock: clock func is nil")
		}
		s.now = now
		return nil
	}
}
