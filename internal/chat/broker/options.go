package broker

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wtask/chatrelay/internal/chat/metrics"
)

type routerOption func(r *Router) error

func setup(r *Router, options ...routerOption) error {
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(r); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger - attaches logger, nil keeps the no-op one.
func WithLogger(log *zap.Logger) routerOption {
	return func(r *Router) error {
		if log != nil {
			r.log = log
		}
		return nil
	}
}

// WithMetrics - attaches metrics recorder.
func WithMetrics(m *metrics.Recorder) routerOption {
	return func(r *Router) error {
		r.metrics = m
		return nil
	}
}

// WithClock - overwrites time source used to stamp outgoing frames.
func WithClock(now func() time.Time) routerOption {
	return func(r *Router) error {
		if now == nil {
			return errors.New("broker.WithClock: clock func is nil")
		}
		r.now = now
		return nil
	}
}

// WithMaxFrame - overwrites outbound frame limit, larger frames are replaced with message_too_long error.
func WithMaxFrame(max int) routerOption {
	return func(r *Router) error {
		if max <= 0 {
			return fmt.Errorf("broker.WithMaxFrame: invalid frame size (%d)", max)
		}
		r.maxFrame = max
		return nil
	}
}
