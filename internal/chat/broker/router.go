// Package broker keeps registered client connections and routes frames between them.
package broker

import (
	"time"

	"go.uber.org/zap"

	"github.com/wtask/chatrelay/internal/chat/metrics"
	"github.com/wtask/chatrelay/internal/chat/protocol"
)

// Router - delivers frames to registered connections.
// Router never adds to the registry, it only evicts records whose writes failed.
type Router struct {
	registry *Registry
	log      *zap.Logger
	metrics  *metrics.Recorder
	now      func() time.Time
	maxFrame int
}

// New - builds Router over registry.
func New(registry *Registry, options ...routerOption) (*Router, error) {
	if registry == nil {
		return nil, ErrNoRegistry
	}
	r := &Router{
		registry: registry,
		log:      zap.NewNop(),
		now:      time.Now,
		maxFrame: protocol.MaxFrameSize,
	}
	if err := setup(r, options...); err != nil {
		return nil, err
	}
	return r, nil
}

// Registry - returns underlying registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Now - dispatch timestamp for a logical delivery.
func (r *Router) Now() protocol.Timestamp {
	return protocol.TimestampOf(r.now())
}

// Broadcast - delivers f to every registered connection except exclude (empty excludes nobody).
// Connections whose write fails are evicted after the pass. Returns number of successful deliveries.
func (r *Router) Broadcast(f protocol.Frame, exclude string) int {
	conns := r.registry.SnapshotRecords()
	if len(conns) == 0 {
		return 0
	}
	data, err := protocol.EncodeLimited(f, r.maxFrame)
	if err != nil {
		r.log.Error("can't encode broadcast frame", zap.String("type", string(f.Type())), zap.Error(err))
		return 0
	}

	delivered := 0
	failed := []*Conn{}
	for _, c := range conns {
		if c.identity == exclude {
			continue
		}
		if err := c.write(data); err != nil {
			failed = append(failed, c)
			continue
		}
		delivered++
	}
	r.metrics.FramesSent(string(f.Type()), delivered)
	r.evict(failed...)
	return delivered
}

// Unicast - delivers f to identity. Returns false if identity is not registered
// or the write failed; the recipient is evicted in the last case.
func (r *Router) Unicast(identity string, f protocol.Frame) bool {
	c, ok := r.registry.Lookup(identity)
	if !ok {
		return false
	}
	if err := c.Send(f); err != nil {
		r.evict(c)
		return false
	}
	r.metrics.FramesSent(string(f.Type()), 1)
	return true
}

// AnnounceSystem - broadcasts system text to everybody.
func (r *Router) AnnounceSystem(text string) int {
	return r.Broadcast(protocol.System{Text: text, TS: r.Now()}, "")
}

// AnnounceRoster - broadcasts current roster to everybody.
func (r *Router) AnnounceRoster() int {
	return r.Broadcast(protocol.Users{Users: r.registry.Snapshot(), TS: r.Now()}, "")
}

// evict - lazily drops records whose writes failed. Closing the transport wakes
// the owning session, which makes the departure announcement.
func (r *Router) evict(conns ...*Conn) {
	evicted := 0
	for _, c := range conns {
		if r.registry.Release(c) {
			evicted++
			r.log.Warn("evicted client after failed write",
				zap.String("user", c.identity),
				zap.String("conn", c.id),
			)
		}
		c.Close()
	}
	r.metrics.Evicted(evicted)
	if evicted > 0 {
		r.metrics.SetUsers(r.registry.Len())
	}
}
