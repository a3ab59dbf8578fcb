package chat

import (
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wtask/chatrelay/internal/chat/broker"
	"github.com/wtask/chatrelay/internal/chat/message"
	"github.com/wtask/chatrelay/internal/chat/protocol"
)

// session - state of one client connection.
// Only the session reads from its transport; writes after registration go through conn.
type session struct {
	server    *Server
	transport net.Conn
	reader    *protocol.Reader
	log       *zap.Logger
	id        string

	conn   *broker.Conn
	joined bool
}

// serveSession - runs connection state machine until the connection is closed.
func (s *Server) serveSession(transport net.Conn) {
	ss := &session{
		server:    s,
		transport: transport,
		reader:    protocol.NewReader(transport, s.maxFrame),
		id:        connectionID(),
	}
	ss.log = sessionLogger(s.log, ss.id, transport.RemoteAddr())
	ss.log.Debug("connection accepted")
	s.metrics.ConnectionOpened()

	reason := reasonError
	defer func() {
		if v := recover(); v != nil {
			ss.log.Error("session panic", panicFields(v)...)
			reason = reasonError
		}
		ss.close(reason)
		s.metrics.ConnectionClosed(reason.String())
	}()

	if reason = ss.register(); reason != 0 {
		return
	}
	reason = ss.serve()
}

// register - awaits registration, returns non-zero reason if the connection must be dropped.
func (ss *session) register() disconnectReason {
	line, err := ss.reader.ReadFrame(ss.server.registerTimeout)
	if err != nil {
		ss.log.Debug("registration is not received", zap.Error(err))
		return ss.readFailure(err)
	}
	f, err := protocol.Decode(line)
	if err != nil {
		ss.log.Debug("malformed registration", zap.Error(err))
		ss.reject(protocol.ErrorReply{Code: protocol.CodeBadJSON})
		return reasonRejected
	}
	req, ok := f.(protocol.Register)
	if !ok {
		ss.reject(protocol.ErrorReply{Code: protocol.CodeRegisterRequired})
		return reasonRejected
	}
	if req.UserID == "" {
		ss.reject(protocol.ErrorReply{Code: protocol.CodeRegisterRequired})
		return reasonRejected
	}
	identity := strings.TrimSpace(req.UserID)
	if !ValidIdentity(identity) {
		ss.reject(protocol.RegisterAck{OK: false, Reason: protocol.ReasonInvalidUser})
		return reasonRejected
	}

	conn := broker.NewConn(identity, ss.transport,
		broker.WithConnID(ss.id),
		broker.WithConnWriteTimeout(ss.server.writeTimeout),
		broker.WithConnMaxFrame(ss.server.maxFrame),
	)
	admitted, err := ss.server.registry.Admit(conn, protocol.RegisterAck{OK: true, UserID: identity})
	if !admitted {
		if err != nil {
			ss.log.Error("can't encode registration ack", zap.Error(err))
			return reasonError
		}
		ss.log.Debug("identity is taken", zap.String("user", identity))
		ss.reject(protocol.RegisterAck{OK: false, Reason: protocol.ReasonUserTaken})
		return reasonRejected
	}
	ss.conn = conn
	ss.log = ss.log.With(zap.String("user", identity))
	if err != nil {
		ss.log.Debug("can't write registration ack", zap.Error(err))
		return reasonError
	}

	ss.server.metrics.FramesSent(string(protocol.TypeRegister), 1)
	ss.server.metrics.SetUsers(ss.server.registry.Len())
	ss.log.Info("client joined")
	ss.joined = true
	ss.server.router.AnnounceSystem(identity + " joined")
	ss.server.router.AnnounceRoster()
	return 0
}

// serve - active phase loop, returns the reason it has ended for.
func (ss *session) serve() disconnectReason {
	for {
		line, err := ss.reader.ReadFrame(ss.server.readTimeout)
		if errors.Is(err, protocol.ErrTimeout) {
			continue
		}
		if err != nil {
			return ss.readFailure(err)
		}

		f, err := protocol.Decode(line)
		if err != nil {
			ss.log.Debug("malformed frame", zap.Error(err))
			if err := ss.send(protocol.ErrorReply{Code: protocol.CodeBadJSON}); err != nil {
				return reasonError
			}
			continue
		}
		ss.server.metrics.FrameReceived(frameLabel(f))

		logout, err := ss.dispatch(f)
		if err != nil {
			ss.log.Debug("can't reply", zap.Error(err))
			return reasonError
		}
		if logout {
			return reasonLogout
		}
	}
}

// dispatch - handles frame of registered client. Error means the reply to the client has failed.
func (ss *session) dispatch(f protocol.Frame) (logout bool, err error) {
	router := ss.server.router
	identity := ss.conn.Identity()

	switch f := f.(type) {
	case protocol.Chat:
		text := message.Clean(f.Text, ss.server.textBudget)
		if text == "" {
			return false, nil
		}
		router.Broadcast(protocol.Chat{From: identity, Text: text, TS: router.Now()}, identity)
		return false, nil

	case protocol.PM:
		to := strings.TrimSpace(f.To)
		text := message.Clean(f.Text, ss.server.textBudget)
		if !ValidIdentity(to) || text == "" {
			return false, ss.send(protocol.PMAck{To: to, Delivered: false, Reason: protocol.ReasonInvalid})
		}
		ts := router.Now()
		delivered := router.Unicast(to, protocol.PM{From: identity, To: to, Text: text, TS: ts})
		return false, ss.send(protocol.PMAck{To: to, Delivered: delivered, TS: ts})

	case protocol.List:
		return false, ss.send(protocol.Users{Users: ss.server.registry.Snapshot(), TS: router.Now()})

	case protocol.Logout:
		return true, nil

	default:
		ss.log.Debug("unsupported frame", zap.String("type", string(f.Type())))
		return false, ss.send(protocol.ErrorReply{Code: protocol.CodeUnknownType})
	}
}

// send - writes frame to own connection.
func (ss *session) send(f protocol.Frame) error {
	if err := ss.conn.Send(f); err != nil {
		return err
	}
	ss.server.metrics.FramesSent(string(f.Type()), 1)
	return nil
}

// reject - best-effort reply to an unregistered connection.
func (ss *session) reject(f protocol.Frame) {
	data, err := protocol.EncodeLimited(f, ss.server.maxFrame)
	if err != nil {
		return
	}
	ss.transport.SetWriteDeadline(time.Now().Add(ss.server.writeTimeout))
	if _, err := ss.transport.Write(data); err != nil {
		ss.log.Debug("can't write rejection", zap.Error(err))
		return
	}
	ss.server.metrics.FramesSent(string(f.Type()), 1)
}

func (ss *session) readFailure(err error) disconnectReason {
	if ss.server.isClosed() {
		return reasonShutdown
	}
	return readFailureReason(err)
}

// close - releases identity, closes transport and announces departure once.
// A record evicted by the router is already released; the identity may be taken
// by a new connection at that moment, then the departure is not announced.
func (ss *session) close(reason disconnectReason) {
	if ss.conn == nil {
		ss.transport.Close()
		ss.log.Debug("connection closed", zap.Stringer("reason", reason))
		return
	}

	registry := ss.server.registry
	registry.Release(ss.conn)
	ss.conn.Close()
	ss.server.metrics.SetUsers(registry.Len())
	ss.log.Info("client left", zap.Stringer("reason", reason))

	if !ss.joined || ss.server.isClosed() {
		return
	}
	if _, held := registry.Lookup(ss.conn.Identity()); held {
		return
	}
	ss.server.router.AnnounceSystem(ss.conn.Identity() + " left")
	ss.server.router.AnnounceRoster()
}

// frameLabel - metric label of received frame, unknown types share one label.
func frameLabel(f protocol.Frame) string {
	if _, ok := f.(protocol.Unrecognized); ok {
		return "unknown"
	}
	return string(f.Type())
}
