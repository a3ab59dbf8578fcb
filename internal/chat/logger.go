package chat

import (
	"net"

	"go.uber.org/zap"
)

// sessionLogger - derives logger for the connection identified by id.
func sessionLogger(log *zap.Logger, id string, remote net.Addr) *zap.Logger {
	return log.With(
		zap.String("conn", id),
		zap.String("remote", formatAddress(remote)),
	)
}

// panicFields - fields describing recovered value.
func panicFields(v interface{}) []zap.Field {
	return []zap.Field{
		zap.Any("panic", v),
		zap.Stack("stack"),
	}
}
