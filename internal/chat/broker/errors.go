package broker

import "errors"

var (
	// ErrConnClosed - returns on write into a connection record which was closed already.
	ErrConnClosed = errors.New("broker.Conn: connection is closed")

	// ErrNoRegistry - returns by New when registry is not given.
	ErrNoRegistry = errors.New("broker.New: registry is nil")
)
