package chat

import "errors"

var (
	// ErrServerClosed - returned by Serve after Shutdown was called.
	ErrServerClosed = errors.New("chat.Server: closed")

	// ErrTLSConfig - certificate and key are given partially or can't be loaded.
	ErrTLSConfig = errors.New("chat: invalid TLS configuration")
)
