// Package `chatsrv` implements chat relay server over TCP with optional TLS.
//
// Clients exchange newline-delimited JSON frames: they register under a unique
// identity, then broadcast chat lines, send private messages and request the roster.
//
// To compile chat server locally, run from package directory:
//
//	go install .
//
// Or quickly launch server with command:
//
//	go run . --host 127.0.0.1 --port 5050
//
// TLS is enabled when both --cert and --key are given, otherwise the server
// runs in plaintext mode and warns about it. Optional WebSocket endpoint
// is served with --ws-addr, Prometheus metrics with --metrics-addr.
package main
