package singleinstance

// This file defines the API for single-instance ownership and session delegation.

import (
	"context"

	"croquis-timer/src/session"
)

// Server owns the TCP endpoint and answers delegated session requests.
type Server interface {
	// Start binds the first port of the range. It fails when a resident already owns it.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted connection as a Conn, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn represents one client connection and exposes request + response API.
type Conn interface {
	Request() Request
	// RespondSuccess tells the client the resident accepted the session.
	RespondSuccess() error
	// RespondError sends an error with human-readable message.
	RespondError(msg string) error
	Close() error
}

// Request asks the resident to start a new session.
type Request struct {
	Queue  []string       `json:"queue"`
	Policy session.Policy `json:"policy"`
}

// Client attempts to hand a session to a resident server.
type Client interface {
	// TryStart scans the port range, performs the handshake and delegates the
	// request. If no resident is found, returns delegated=false, err=nil.
	TryStart(ctx context.Context, req Request) (delegated bool, err error)
}

// NewServer returns TCP implementation.
func NewServer(ports PortRange) Server { return newTcpServer(ports) }

// NewClient returns TCP implementation.
func NewClient(ports PortRange) Client { return newTcpClient(ports) }
