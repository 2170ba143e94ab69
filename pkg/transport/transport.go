// Package transport defines the abstract interface for the physical
// channels a Modbus master talks through. A transport moves raw bytes;
// framing and correlation live above it.
package transport

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotConnected = errors.New("transport not connected")
	ErrReadTimeout  = errors.New("read timeout")
)

// Transport is the byte channel under one Modbus link. An open
// transport is owned exclusively by a single transaction manager;
// implementations only need to be safe against concurrent Close.
type Transport interface {
	// Connect establishes the channel. It is also the explicit
	// reconnect operation after a link-level failure.
	Connect(ctx context.Context) error

	// Close releases the channel.
	Close() error

	// IsConnected reports whether the channel is open.
	IsConnected() bool

	// Send transmits data and returns the number of bytes written.
	Send(ctx context.Context, data []byte) (int, error)

	// Receive returns the next chunk of available bytes, blocking
	// until at least one byte arrives, the deadline passes
	// (ErrReadTimeout) or the context is cancelled. A partial frame
	// is a valid return; the caller reassembles.
	Receive(ctx context.Context, deadline time.Time) ([]byte, error)

	// Reset discards any stale buffered bytes left over from a
	// previous exchange, so the next Receive starts clean.
	Reset() error

	// Info returns runtime information about the transport.
	Info() Info
}

// Info contains runtime information about a transport.
type Info struct {
	// ID is a unique identifier for this transport instance.
	ID string `json:"id"`

	// Type is the transport type ("tcp", "serial").
	Type string `json:"type"`

	// Address is the configured endpoint or device path.
	Address string `json:"address"`

	// Connected reports whether the channel is currently open.
	Connected bool `json:"connected"`

	// Statistics contains transport statistics.
	Statistics Statistics `json:"statistics"`

	// ConnectedAt is when the connection was established.
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// Statistics contains transport byte counters.
type Statistics struct {
	// BytesSent is the total number of bytes sent.
	BytesSent uint64 `json:"bytes_sent"`

	// BytesReceived is the total number of bytes received.
	BytesReceived uint64 `json:"bytes_received"`

	// Errors is the total number of I/O errors encountered.
	Errors uint64 `json:"errors"`

	// Reconnects is the number of times Connect re-opened the
	// channel after a previous session.
	Reconnects uint64 `json:"reconnects"`
}
