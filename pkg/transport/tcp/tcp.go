// Package tcp provides the TCP client transport for Modbus TCP links.
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/commatea/emodbus/pkg/transport"
	"github.com/google/uuid"
)

// Config holds TCP-specific configuration.
type Config struct {
	// Host is the remote host.
	Host string `yaml:"host" json:"host" validate:"required"`

	// Port is the remote port.
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// ConnectTimeout is the dial timeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`

	// KeepAlive enables TCP keepalive.
	KeepAlive bool `yaml:"keepalive" json:"keepalive"`

	// KeepAlivePeriod is the keepalive interval.
	KeepAlivePeriod time.Duration `yaml:"keepalive_period" json:"keepalive_period"`

	// BufferSize is the read buffer size.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// DefaultConfig returns a default TCP configuration. 502 is the
// registered Modbus port.
func DefaultConfig() Config {
	return Config{
		Port:            502,
		ConnectTimeout:  5 * time.Second,
		KeepAlive:       true,
		KeepAlivePeriod: 30 * time.Second,
		BufferSize:      512,
	}
}

// Transport implements transport.Transport over a TCP socket.
type Transport struct {
	mu sync.Mutex

	config Config
	id     string

	conn        net.Conn
	readBuffer  []byte
	connectedAt *time.Time
	stats       transport.Statistics
	sessions    int
}

// New creates a new TCP transport. Zero config fields fall back to
// DefaultConfig values.
func New(config Config) *Transport {
	def := DefaultConfig()
	if config.Port == 0 {
		config.Port = def.Port
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = def.ConnectTimeout
	}
	if config.KeepAlivePeriod <= 0 {
		config.KeepAlivePeriod = def.KeepAlivePeriod
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	return &Transport{
		config:     config,
		id:         fmt.Sprintf("tcp-%s", uuid.NewString()),
		readBuffer: make([]byte, config.BufferSize),
	}
}

// Connect dials the remote endpoint.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(t.config.Host, fmt.Sprintf("%d", t.config.Port))
	dialer := net.Dialer{Timeout: t.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.stats.Errors++
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(t.config.KeepAlive)
		if t.config.KeepAlive {
			tc.SetKeepAlivePeriod(t.config.KeepAlivePeriod)
		}
		tc.SetNoDelay(true)
	}

	now := time.Now()
	t.conn = conn
	t.connectedAt = &now
	t.sessions++
	if t.sessions > 1 {
		t.stats.Reconnects++
	}
	return nil
}

// Close closes the socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.connectedAt = nil
	return err
}

// IsConnected reports whether the socket is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send writes data to the socket.
func (t *Transport) Send(ctx context.Context, data []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return 0, transport.ErrNotConnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Time{})
	}

	n, err := conn.Write(data)
	t.mu.Lock()
	t.stats.BytesSent += uint64(n)
	if err != nil {
		t.stats.Errors++
	}
	t.mu.Unlock()
	return n, err
}

// Receive reads the next available chunk, blocking until the deadline.
func (t *Transport) Receive(ctx context.Context, deadline time.Time) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, transport.ErrNotConnected
	}
	if cd, ok := ctx.Deadline(); ok && cd.Before(deadline) {
		deadline = cd
	}
	conn.SetReadDeadline(deadline)

	n, err := conn.Read(t.readBuffer)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, transport.ErrReadTimeout
		}
		t.mu.Lock()
		t.stats.Errors++
		t.mu.Unlock()
		return nil, err
	}

	data := make([]byte, n)
	copy(data, t.readBuffer[:n])
	t.mu.Lock()
	t.stats.BytesReceived += uint64(n)
	t.mu.Unlock()
	return data, nil
}

// Reset drains any stale bytes sitting in the socket buffer.
func (t *Transport) Reset() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return transport.ErrNotConnected
	}
	for {
		conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, err := conn.Read(t.readBuffer)
		if n > 0 {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
}

// Info returns transport information.
func (t *Transport) Info() transport.Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	return transport.Info{
		ID:          t.id,
		Type:        "tcp",
		Address:     net.JoinHostPort(t.config.Host, fmt.Sprintf("%d", t.config.Port)),
		Connected:   t.conn != nil,
		Statistics:  t.stats,
		ConnectedAt: t.connectedAt,
	}
}
