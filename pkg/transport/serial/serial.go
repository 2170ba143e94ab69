// Package serial provides the serial port transport for Modbus RTU and
// ASCII links over RS232/RS485.
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/commatea/emodbus/pkg/transport"
	"github.com/google/uuid"
	"go.bug.st/serial"
)

// ErrInvalidConfig reports an unusable port configuration.
var ErrInvalidConfig = errors.New("invalid serial configuration")

// Config holds serial-specific configuration.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0", "COM1").
	Port string `yaml:"port" json:"port" validate:"required"`

	// BaudRate is the baud rate (e.g., 9600, 115200).
	BaudRate int `yaml:"baudrate" json:"baudrate"`

	// DataBits is the number of data bits (5, 6, 7, 8).
	DataBits int `yaml:"databits" json:"databits"`

	// Parity is the parity mode ("none", "odd", "even", "mark", "space").
	Parity string `yaml:"parity" json:"parity" validate:"omitempty,oneof=none odd even mark space"`

	// StopBits is the number of stop bits (1, 1.5, 2).
	StopBits float64 `yaml:"stopbits" json:"stopbits"`

	// ByteTimeout is the inter-byte read timeout handed to the port.
	// Receive keeps polling until its deadline, so this only bounds
	// the granularity of one read.
	ByteTimeout time.Duration `yaml:"byte_timeout" json:"byte_timeout"`

	// BufferSize is the read buffer size.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// DefaultConfig returns a default serial configuration.
func DefaultConfig() Config {
	return Config{
		BaudRate:    9600,
		DataBits:    8,
		Parity:      "none",
		StopBits:    1,
		ByteTimeout: 20 * time.Millisecond,
		BufferSize:  512,
	}
}

// Transport implements transport.Transport over a serial port.
type Transport struct {
	mu sync.Mutex

	config Config
	id     string

	port        serial.Port
	readBuffer  []byte
	connectedAt *time.Time
	stats       transport.Statistics
	sessions    int
}

// New creates a new serial transport. Zero config fields fall back to
// DefaultConfig values.
func New(config Config) *Transport {
	def := DefaultConfig()
	if config.BaudRate <= 0 {
		config.BaudRate = def.BaudRate
	}
	if config.DataBits <= 0 {
		config.DataBits = def.DataBits
	}
	if config.Parity == "" {
		config.Parity = def.Parity
	}
	if config.StopBits <= 0 {
		config.StopBits = def.StopBits
	}
	if config.ByteTimeout <= 0 {
		config.ByteTimeout = def.ByteTimeout
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	return &Transport{
		config:     config,
		id:         fmt.Sprintf("serial-%s", uuid.NewString()),
		readBuffer: make([]byte, config.BufferSize),
	}
}

// Connect opens the serial port.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}
	if t.config.Port == "" {
		return fmt.Errorf("%w: port path is required", ErrInvalidConfig)
	}

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: t.config.DataBits,
		Parity:   t.parseParity(),
		StopBits: t.parseStopBits(),
	}

	port, err := serial.Open(t.config.Port, mode)
	if err != nil {
		t.stats.Errors++
		return fmt.Errorf("open %s: %w", t.config.Port, err)
	}
	if err := port.SetReadTimeout(t.config.ByteTimeout); err != nil {
		port.Close()
		return err
	}

	now := time.Now()
	t.port = port
	t.connectedAt = &now
	t.sessions++
	if t.sessions > 1 {
		t.stats.Reconnects++
	}
	return nil
}

// Close closes the serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.connectedAt = nil
	return err
}

// IsConnected reports whether the port is open.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Send writes data to the serial port.
func (t *Transport) Send(ctx context.Context, data []byte) (int, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	if port == nil {
		return 0, transport.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n, err := port.Write(data)
	t.mu.Lock()
	t.stats.BytesSent += uint64(n)
	if err != nil {
		t.stats.Errors++
	}
	t.mu.Unlock()
	return n, err
}

// Receive polls the port until at least one byte arrives or the
// deadline passes. The port's own read timeout sets the poll
// granularity, so cancellation is checked between reads.
func (t *Transport) Receive(ctx context.Context, deadline time.Time) ([]byte, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	if port == nil {
		return nil, transport.ErrNotConnected
	}
	if cd, ok := ctx.Deadline(); ok && cd.Before(deadline) {
		deadline = cd
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := port.Read(t.readBuffer)
		if err != nil {
			t.mu.Lock()
			t.stats.Errors++
			t.mu.Unlock()
			return nil, err
		}
		if n > 0 {
			data := make([]byte, n)
			copy(data, t.readBuffer[:n])
			t.mu.Lock()
			t.stats.BytesReceived += uint64(n)
			t.mu.Unlock()
			return data, nil
		}
		if !time.Now().Before(deadline) {
			return nil, transport.ErrReadTimeout
		}
	}
}

// Reset discards buffered input so the next exchange starts clean.
func (t *Transport) Reset() error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	if port == nil {
		return transport.ErrNotConnected
	}
	return port.ResetInputBuffer()
}

// Info returns transport information.
func (t *Transport) Info() transport.Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	return transport.Info{
		ID:          t.id,
		Type:        "serial",
		Address:     t.config.Port,
		Connected:   t.port != nil,
		Statistics:  t.stats,
		ConnectedAt: t.connectedAt,
	}
}

// parseParity converts the parity string to serial.Parity.
func (t *Transport) parseParity() serial.Parity {
	switch t.config.Parity {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	case "mark":
		return serial.MarkParity
	case "space":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

// parseStopBits converts the stopbits float to serial.StopBits.
func (t *Transport) parseStopBits() serial.StopBits {
	switch t.config.StopBits {
	case 1.5:
		return serial.OnePointFiveStopBits
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}
