// Package client is the public surface of the emodbus master stack: a
// Connection owns one transport link and resolves logical register
// names through a MIB to batched Modbus exchanges.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/commatea/emodbus/pkg/config"
	"github.com/commatea/emodbus/pkg/decode"
	"github.com/commatea/emodbus/pkg/frame"
	"github.com/commatea/emodbus/pkg/logger"
	"github.com/commatea/emodbus/pkg/metrics"
	"github.com/commatea/emodbus/pkg/mib"
	"github.com/commatea/emodbus/pkg/transaction"
	"github.com/commatea/emodbus/pkg/transport"
	"github.com/commatea/emodbus/pkg/transport/serial"
	"github.com/commatea/emodbus/pkg/transport/tcp"
	"github.com/google/uuid"
)

// ErrNotWritable reports a write against an entry whose function code
// has no write form (discrete inputs, input registers) or whose rule
// cannot encode values.
var ErrNotWritable = errors.New("entry is not writable")

// ErrBroadcastRead reports a read addressed to slave 0. The broadcast
// address is write-only: no slave answers on it.
var ErrBroadcastRead = errors.New("broadcast address is write-only")

// Options tune a connection beyond its transport settings.
type Options struct {
	// Policy bounds each exchange. Zero value falls back to
	// transaction.DefaultPolicy.
	Policy transaction.Policy

	// Logger receives debug/warn events. Nil uses the global logger.
	Logger *logger.Logger

	// Registry resolves custom decode rules. Nil disables them.
	Registry *decode.Registry
}

// Connection is one Modbus master endpoint: a transport, its frame
// codec, a transaction manager serializing the link and a MIB scoped
// to this connection. Safe for concurrent use; exchanges serialize.
type Connection struct {
	id  string
	mgr *transaction.Manager
	mib *mib.Mib
	reg *decode.Registry
	log *logger.Logger
}

// ConnectTCP opens a Modbus TCP connection.
func ConnectTCP(ctx context.Context, cfg tcp.Config, opts *Options) (*Connection, error) {
	return connect(ctx, tcp.New(cfg), frame.NewTCP(), opts)
}

// ConnectRTU opens a Modbus RTU connection over a serial port.
func ConnectRTU(ctx context.Context, cfg serial.Config, opts *Options) (*Connection, error) {
	return connect(ctx, serial.New(cfg), frame.NewRTU(), opts)
}

// ConnectASCII opens a Modbus ASCII connection over a serial port.
func ConnectASCII(ctx context.Context, cfg serial.Config, opts *Options) (*Connection, error) {
	return connect(ctx, serial.New(cfg), frame.NewASCII(), opts)
}

// ConnectConfig opens a connection from a loaded profile and defines
// any slave tables it carries.
func ConnectConfig(ctx context.Context, cfg *config.Config, opts *Options) (*Connection, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Policy == (transaction.Policy{}) {
		opts.Policy = cfg.Policy
	}

	var (
		c   *Connection
		err error
	)
	switch cfg.Transport {
	case "tcp":
		c, err = ConnectTCP(ctx, cfg.TCP, opts)
	case "rtu":
		c, err = ConnectRTU(ctx, cfg.Serial, opts)
	case "ascii":
		c, err = ConnectASCII(ctx, cfg.Serial, opts)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	for _, s := range cfg.Slaves {
		if err := c.DefineSlave(s.SlaveID, s.Entries); err != nil {
			c.Close()
			return nil, fmt.Errorf("defining slave %d: %w", s.SlaveID, err)
		}
	}
	return c, nil
}

func connect(ctx context.Context, tr transport.Transport, codec frame.Codec, opts *Options) (*Connection, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	if err := tr.Connect(ctx); err != nil {
		return nil, err
	}
	metrics.ConnectedLinks.Inc()

	c := &Connection{
		id:  uuid.NewString(),
		mgr: transaction.NewManager(tr, codec, opts.Policy, log),
		mib: mib.New(),
		reg: opts.Registry,
		log: log,
	}
	log.Info("connection opened",
		"id", c.id,
		"transport", codec.Name(),
		"address", tr.Info().Address)
	return c, nil
}

// Close releases the underlying transport.
func (c *Connection) Close() error {
	err := c.mgr.Transport().Close()
	metrics.ConnectedLinks.Dec()
	c.log.Info("connection closed", "id", c.id)
	return err
}

// Reconnect re-opens the transport after a link-level failure. The
// caller decides when a failure is link level rather than a transient
// protocol error.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mgr.Transport().Close()
	return c.mgr.Transport().Connect(ctx)
}

// DefineSlave merges entries into this connection's MIB for slaveID.
func (c *Connection) DefineSlave(slaveID byte, entries []mib.Entry) error {
	return c.mib.Define(slaveID, entries)
}

// Info returns runtime information about the underlying transport.
func (c *Connection) Info() transport.Info {
	return c.mgr.Transport().Info()
}

// entriesFor returns the ordered entries for slaveID, falling back to
// the process default MIB when this connection defines none.
func (c *Connection) entriesFor(slaveID byte) []mib.Entry {
	if entries := c.mib.Entries(slaveID); len(entries) > 0 {
		return entries
	}
	return mib.Default().Entries(slaveID)
}

// lookup resolves one name for slaveID, local MIB first.
func (c *Connection) lookup(slaveID byte, name string) (mib.Entry, error) {
	if e, err := c.mib.Lookup(slaveID, name); err == nil {
		return e, nil
	}
	return mib.Default().Lookup(slaveID, name)
}

// Field is the outcome for one logical name: a typed value or the
// error that kept it from resolving, reading or writing.
type Field struct {
	Name  string
	Value any
	Err   error
}

// Result is an ordered per-name outcome set. Exactly one field exists
// per requested name, failures inline.
type Result []Field

// Value returns the outcome for name.
func (r Result) Value(name string) (any, error) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, f.Err
		}
	}
	return nil, fmt.Errorf("%w: %q", mib.ErrNotFound, name)
}

// Ok reports whether every field succeeded.
func (r Result) Ok() bool {
	for _, f := range r {
		if f.Err != nil {
			return false
		}
	}
	return true
}

// Map returns the successful values keyed by name.
func (r Result) Map() map[string]any {
	out := make(map[string]any, len(r))
	for _, f := range r {
		if f.Err == nil {
			out[f.Name] = f.Value
		}
	}
	return out
}
