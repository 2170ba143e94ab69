// Package transaction sequences Modbus exchanges over one physical
// link. The protocol is half duplex per link: exactly one request may
// be outstanding, so all exchanges are serialized behind a mutex and
// correlated either by TCP transaction id or, on serial links, by
// position (the next valid frame answers the one outstanding request).
package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/commatea/emodbus/pkg/frame"
	"github.com/commatea/emodbus/pkg/logger"
	"github.com/commatea/emodbus/pkg/metrics"
	"github.com/commatea/emodbus/pkg/pdu"
	"github.com/commatea/emodbus/pkg/transport"
)

// Policy bounds one logical exchange: a timeout per attempt and a
// number of retransmissions after the first attempt. Retries resend
// the same encoded request.
type Policy struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Retries int           `yaml:"retries" json:"retries" validate:"min=0"`
}

// DefaultPolicy returns the default exchange policy.
func DefaultPolicy() Policy {
	return Policy{Timeout: 1 * time.Second, Retries: 2}
}

// UnmarshalYAML accepts the timeout either as integer nanoseconds or
// as a duration string such as "500ms".
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Timeout yaml.Node `yaml:"timeout"`
		Retries int       `yaml:"retries"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.Retries = raw.Retries
	if raw.Timeout.IsZero() {
		return nil
	}
	if err := raw.Timeout.Decode(&p.Timeout); err == nil {
		return nil
	}
	var s string
	if err := raw.Timeout.Decode(&s); err != nil {
		return err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	p.Timeout = d
	return nil
}

// CommunicationError is surfaced after every attempt of an exchange
// failed. Cause holds the failure of the last attempt.
type CommunicationError struct {
	Attempts int
	Cause    error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("exchange failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *CommunicationError) Unwrap() error {
	return e.Cause
}

// Manager owns one transport and one codec and runs exchanges over
// them. Safe for concurrent use; concurrent calls are serialized.
type Manager struct {
	mu sync.Mutex

	tr     transport.Transport
	codec  frame.Codec
	policy Policy
	log    *logger.Logger

	nextID uint16
}

// NewManager creates a manager for an open transport. A nil log falls
// back to the global logger.
func NewManager(tr transport.Transport, codec frame.Codec, policy Policy, log *logger.Logger) *Manager {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultPolicy().Timeout
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	if log == nil {
		log = logger.Global()
	}
	return &Manager{
		tr:     tr,
		codec:  codec,
		policy: policy,
		log:    log,
	}
}

// Execute sends req to slaveID and returns the matched response PDU.
// Timeouts and frame-level failures (checksum, framing, exception
// responses) consume the retry budget; once it is exhausted the last
// cause is surfaced wrapped in a *CommunicationError. A broadcast
// write (slaveID 0) returns an empty PDU after transmission since no
// response follows.
func (m *Manager) Execute(ctx context.Context, slaveID byte, req pdu.PDU) (pdu.PDU, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	h := frame.Header{SlaveID: slaveID, TransactionID: m.nextID}
	adu, err := m.codec.Encode(h, req)
	if err != nil {
		return pdu.PDU{}, err
	}

	broadcast := slaveID == 0 && req.FunctionCode.IsWrite()
	attempts := m.policy.Retries + 1
	var lastErr error

	started := time.Now()
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return pdu.PDU{}, err
		}
		if attempt > 1 {
			reason := metrics.ReasonFrame
			if errors.Is(lastErr, transport.ErrReadTimeout) {
				reason = metrics.ReasonTimeout
			}
			metrics.IncRetry(m.codec.Name(), reason)
			m.log.Debug("retrying exchange",
				"transport", m.codec.Name(),
				"slave", slaveID,
				"function", req.FunctionCode.String(),
				"attempt", attempt,
				"cause", lastErr)
		}

		res, err := m.attempt(ctx, h, adu, req, broadcast)
		if err == nil {
			metrics.IncExchange(m.codec.Name(), req.FunctionCode.String(), metrics.StatusSuccess)
			metrics.ObserveExchange(m.codec.Name(), time.Since(started).Seconds())
			return res, nil
		}
		if ctx.Err() != nil {
			return pdu.PDU{}, ctx.Err()
		}
		lastErr = err
	}

	metrics.IncExchange(m.codec.Name(), req.FunctionCode.String(), statusFor(lastErr))
	m.log.Warn("exchange failed",
		"transport", m.codec.Name(),
		"slave", slaveID,
		"function", req.FunctionCode.String(),
		"attempts", attempts,
		"cause", lastErr)
	return pdu.PDU{}, &CommunicationError{Attempts: attempts, Cause: lastErr}
}

// attempt runs a single send/receive cycle. The returned error marks
// the attempt as failed; retrying is the caller's decision.
func (m *Manager) attempt(ctx context.Context, h frame.Header, adu []byte, req pdu.PDU, broadcast bool) (pdu.PDU, error) {
	// Stale bytes from a timed-out exchange must not correlate
	// against this one.
	if err := m.tr.Reset(); err != nil {
		return pdu.PDU{}, err
	}
	if _, err := m.tr.Send(ctx, adu); err != nil {
		return pdu.PDU{}, err
	}
	if broadcast {
		return pdu.PDU{}, nil
	}

	deadline := time.Now().Add(m.policy.Timeout)
	var buf []byte
	for {
		chunk, err := m.tr.Receive(ctx, deadline)
		if err != nil {
			return pdu.PDU{}, err
		}
		buf = append(buf, chunk...)

		for {
			packet, rest, err := m.codec.Parse(buf)
			if err != nil {
				return pdu.PDU{}, err
			}
			if packet == nil {
				buf = rest
				break
			}
			buf = rest

			f, err := m.codec.Decode(packet)
			var exc *pdu.ExceptionError
			switch {
			case err == nil:
				if !m.matches(h, req, f) {
					// Response to some other exchange;
					// keep waiting for ours until the
					// deadline.
					m.log.Debug("discarding mismatched frame",
						"transport", m.codec.Name(),
						"slave", f.Header.SlaveID,
						"function", f.PDU.FunctionCode.String())
					continue
				}
				return f.PDU, nil
			case errors.As(err, &exc):
				if !m.matchesHeader(h, f) {
					continue
				}
				return pdu.PDU{}, err
			default:
				return pdu.PDU{}, err
			}
		}
	}
}

// matches checks a decoded response against the outstanding request:
// slave address, function code and, for TCP, the transaction id.
func (m *Manager) matches(h frame.Header, req pdu.PDU, f frame.Frame) bool {
	return m.matchesHeader(h, f) && f.PDU.FunctionCode == req.FunctionCode
}

func (m *Manager) matchesHeader(h frame.Header, f frame.Frame) bool {
	if f.Header.SlaveID != h.SlaveID {
		return false
	}
	if m.codec.Name() == "tcp" && f.Header.TransactionID != h.TransactionID {
		return false
	}
	return true
}

// Transport returns the transport this manager owns.
func (m *Manager) Transport() transport.Transport {
	return m.tr
}

// Codec returns the frame codec this manager uses.
func (m *Manager) Codec() frame.Codec {
	return m.codec
}

func statusFor(err error) string {
	var exc *pdu.ExceptionError
	switch {
	case errors.As(err, &exc):
		return metrics.StatusException
	case errors.Is(err, transport.ErrReadTimeout):
		return metrics.StatusTimeout
	case errors.Is(err, frame.ErrChecksum),
		errors.Is(err, frame.ErrFraming),
		errors.Is(err, frame.ErrHexDecode),
		errors.Is(err, frame.ErrLengthMismatch),
		errors.Is(err, frame.ErrProtocolID),
		errors.Is(err, frame.ErrTruncated):
		return metrics.StatusFrame
	default:
		return metrics.StatusIO
	}
}
