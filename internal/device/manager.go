// Package device owns the physical serial device handle and its
// reconnect state machine.
package device

import (
	"time"

	"github.com/serialmux/serialmux/internal/logging"
	"github.com/serialmux/serialmux/internal/serial"
	"github.com/serialmux/serialmux/internal/stream"
)

// State describes the device connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// RetryInterval is the fixed wait between open attempts. A detachable USB
// device reappearing is the expected case, so the retry never gives up.
const RetryInterval = 2 * time.Second

// OpenFunc opens the underlying byte stream for the device.
type OpenFunc func(path string, baud int) (stream.Channel, error)

func openSerial(path string, baud int) (stream.Channel, error) {
	return serial.Open(path, baud)
}

// Manager owns the device handle exclusively. At most one live handle
// exists at a time; a new one is opened only after the previous one is
// fully closed.
type Manager struct {
	path string
	baud int
	open OpenFunc
	now  func() time.Time

	port    stream.Channel
	state   State
	retryAt time.Time
}

// Option adjusts a Manager at construction time.
type Option func(*Manager)

// WithOpenFunc replaces how the device stream is opened.
func WithOpenFunc(open OpenFunc) Option {
	return func(m *Manager) { m.open = open }
}

// WithClock replaces the time source used to schedule retries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager for the device at path. It does not open
// the device; the first Tick does.
func NewManager(path string, baud int, opts ...Option) *Manager {
	m := &Manager{
		path: path,
		baud: baud,
		open: openSerial,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.state
}

// Connected reports whether device I/O may be attempted this cycle.
func (m *Manager) Connected() bool {
	return m.state == Connected
}

// Tick drives the reconnect state machine. When disconnected and the
// retry interval has elapsed it attempts a single open; failure schedules
// the next attempt, indefinitely.
func (m *Manager) Tick(now time.Time) {
	if m.state == Connected || now.Before(m.retryAt) {
		return
	}

	m.state = Connecting
	port, err := m.open(m.path, m.baud)
	if err != nil {
		logging.Warnf("failed to open %s: %v, retrying in %s", m.path, err, RetryInterval)
		m.state = Disconnected
		m.retryAt = now.Add(RetryInterval)
		return
	}

	m.port = port
	m.state = Connected
	logging.Infof("device %s connected at %d baud", m.path, m.baud)
}

// ReadChunk returns bytes available from the device, or (nil, nil) when
// the device is not connected or has nothing buffered. A read failure
// transitions to Disconnected and re-enters the retry loop.
func (m *Manager) ReadChunk() ([]byte, error) {
	if m.state != Connected {
		return nil, nil
	}
	data, err := m.port.ReadChunk()
	if err != nil {
		m.disconnect("read", err)
		return nil, nil
	}
	return data, nil
}

// WriteChunk forwards p to the device. A failure transitions to
// Disconnected; the payload is dropped, never retried.
func (m *Manager) WriteChunk(p []byte) error {
	if m.state != Connected {
		return stream.ErrClosed
	}
	if err := m.port.WriteChunk(p); err != nil {
		m.disconnect("write", err)
		return err
	}
	return nil
}

func (m *Manager) disconnect(op string, err error) {
	logging.Warnf("device %s failed on %s: %v, reconnecting", m.path, op, err)
	if m.port != nil {
		m.port.Close()
		m.port = nil
	}
	m.state = Disconnected
	m.retryAt = m.now().Add(RetryInterval)
}

// Close releases the device handle. Safe to call more than once.
func (m *Manager) Close() {
	if m.port != nil {
		m.port.Close()
		m.port = nil
	}
	m.state = Disconnected
}
