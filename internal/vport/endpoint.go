// Package vport implements the virtual serial endpoints and their
// supervisor pool. Each endpoint is a PTY pair published behind a stable
// symlink; clients open the symlink and talk to the slave side while the
// multiplexer forwards bytes through the master side.
package vport

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/serialmux/serialmux/internal/logging"
	"github.com/serialmux/serialmux/internal/stream"
)

// State describes the endpoint lifecycle.
type State int

const (
	// Idle: PTY pair open, no client attached.
	Idle State = iota
	// Active: a client holds the slave side open.
	Active
	// Dead: the PTY pair itself is unusable; the pool recreates it.
	Dead
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Dead:
		return "dead"
	}
	return "unknown"
}

const readChunk = 4096

// Endpoint is one virtual port. The symlink path is fixed for the process
// lifetime; the PTY pair behind it is replaced whenever it dies.
type Endpoint struct {
	path      string
	master    *os.File
	fd        int
	slaveName string

	// state is read by the stats reporter concurrently with the
	// forwarding loop's transitions, so access goes through
	// State/setState.
	state atomic.Int32
}

// Create allocates a PTY pair and publishes it at path. The endpoint
// starts Idle.
func Create(path string) (*Endpoint, error) {
	e := &Endpoint{path: path, fd: -1}
	e.setState(Dead)
	if err := e.allocate(); err != nil {
		return nil, err
	}
	return e, nil
}

// allocate builds a fresh PTY pair behind e.path. The previous pair, if
// any, must already be released.
func (e *Endpoint) allocate() error {
	master, slave, err := pty.Open()
	if err != nil {
		return fmt.Errorf("openpty for %s: %w", e.path, err)
	}

	fd := int(master.Fd())

	// Raw mode on both sides so payload bytes pass through untouched.
	if _, err := term.MakeRaw(fd); err != nil {
		master.Close()
		slave.Close()
		return fmt.Errorf("raw mode on master for %s: %w", e.path, err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		master.Close()
		slave.Close()
		return fmt.Errorf("raw mode on slave for %s: %w", e.path, err)
	}

	slaveName := slave.Name()
	if err := os.Chmod(slaveName, 0o666); err != nil {
		master.Close()
		slave.Close()
		return fmt.Errorf("chmod %s: %w", slaveName, err)
	}

	// Replace the symlink. Never clobber a path that is not a symlink.
	if fi, err := os.Lstat(e.path); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			master.Close()
			slave.Close()
			return fmt.Errorf("%s exists and is not a symlink", e.path)
		}
		if err := os.Remove(e.path); err != nil {
			master.Close()
			slave.Close()
			return fmt.Errorf("remove stale symlink %s: %w", e.path, err)
		}
	}
	if err := os.Symlink(slaveName, e.path); err != nil {
		master.Close()
		slave.Close()
		return fmt.Errorf("symlink %s -> %s: %w", e.path, slaveName, err)
	}

	// Close our slave fd so the kernel delivers hangup on the master
	// when the last client detaches.
	slave.Close()

	// The master must never stall the forwarding loop.
	if err := unix.SetNonblock(fd, true); err != nil {
		master.Close()
		os.Remove(e.path)
		return fmt.Errorf("set nonblock on %s: %w", e.path, err)
	}

	e.master = master
	e.fd = fd
	e.slaveName = slaveName
	e.setState(Idle)

	logging.Infof("virtual port created: %s -> %s (fd=%d)", e.path, slaveName, fd)
	return nil
}

// Path returns the endpoint's symlink path.
func (e *Endpoint) Path() string { return e.path }

// SlaveName returns the device node the symlink currently resolves to.
func (e *Endpoint) SlaveName() string { return e.slaveName }

// State returns the current lifecycle state.
func (e *Endpoint) State() State { return State(e.state.Load()) }

func (e *Endpoint) setState(s State) { e.state.Store(int32(s)) }

// IsActive reports whether a client is attached.
func (e *Endpoint) IsActive() bool { return e.State() == Active }

// Read returns bytes written by the client, or (nil, nil) when none are
// available. While Idle it doubles as the client-attach probe: since our
// slave fd is closed, a master read yields EIO until a client opens the
// slave, and EAGAIN or data once one has. Probed bytes are forwarded,
// not discarded.
func (e *Endpoint) Read() ([]byte, error) {
	switch e.State() {
	case Dead:
		return nil, stream.ErrClosed
	case Idle:
		return e.probe()
	}

	buf := make([]byte, readChunk)
	n, err := unix.Read(e.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		if errors.Is(err, unix.EIO) {
			logging.Infof("client disconnected from %s", e.path)
			e.setState(Idle)
			return nil, nil
		}
		e.markDead("read", err)
		return nil, stream.ErrClosed
	}
	if n == 0 {
		logging.Infof("EOF on %s, client disconnected", e.path)
		e.setState(Idle)
		return nil, nil
	}
	return buf[:n], nil
}

func (e *Endpoint) probe() ([]byte, error) {
	buf := make([]byte, readChunk)
	n, err := unix.Read(e.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			e.setState(Active)
			logging.Infof("client connected to %s", e.path)
			return nil, nil
		}
		if errors.Is(err, unix.EIO) || errors.Is(err, unix.EINTR) {
			// Still no client.
			return nil, nil
		}
		e.markDead("probe", err)
		return nil, stream.ErrClosed
	}
	if n == 0 {
		return nil, nil
	}
	e.setState(Active)
	logging.Infof("client connected to %s", e.path)
	return buf[:n], nil
}

// Write delivers device bytes to the attached client. A full kernel
// buffer drops the remainder silently; a vanished client turns the
// endpoint Idle and reports ErrNoPeer; anything else is fatal to the
// PTY pair.
func (e *Endpoint) Write(p []byte) error {
	switch e.State() {
	case Dead:
		return stream.ErrClosed
	case Idle:
		return stream.ErrNoPeer
	}

	for len(p) > 0 {
		n, err := unix.Write(e.fd, p)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				logging.Debugf("write to %s skipped, buffer full (%d bytes dropped)", e.path, len(p))
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EIO) {
				logging.Infof("client disconnected from %s", e.path)
				e.setState(Idle)
				return stream.ErrNoPeer
			}
			e.markDead("write", err)
			return stream.ErrClosed
		}
		p = p[n:]
	}
	return nil
}

func (e *Endpoint) markDead(op string, err error) {
	logging.Warnf("%s failed on %s: %v, marking dead", op, e.path, err)
	e.setState(Dead)
}

// Recreate tears down the dead PTY pair and builds a fresh one at the
// identical symlink path, returning the endpoint to Idle. On failure the
// endpoint stays Dead for the next supervisor sweep.
func (e *Endpoint) Recreate() error {
	logging.Infof("recreating virtual port %s", e.path)
	e.releaseMaster()
	if err := e.allocate(); err != nil {
		e.setState(Dead)
		return err
	}
	return nil
}

// Close releases the PTY pair and removes the symlink. Safe to call more
// than once.
func (e *Endpoint) Close() {
	e.releaseMaster()
	if fi, err := os.Lstat(e.path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		os.Remove(e.path)
		logging.Infof("removed symlink %s", e.path)
	}
	e.setState(Dead)
}

func (e *Endpoint) releaseMaster() {
	if e.master != nil {
		e.master.Close()
		e.master = nil
		e.fd = -1
	}
}
