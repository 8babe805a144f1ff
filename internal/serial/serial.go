// Package serial opens and drives the physical serial device as a raw,
// non-blocking byte stream.
package serial

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/serialmux/serialmux/internal/logging"
)

// toUnixBaudrate maps a baud rate to the corresponding constant in the unix package.
var toUnixBaudrate = map[int]uint32{
	50:     unix.B50,
	75:     unix.B75,
	110:    unix.B110,
	134:    unix.B134,
	150:    unix.B150,
	200:    unix.B200,
	300:    unix.B300,
	600:    unix.B600,
	1200:   unix.B1200,
	1800:   unix.B1800,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// Supported reports whether baud has a termios constant on this platform.
func Supported(baud int) bool {
	_, ok := toUnixBaudrate[baud]
	return ok
}

// maxChunk bounds a single read from the device.
const maxChunk = 4096

// Port is an open serial device configured for raw 8N1 I/O.
// The fd is non-blocking so reads and writes never stall the caller.
type Port struct {
	f  *os.File
	fd int
}

// Open opens the serial device at path and configures it for raw I/O at
// the given baud rate.
func Open(path string, baud int) (*Port, error) {
	speed, ok := toUnixBaudrate[baud]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate: %d", baud)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	p := &Port{f: os.NewFile(uintptr(fd), path), fd: fd}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("tcgetattr %s: %w", path, err)
	}
	t.Cflag |= unix.CLOCAL | unix.CREAD
	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL | unix.ISIG | unix.IEXTEN
	t.Oflag &^= unix.OPOST | unix.ONLCR | unix.OCRNL
	t.Iflag &^= unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IGNBRK
	t.Iflag &^= unix.INPCK | unix.ISTRIP | unix.IXON | unix.IXOFF
	t.Cflag &^= unix.CSIZE | unix.CSTOPB | unix.PARENB | unix.PARODD | unix.CRTSCTS
	t.Cflag |= unix.CS8
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		p.Close()
		return nil, fmt.Errorf("tcsetattr %s: %w", path, err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		p.Close()
		return nil, fmt.Errorf("tcflush %s: %w", path, err)
	}

	logging.Infof("serial port %s opened at %d baud (fd=%d)", path, baud, fd)
	return p, nil
}

// ReadChunk returns the bytes currently buffered by the driver, up to
// maxChunk. It returns (nil, nil) when nothing is available.
func (p *Port) ReadChunk() ([]byte, error) {
	cnt, err := unix.IoctlGetInt(p.fd, unix.TIOCINQ)
	if err != nil {
		return nil, fmt.Errorf("tiocinq: %w", err)
	}
	if cnt <= 0 {
		cnt = 1
	}
	if cnt > maxChunk {
		cnt = maxChunk
	}
	buf := make([]byte, cnt)
	n, err := unix.Read(p.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("serial read: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("serial read: %w", streamEOF)
	}
	return buf[:n], nil
}

// streamEOF marks a zero-length read, which on a vanished USB device
// behaves like end-of-file.
var streamEOF = errors.New("device closed")

// WriteChunk writes p to the device. If the driver's output buffer fills
// up mid-write the remainder is dropped; forwarding is at-most-once.
func (p *Port) WriteChunk(b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(p.fd, b)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				logging.Debugf("serial write: output buffer full, dropped %d bytes", len(b))
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("serial write: %w", err)
		}
		b = b[n:]
	}
	return nil
}

// Close releases the device handle.
func (p *Port) Close() error {
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	p.fd = -1
	return err
}
