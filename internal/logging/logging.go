// Package logging provides the process-wide logger for serialmux.
// The daemon is silent by default; the verbose toggle enables the
// debug/info/warn levels without changing behavior.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	mu      sync.Mutex
	verbose bool
	out     io.Writer = os.Stderr
)

// SetVerbose enables or disables the verbose levels (debug, info, warn).
func SetVerbose(on bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = on
}

// Verbose reports whether verbose logging is enabled.
func Verbose() bool {
	mu.Lock()
	defer mu.Unlock()
	return verbose
}

// SetOutput redirects log output. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func write(level, format string, args ...interface{}) {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(out, "[%s] [%s] %s\n", timestamp, level, msg)
}

// Debugf logs per-cycle detail (byte counts, skipped writes). Verbose only.
func Debugf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if !verbose {
		return
	}
	write("DEBUG", format, args...)
}

// Infof logs lifecycle events (ports created, device opened). Verbose only.
func Infof(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if !verbose {
		return
	}
	write("INFO", format, args...)
}

// Warnf logs recoverable failures (reconnect, dead endpoint). Verbose only.
func Warnf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if !verbose {
		return
	}
	write("WARN", format, args...)
}

// Errorf logs unexpected conditions. Always emitted.
func Errorf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	write("ERROR", format, args...)
}
