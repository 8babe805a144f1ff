// Package engine implements the broadcast/merge loop at the heart of the
// multiplexer: device bytes fan out to every active endpoint, endpoint
// bytes merge into the single device stream.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/serialmux/serialmux/internal/logging"
)

// Device is the engine's view of the device connection manager.
type Device interface {
	Tick(now time.Time)
	Connected() bool
	ReadChunk() ([]byte, error)
	WriteChunk(p []byte) error
}

// Endpoint is the engine's view of one virtual port.
type Endpoint interface {
	IsActive() bool
	Read() ([]byte, error)
	Write(p []byte) error
}

// Pool is the engine's view of the endpoint supervisor.
type Pool interface {
	Endpoints() []Endpoint
	Sweep()
}

// DefaultInterval paces the polling cycle. Shutdown is observable within
// one cycle.
const DefaultInterval = 20 * time.Millisecond

// maxDeviceChunks bounds how much device input one cycle drains, so a
// chatty device cannot starve the endpoint-to-device direction.
const maxDeviceChunks = 16

// Engine runs the cooperative polling loop. Every I/O source is polled
// non-blockingly each cycle; no single source can stall the others.
type Engine struct {
	device   Device
	pool     Pool
	interval time.Duration

	bytesFromDevice atomic.Uint64
	bytesToDevice   atomic.Uint64
}

// New creates an engine over the given device manager and endpoint pool.
func New(device Device, pool Pool) *Engine {
	return &Engine{
		device:   device,
		pool:     pool,
		interval: DefaultInterval,
	}
}

// Run executes cycles until ctx is cancelled. It never returns an error
// on its own: all I/O failures are recovered by the device manager and
// the pool.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Cycle(time.Now())
		}
	}
}

// Cycle performs one scheduling cycle: drive the device reconnect state
// machine, fan device bytes out to active endpoints, merge endpoint
// bytes toward the device, then let the pool recreate dead endpoints.
func (e *Engine) Cycle(now time.Time) {
	e.device.Tick(now)
	eps := e.pool.Endpoints()

	// Device -> endpoints. Idle and dead endpoints are skipped
	// silently; no client attached is the common case, not an error.
	if e.device.Connected() {
		for i := 0; i < maxDeviceChunks; i++ {
			data, err := e.device.ReadChunk()
			if err != nil || len(data) == 0 {
				break
			}
			e.bytesFromDevice.Add(uint64(len(data)))
			logging.Debugf("device -> vports: %d bytes", len(data))
			for _, ep := range eps {
				if !ep.IsActive() {
					continue
				}
				// A vanished client is the endpoint's own
				// Active->Idle transition, not our problem.
				_ = ep.Write(data)
			}
		}
	}

	// Endpoints -> device. Each endpoint recovers its own failures;
	// one bad endpoint never stops the others from being serviced.
	for _, ep := range eps {
		data, err := ep.Read()
		if err != nil || len(data) == 0 {
			continue
		}
		if !e.device.Connected() {
			logging.Debugf("device disconnected, dropped %d endpoint bytes", len(data))
			continue
		}
		e.bytesToDevice.Add(uint64(len(data)))
		logging.Debugf("vport -> device: %d bytes", len(data))
		_ = e.device.WriteChunk(data)
	}

	e.pool.Sweep()
}

// Stats returns the running byte counters for both directions.
func (e *Engine) Stats() (fromDevice, toDevice uint64) {
	return e.bytesFromDevice.Load(), e.bytesToDevice.Load()
}
