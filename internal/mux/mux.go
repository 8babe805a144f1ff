// Package mux wires the device manager, endpoint pool, and forwarding
// engine together and drives orderly shutdown.
package mux

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/serialmux/serialmux/internal/config"
	"github.com/serialmux/serialmux/internal/device"
	"github.com/serialmux/serialmux/internal/engine"
	"github.com/serialmux/serialmux/internal/logging"
	"github.com/serialmux/serialmux/internal/vport"
)

// statsInterval paces the periodic traffic summary in the log.
const statsInterval = 60 * time.Second

// Mux is the assembled multiplexer.
type Mux struct {
	cfg       config.Config
	device    *device.Manager
	pool      *vport.Pool
	engine    *engine.Engine
	closeOnce sync.Once
}

// poolAdapter exposes *vport.Pool through the engine's interface.
type poolAdapter struct {
	pool *vport.Pool
}

func (a poolAdapter) Endpoints() []engine.Endpoint {
	eps := a.pool.Endpoints()
	out := make([]engine.Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = ep
	}
	return out
}

func (a poolAdapter) Sweep() { a.pool.Sweep() }

// New creates all virtual ports and prepares the device manager. The
// device itself is opened by the engine's retry loop, so a currently
// absent device does not prevent startup.
func New(cfg config.Config) (*Mux, error) {
	pool, err := vport.NewPool(cfg.Ports)
	if err != nil {
		return nil, err
	}
	dev := device.NewManager(cfg.Device, cfg.Baud)
	return &Mux{
		cfg:    cfg,
		device: dev,
		pool:   pool,
		engine: engine.New(dev, poolAdapter{pool}),
	}, nil
}

// Run drives the forwarding engine until ctx is cancelled, then tears
// everything down. It returns nil on a clean signal-driven shutdown.
func (m *Mux) Run(ctx context.Context) error {
	logging.Infof("multiplexer running: %s @ %d baud, %d virtual ports",
		m.cfg.Device, m.cfg.Baud, len(m.cfg.Ports))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.engine.Run(ctx) })
	g.Go(func() error {
		m.statsLoop(ctx)
		return nil
	})

	err := g.Wait()
	m.Close()
	return err
}

func (m *Mux) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fromDevice, toDevice := m.engine.Stats()
			alive, active := m.pool.Counts()
			logging.Infof("stats: %d bytes in, %d bytes out, %d/%d ports alive, %d active",
				fromDevice, toDevice, alive, len(m.cfg.Ports), active)
		}
	}
}

// Close releases the device handle, every PTY pair, and every symlink.
// Safe against a second termination request arriving mid-teardown.
func (m *Mux) Close() {
	m.closeOnce.Do(func() {
		logging.Infof("shutting down")
		m.device.Close()
		m.pool.Close()
	})
}
