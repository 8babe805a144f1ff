package vport

import (
	"fmt"

	"github.com/serialmux/serialmux/internal/logging"
)

// Pool owns the fixed set of virtual endpoints, one per configured
// symlink path. It is created once at startup and never resized.
type Pool struct {
	endpoints []*Endpoint
}

// NewPool creates one endpoint per path, in order. On failure the
// already-created endpoints are torn down and no symlinks remain.
func NewPool(paths []string) (*Pool, error) {
	p := &Pool{endpoints: make([]*Endpoint, 0, len(paths))}
	for _, path := range paths {
		ep, err := Create(path)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("create virtual port %s: %w", path, err)
		}
		p.endpoints = append(p.endpoints, ep)
	}
	return p, nil
}

// Endpoints returns the pool members in configuration order.
func (p *Pool) Endpoints() []*Endpoint {
	return p.endpoints
}

// Sweep recreates any Dead endpoint at its original path. A failed
// recreate leaves the endpoint Dead; the next sweep tries again. A dead
// endpoint never stalls the healthy ones.
func (p *Pool) Sweep() {
	for _, ep := range p.endpoints {
		if ep.State() != Dead {
			continue
		}
		if err := ep.Recreate(); err != nil {
			logging.Warnf("recreate %s failed: %v", ep.Path(), err)
		}
	}
}

// Counts returns how many endpoints are usable (Idle or Active) and how
// many currently have a client attached.
func (p *Pool) Counts() (alive, active int) {
	for _, ep := range p.endpoints {
		switch ep.State() {
		case Active:
			alive++
			active++
		case Idle:
			alive++
		}
	}
	return alive, active
}

// Close tears down every endpoint and removes every symlink. Safe to
// call more than once.
func (p *Pool) Close() {
	for _, ep := range p.endpoints {
		ep.Close()
	}
}
