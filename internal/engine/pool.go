package engine

import (
	"fmt"
	"sync"

	"github.com/labrig/labrig/internal/config"
	"github.com/labrig/labrig/internal/dispatch"
)

// pool hands out one shared transport per host. Transports dial
// lazily, so opening one here is cheap until a command runs.
type pool struct {
	cfg     *config.Config
	connect ConnectFunc

	mu   sync.Mutex
	open map[string]dispatch.Transport
}

func newPool(cfg *config.Config, connect ConnectFunc) *pool {
	return &pool{cfg: cfg, connect: connect, open: make(map[string]dispatch.Transport)}
}

// Get returns the transport for a host, opening it on first use.
func (p *pool) Get(hostID string) (dispatch.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tr, ok := p.open[hostID]; ok {
		return tr, nil
	}
	host, ok := p.cfg.HostByID(hostID)
	if !ok {
		return nil, fmt.Errorf("host %s is not configured", hostID)
	}
	tr, err := p.connect(*host)
	if err != nil {
		return nil, err
	}
	p.open[hostID] = tr
	return tr, nil
}

// CloseAll closes every opened transport, best effort.
func (p *pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, tr := range p.open {
		_ = tr.Close()
		delete(p.open, id)
	}
}
