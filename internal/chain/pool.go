package chain

import (
	"errors"
	"sync"
)

// EndpointPool hands out RPC endpoints round-robin. The current endpoint only
// changes when Rotate is called.
type EndpointPool struct {
	mu   sync.Mutex
	urls []string
	idx  int
}

func NewEndpointPool(urls []string) (*EndpointPool, error) {
	if len(urls) == 0 {
		return nil, errors.New("endpoint pool: no endpoints")
	}
	cp := make([]string, len(urls))
	copy(cp, urls)
	return &EndpointPool{urls: cp}, nil
}

func (p *EndpointPool) Current() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx, p.urls[p.idx]
}

// Rotate advances to the next endpoint, wrapping at the end, and returns the new index.
func (p *EndpointPool) Rotate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idx = (p.idx + 1) % len(p.urls)
	return p.idx
}

// RotateFrom advances only if idx is still current, so two failures seen on the
// same endpoint move the pool once.
func (p *EndpointPool) RotateFrom(idx int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx != idx {
		return p.idx, false
	}
	p.idx = (p.idx + 1) % len(p.urls)
	return p.idx, true
}

func (p *EndpointPool) Len() int { return len(p.urls) }
