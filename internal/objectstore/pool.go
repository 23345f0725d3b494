package objectstore

import (
	"sync"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// Opener builds a Store for a destination.
type Opener func(domain.Destination) (Store, error)

// Pool caches one Store per endpoint and access key so feeds sharing a
// destination share a client.
type Pool struct {
	mu      sync.Mutex
	open    Opener
	timeout time.Duration
	stores  map[string]Store
}

func NewPool(open Opener) *Pool {
	if open == nil {
		open = func(d domain.Destination) (Store, error) { return NewMinioStore(d) }
	}
	return &Pool{open: open, stores: make(map[string]Store)}
}

// WithTimeout bounds every call on the stores Get hands out.
func (p *Pool) WithTimeout(d time.Duration) *Pool {
	p.timeout = d
	return p
}

func (p *Pool) Get(d domain.Destination) (Store, error) {
	key := d.Endpoint + "|" + d.AccessKey
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.stores[key]; ok {
		return s, nil
	}
	s, err := p.open(d)
	if err != nil {
		return nil, err
	}
	s = WithTimeout(s, p.timeout)
	p.stores[key] = s
	return s, nil
}
