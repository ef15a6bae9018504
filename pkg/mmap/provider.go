package mmap

import (
	"os"
	"sync"
	"sync/atomic"
)

// Provider tracks the current mapping of one file. Remap swaps in a new
// mapping; the old one lives on until every view into it is released.
type Provider struct {
	mu  sync.Mutex
	cur *Mapping
	gen uint64

	live   atomic.Int64
	mapped atomic.Int64
}

// ProviderStats is a point-in-time snapshot of mapping bookkeeping.
type ProviderStats struct {
	// Generation of the current mapping, 0 if none.
	Generation uint64
	// CurrentLen is the current mapping's length, 0 if none.
	CurrentLen int64
	// LiveMappings counts mappings not yet unmapped, current included.
	LiveMappings int64
	// MappedBytes sums the lengths of live mappings.
	MappedBytes int64
}

// NewProvider returns a provider with no current mapping.
func NewProvider() *Provider { return &Provider{} }

// Covers reports whether the current mapping spans [0, end).
func (p *Provider) Covers(end int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil && p.cur.Len() >= end
}

// Remap maps [0, length) of f and makes it current, dropping the
// provider's reference to the previous mapping.
func (p *Provider) Remap(f *os.File, length int64, writable bool) (*Mapping, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := mapFile(f, length, writable, p.gen+1, p.unmapped)
	if err != nil {
		return nil, err
	}
	p.gen++
	p.live.Add(1)
	p.mapped.Add(m.Len())

	old := p.cur
	p.cur = m
	if old != nil {
		if err := old.Release(); err != nil {
			return m, err
		}
	}
	return m, nil
}

func (p *Provider) unmapped(length int64) {
	p.live.Add(-1)
	p.mapped.Add(-length)
}

// View returns a view into the current mapping.
func (p *Provider) View(offset, size int64) (*View, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil, ErrReleased
	}
	return p.cur.View(offset, size)
}

// Stats snapshots the provider.
func (p *Provider) Stats() ProviderStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := ProviderStats{
		LiveMappings: p.live.Load(),
		MappedBytes:  p.mapped.Load(),
	}
	if p.cur != nil {
		st.Generation = p.cur.gen
		st.CurrentLen = p.cur.Len()
	}
	return st
}

// Close drops the provider's reference to the current mapping. Views
// handed out earlier remain valid.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil
	}
	m := p.cur
	p.cur = nil
	return m.Release()
}
