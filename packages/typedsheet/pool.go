package typedsheet

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Pool holds loaded sheets by namespace URI, so a namespace reached twice
// (including through a cycle of references) resolves to one instance.
type Pool struct {
	mu     sync.Mutex
	sheets map[string]*Sheet
	group  singleflight.Group
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{sheets: make(map[string]*Sheet)}
}

// Sheet returns the pooled sheet for uri.
func (p *Pool) Sheet(uri string) (*Sheet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sheets[uri]
	return s, ok
}

// Len is the number of pooled sheets.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sheets)
}

// Dispose disposes every pooled sheet.
func (p *Pool) Dispose() {
	p.mu.Lock()
	sheets := make([]*Sheet, 0, len(p.sheets))
	for _, s := range p.sheets {
		sheets = append(sheets, s)
	}
	p.mu.Unlock()
	for _, s := range sheets {
		s.Dispose()
	}
}

// load returns the pooled sheet for uri, building it once when missing.
func (p *Pool) load(uri string, build func() (*Sheet, error)) (*Sheet, error) {
	if s, ok := p.Sheet(uri); ok {
		return s, nil
	}
	v, err, _ := p.group.Do(uri, func() (any, error) {
		if s, ok := p.Sheet(uri); ok {
			return s, nil
		}
		s, err := build()
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.sheets[uri] = s
		p.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Sheet), nil
}

func (p *Pool) remove(s *Sheet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sheets[s.uri] == s {
		delete(p.sheets, s.uri)
	}
}
