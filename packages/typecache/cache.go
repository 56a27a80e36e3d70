// Package typecache wraps a fetch.Fetcher with a memory cache. Namespace
// reads are cached per method; cell reads are cached per namespace and
// served from memory once the queried region is known to be resident.
// Sync events keep the cached cells in step with edits made elsewhere.
package typecache

import (
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/fetch"
)

type key struct {
	method fetch.Method
	ns     string
}

// Cells is the cached cell data of one namespace. Proven lists the
// regions whose every cell is resident, so queries inside them need no
// fetch.
type Cells struct {
	NS     string
	Cells  map[string]fetch.Cell
	Total  fetch.Total
	Proven []coord.Region
}

func (c *Cells) clone() *Cells {
	cells := make(map[string]fetch.Cell, len(c.Cells))
	for k, cell := range c.Cells {
		cells[k] = cell.Clone()
	}
	return &Cells{
		NS:     c.NS,
		Cells:  cells,
		Total:  c.Total,
		Proven: append([]coord.Region(nil), c.Proven...),
	}
}

// covers reports whether every region is inside a proven one.
func (c *Cells) covers(regions []coord.Region) bool {
	for _, r := range regions {
		ok := false
		for _, p := range c.Proven {
			if p.Covers(r) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (c *Cells) prove(r coord.Region) {
	kept := c.Proven[:0]
	for _, p := range c.Proven {
		if !r.Covers(p) {
			kept = append(kept, p)
		}
	}
	c.Proven = append(kept, r)
}

// Cache holds cached fetch results. It can be shared between fetchers
// reading the same store.
type Cache struct {
	mu     sync.Mutex
	values map[key]any
	cells  map[string]*Cells
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		values: make(map[key]any),
		cells:  make(map[string]*Cells),
	}
}

// Reset drops everything.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[key]any)
	c.cells = make(map[string]*Cells)
}

// Cells returns a copy of the cached cells of a namespace.
func (c *Cache) Cells(ns string) (*Cells, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cells[coord.NsURI(ns)]
	if !ok {
		return nil, false
	}
	return entry.clone(), true
}

func (c *Cache) get(k key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[k]
	return v, ok
}

func (c *Cache) set(k key, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[k] = v
}

// lookup answers a cell query from memory when all of it is proven and the
// total is known.
func (c *Cache) lookup(uri string, regions []coord.Region) (*fetch.CellsResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cells[uri]
	if !ok || entry.Total.Rows < 0 || !entry.covers(regions) {
		return nil, false
	}
	return filter(uri, entry.Cells, entry.Total, regions), true
}

// store records a fetched cell query: cells inside the queried regions are
// replaced by the response and the regions become proven. A row query is
// extended to the last row returned, and to every row when it reached the
// end of the namespace.
func (c *Cache) store(uri string, regions []coord.Region, res *fetch.CellsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cells[uri]
	if !ok {
		entry = &Cells{NS: uri, Cells: make(map[string]fetch.Cell)}
		c.cells[uri] = entry
	}

	for k := range entry.Cells {
		if _, found := res.Cells[k]; !found && inside(k, regions) {
			delete(entry.Cells, k)
		}
	}
	last := -1
	for k, cell := range res.Cells {
		entry.Cells[k] = cell.Clone()
		if pos, err := coord.ParseKey(k); err == nil {
			last = max(last, pos.Row)
		}
	}
	entry.Total = res.Total

	for _, r := range regions {
		if r.StartColumn == 0 && r.EndColumn == coord.Unbounded {
			r.EndRow = max(r.EndRow, last)
		}
		if total := res.Total.Rows; total >= 0 && r.StartRow <= total && r.EndRow >= total-1 {
			r.EndRow = coord.Unbounded
		}
		entry.prove(r)
	}
}

// sync patches cached cells. Total.Rows becomes unknown when a patch
// creates a cell past the known total.
func (c *Cache) sync(changes fetch.Changes) (int, error) {
	uri := coord.NsURI(changes.NS)
	c.mu.Lock()
	defer c.mu.Unlock()

	if changes.Ns != nil {
		c.values[key{fetch.MethodGetNs, uri}] = &fetch.NsResponse{NS: uri, Ns: changes.Ns}
		delete(c.values, key{fetch.MethodGetType, uri})
	}

	entry, ok := c.cells[uri]
	if !ok {
		return 0, nil
	}
	patched := 0
	for k, patch := range changes.Cells {
		current, existed := entry.Cells[k]
		merged, err := current.Merge(patch)
		if err != nil {
			return patched, err
		}
		if existed && cmp.Equal(current, merged) {
			continue
		}
		entry.Cells[k] = merged
		patched++
		if existed || entry.Total.Rows < 0 {
			continue
		}
		if pos, err := coord.ParseKey(k); err == nil && pos.Row >= entry.Total.Rows {
			entry.Total.Rows = -1
		}
	}
	return patched, nil
}

func filter(uri string, cells map[string]fetch.Cell, total fetch.Total, regions []coord.Region) *fetch.CellsResponse {
	out := make(map[string]fetch.Cell)
	for k, cell := range cells {
		if inside(k, regions) {
			out[k] = cell.Clone()
		}
	}
	return &fetch.CellsResponse{NS: uri, Cells: out, Total: total}
}

func inside(k string, regions []coord.Region) bool {
	pos, err := coord.ParseKey(k)
	if err != nil {
		return false
	}
	for _, r := range regions {
		if r.Contains(pos) {
			return true
		}
	}
	return false
}
