package fetch

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"go.alis.build/alog"

	"github.com/vogtb/go-spreadsheet/packages/coord"
)

// Method names a Fetcher method, used to count calls.
type Method string

const (
	MethodGetNs      Method = "getNs"
	MethodGetColumns Method = "getColumns"
	MethodGetCells   Method = "getCells"
	MethodGetType    Method = "getType"
)

// Memory is an in-process Fetcher. Cells are kept in sparse chunked
// worksheets so range queries only visit populated regions.
type Memory struct {
	mu     sync.RWMutex
	spaces map[string]*space // ns URI -> namespace
	calls  sync.Map          // Method -> *atomic.Int64
}

type space struct {
	ns      Ns
	columns map[string]Column
	sheet   *worksheet
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{spaces: make(map[string]*space)}
}

// Define creates or replaces a namespace's metadata and columns. Existing
// cells are kept.
func (m *Memory) Define(ns string, meta Ns, columns map[string]Column) {
	uri := coord.NsURI(ns)
	m.mu.Lock()
	defer m.mu.Unlock()
	sp := m.space(uri)
	sp.ns = meta
	sp.columns = maps.Clone(columns)
}

// Apply writes changes, creating the namespace if needed.
func (m *Memory) Apply(ctx context.Context, changes Changes) error {
	uri := coord.NsURI(changes.NS)
	m.mu.Lock()
	defer m.mu.Unlock()

	sp := m.space(uri)
	if changes.Ns != nil {
		sp.ns = *changes.Ns
	}
	for key, patch := range changes.Cells {
		c, err := coord.ParseKey(key)
		if err != nil {
			return err
		}
		current, _ := sp.sheet.get(c)
		merged, err := current.Merge(patch)
		if err != nil {
			return err
		}
		sp.sheet.set(c, merged)
	}
	alog.Debugf(ctx, "memory: applied %d cell changes to %s", len(changes.Cells), uri)
	return nil
}

// Delete removes a namespace.
func (m *Memory) Delete(ns string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spaces, coord.NsURI(ns))
}

// Calls returns how many times method has been invoked.
func (m *Memory) Calls(method Method) int {
	if v, ok := m.calls.Load(method); ok {
		return int(v.(*atomic.Int64).Load())
	}
	return 0
}

func (m *Memory) count(method Method) {
	v, _ := m.calls.LoadOrStore(method, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// space returns the namespace, creating it. callers hold m.mu.
func (m *Memory) space(uri string) *space {
	sp, ok := m.spaces[uri]
	if !ok {
		sp = &space{columns: map[string]Column{}, sheet: newWorksheet()}
		m.spaces[uri] = sp
	}
	return sp
}

func (m *Memory) lookup(ctx context.Context, ns string) (*space, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	uri := coord.NsURI(ns)
	m.mu.RLock()
	sp, ok := m.spaces[uri]
	m.mu.RUnlock()
	if !ok {
		return nil, uri, NotFound(uri)
	}
	return sp, uri, nil
}

func (m *Memory) GetNs(ctx context.Context, ns string) (*NsResponse, error) {
	m.count(MethodGetNs)
	sp, uri, err := m.lookup(ctx, ns)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta := Ns{Implements: sp.ns.Implements, Props: maps.Clone(sp.ns.Props)}
	return &NsResponse{NS: uri, Ns: &meta}, nil
}

func (m *Memory) GetColumns(ctx context.Context, ns string) (*ColumnsResponse, error) {
	m.count(MethodGetColumns)
	sp, uri, err := m.lookup(ctx, ns)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &ColumnsResponse{NS: uri, Columns: maps.Clone(sp.columns)}, nil
}

func (m *Memory) GetCells(ctx context.Context, ns, query string, _ ...Option) (*CellsResponse, error) {
	m.count(MethodGetCells)
	sp, uri, err := m.lookup(ctx, ns)
	if err != nil {
		return nil, err
	}
	regions, err := coord.ParseQuery(query)
	if err != nil {
		return nil, &Error{Status: 400, Message: err.Error()}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	cells := make(map[string]Cell)
	for _, region := range regions {
		sp.sheet.scan(region, func(c coord.Cell, cell Cell) {
			cells[c.Key()] = cell.Clone()
		})
	}
	return &CellsResponse{
		NS:    uri,
		Cells: cells,
		Total: Total{Rows: sp.sheet.rows()},
	}, nil
}

func (m *Memory) GetType(ctx context.Context, ns string) (*TypeResponse, error) {
	m.count(MethodGetType)
	sp, uri, err := m.lookup(ctx, ns)
	if IsNotFound(err) {
		return &TypeResponse{NS: uri, Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &TypeResponse{NS: uri, Exists: true, Implements: sp.ns.Implements}, nil
}
