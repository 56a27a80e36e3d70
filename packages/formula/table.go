package formula

import (
	"strings"
	"sync"
)

// maxLoose bounds the sources parsed but not held by any cell.
const maxLoose = 1024

// astKey is a normalized AST used to deduplicate formulas: two formulas with
// the same structure (ignoring whitespace and case of cell keys) share a key.
type astKey string

// Table caches parsed formulas. Source strings are memoized directly and
// structurally equal ASTs are interned, so cells that share a formula share
// one tree. A formula is dropped once no cell holds it. Safe for concurrent
// use.
type Table struct {
	mu       sync.Mutex
	bySource map[string]entry
	astIndex map[astKey]uint32    // normalized AST -> formula ID
	formulas map[uint32]*interned // formula ID -> parsed AST and its users
	atCell   map[string]uint32    // cell key -> formula ID
	loose    map[string]bool      // sources parsed outside Assign
	nextID   uint32
}

type entry struct {
	id  uint32
	err error
}

type interned struct {
	node    Node
	key     astKey
	sources []string
	cells   int
}

// NewTable creates an empty formula table.
func NewTable() *Table {
	t := &Table{}
	t.reset()
	return t
}

// Parse returns the AST of source, parsing it at most once while cached.
func (t *Table) Parse(source string) (Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, node, err := t.lookup(strings.TrimSpace(source))
	return node, err
}

// Assign parses source and records it as the formula of cell, releasing any
// formula the cell held before.
func (t *Table) Assign(cell, source string) (Node, error) {
	source = strings.TrimSpace(source)

	t.mu.Lock()
	defer t.mu.Unlock()
	id, node, err := t.lookup(source)
	if err != nil {
		t.release(cell)
		return nil, err
	}
	delete(t.loose, source)
	if old, ok := t.atCell[cell]; ok {
		if old == id {
			return node, nil
		}
		t.release(cell)
	}
	t.atCell[cell] = id
	t.formulas[id].cells++
	return node, nil
}

// Release forgets the formula held by cell.
func (t *Table) Release(cell string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.release(cell)
}

// Count returns the number of unique formulas held by cells.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, f := range t.formulas {
		if f.cells > 0 {
			n++
		}
	}
	return n
}

// Clear removes everything from the table.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

func (t *Table) reset() {
	t.bySource = make(map[string]entry)
	t.astIndex = make(map[astKey]uint32)
	t.formulas = make(map[uint32]*interned)
	t.atCell = make(map[string]uint32)
	t.loose = make(map[string]bool)
	t.nextID = 1 // start at 1, reserve 0 for no formula
}

// lookup returns the formula parsed from source, parsing it on a miss.
// callers hold t.mu.
func (t *Table) lookup(source string) (uint32, Node, error) {
	if e, ok := t.bySource[source]; ok {
		if e.err != nil {
			return 0, nil, e.err
		}
		return e.id, t.formulas[e.id].node, nil
	}

	if len(t.loose) >= maxLoose {
		t.sweep()
	}
	t.loose[source] = true
	node, err := Parse(source)
	if err != nil {
		t.bySource[source] = entry{err: err}
		return 0, nil, err
	}
	id := t.intern(source, node)
	t.bySource[source] = entry{id: id}
	return id, t.formulas[id].node, nil
}

// intern adds a formula AST or returns the ID of an equal one
func (t *Table) intern(source string, node Node) uint32 {
	key := astKey(node.String())
	id, exists := t.astIndex[key]
	if !exists {
		id = t.nextID
		t.nextID++
		t.astIndex[key] = id
		t.formulas[id] = &interned{node: node, key: key}
	}
	f := t.formulas[id]
	f.sources = append(f.sources, source)
	return id
}

func (t *Table) release(cell string) {
	id, ok := t.atCell[cell]
	if !ok {
		return
	}
	delete(t.atCell, cell)
	f := t.formulas[id]
	if f.cells--; f.cells <= 0 {
		t.evict(id)
	}
}

// evict drops a formula with every source that parsed to it
func (t *Table) evict(id uint32) {
	f, ok := t.formulas[id]
	if !ok {
		return
	}
	delete(t.formulas, id)
	delete(t.astIndex, f.key)
	for _, source := range f.sources {
		delete(t.bySource, source)
		delete(t.loose, source)
	}
}

// sweep drops loose sources no cell holds, and forgets failed parses
func (t *Table) sweep() {
	for source := range t.loose {
		e, ok := t.bySource[source]
		switch {
		case !ok:
		case e.err != nil:
			delete(t.bySource, source)
		case t.formulas[e.id].cells == 0:
			t.evict(e.id)
		}
	}
	clear(t.loose)
}
