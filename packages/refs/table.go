// Package refs computes the formula dependency graph of a sheet: the cells
// each formula reaches (outgoing), the cells that reach each cell
// (incoming), and the circular references among them.
package refs

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"
	"go.alis.build/alog"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/events"
	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
)

// Ref is a dependency edge. Cell is the cell reached and Path the chain
// that reached it ("A1/A2/D5").
type Ref struct {
	Cell  string
	Path  string
	Error *sheeterr.RefError
}

// Map holds refs by cell key.
type Map map[string][]Ref

// Result is the incoming and outgoing refs of a set of cells.
type Result struct {
	In  Map
	Out Map
}

// Config supplies the cells a table works over.
type Config struct {
	// GetKeys lists every cell key of the sheet.
	GetKeys func(ctx context.Context) ([]string, error)
	// GetValue reads a cell's raw value.
	GetValue func(ctx context.Context, key string) (any, error)
	Events   *events.Bus
}

// Table caches the refs of a sheet. Untouched entries keep their slice
// identity across calls. Safe for concurrent use; GetKeys and GetValue must
// not call back into the table.
type Table struct {
	cfg      Config
	formulas *formula.Table

	mu      sync.Mutex
	out     Map
	known   map[string]bool // keys whose outgoing refs are cached, with or without refs
	in      Map
	inReady bool
}

// NewTable creates a refs table.
func NewTable(cfg Config) *Table {
	return &Table{
		cfg:      cfg,
		formulas: formula.NewTable(),
		out:      Map{},
		known:    map[string]bool{},
		in:       Map{},
	}
}

// Parse parses a formula through the table's formula cache.
func (t *Table) Parse(source string) (formula.Node, error) {
	return t.formulas.Parse(source)
}

// Refs returns both directions for the cells in range.
func (t *Table) Refs(ctx context.Context, opts ...Option) (*Result, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out, err := t.outgoing(ctx, o)
	if err != nil {
		return nil, err
	}
	in, err := t.incoming(ctx, o)
	if err != nil {
		return nil, err
	}
	return &Result{In: in, Out: out}, nil
}

// Outgoing returns, for every formula cell in range, the refs reachable
// from its formula in depth-first discovery order. Cells without refs are
// omitted.
func (t *Table) Outgoing(ctx context.Context, opts ...Option) (Map, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outgoing(ctx, o)
}

// Incoming returns, for every cell in range, the cells whose formulas
// reach it directly or through other cells, least dependent first. Cells
// nothing references are omitted.
func (t *Table) Incoming(ctx context.Context, opts ...Option) (Map, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.incoming(ctx, o)
}

// Sort orders keys so that every cell comes after the cells it depends on.
// Cells with no dependency relation keep key order.
func (t *Table) Sort(ctx context.Context, keys []string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sort(ctx, keys)
}

// Errors returns the circular reference errors currently cached, ordered
// by path.
func (t *Table) Errors() []*sheeterr.RefError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.circular(t.out)
}

// Reset clears cached refs. Without WithCache both caches are cleared.
func (t *Table) Reset(opts ...Option) {
	o, _ := applyOptions(opts)
	caches := o.caches
	if len(caches) == 0 {
		caches = []Cache{CacheIn, CacheOut}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range caches {
		switch c {
		case CacheIn:
			t.in = Map{}
			t.inReady = false
		case CacheOut:
			t.out = Map{}
			t.known = map[string]bool{}
			t.formulas.Clear()
		}
	}
}

func (t *Table) keys(ctx context.Context) ([]string, error) {
	var keys []string
	if t.cfg.GetKeys != nil {
		var err error
		if keys, err = t.cfg.GetKeys(ctx); err != nil {
			return nil, fmt.Errorf("get keys: %w", err)
		}
	}
	payload := &events.GetKeys{Keys: keys}
	t.cfg.Events.Fire(events.RefsGetKeys, payload)
	return sortKeys(payload.Keys), nil
}

func (t *Table) value(ctx context.Context, key string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value any
	if t.cfg.GetValue != nil {
		var err error
		if value, err = t.cfg.GetValue(ctx, key); err != nil {
			return nil, fmt.Errorf("get value %s: %w", key, err)
		}
	}
	payload := &events.GetValue{Key: key, Value: value}
	t.cfg.Events.Fire(events.RefsGetValue, payload)
	return payload.Value, nil
}

// outgoing fills and reads the out cache. callers hold t.mu.
func (t *Table) outgoing(ctx context.Context, o options) (Map, error) {
	var keys []string
	if o.only != nil {
		keys = sortKeys(slices.Collect(maps.Keys(o.only)))
	} else {
		var err error
		if keys, err = t.keys(ctx); err != nil {
			return nil, err
		}
	}

	res := Map{}
	computed := false
	for _, key := range keys {
		if !o.inRange(key) {
			continue
		}
		if t.known[key] && !o.force {
			if refs, ok := t.out[key]; ok {
				res[key] = refs
			}
			continue
		}

		refs, err := t.walk(ctx, key)
		if err != nil {
			return nil, err
		}
		t.known[key] = true
		computed = true
		if len(refs) == 0 {
			delete(t.out, key)
			continue
		}
		t.out[key] = refs
		res[key] = refs
	}

	if computed {
		t.inReady = false
		t.linkCircular()
	}
	return res, nil
}

// walk collects the refs reachable from key's formula
func (t *Table) walk(ctx context.Context, key string) ([]Ref, error) {
	var refs []Ref
	seen := map[string]bool{}

	var visit func(cell, path string) error
	visit = func(cell, path string) error {
		children, err := t.children(ctx, cell)
		if err != nil {
			return err
		}
		for _, child := range children {
			childPath := path + "/" + child
			if seen[childPath] {
				continue
			}
			seen[childPath] = true

			// stop before descending into a cell already on the path
			if onPath(path, child) {
				refs = append(refs, Ref{Cell: child, Path: childPath, Error: sheeterr.NewCircularRef(childPath)})
				continue
			}
			refs = append(refs, Ref{Cell: child, Path: childPath})
			if err := visit(child, childPath); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(key, key); err != nil {
		return nil, err
	}
	return refs, nil
}

// children returns the cells a cell's formula references, in source order
// with ranges expanded.
func (t *Table) children(ctx context.Context, cell string) ([]string, error) {
	value, err := t.value(ctx, cell)
	if err != nil {
		return nil, err
	}
	if !formula.IsFormula(value) {
		t.formulas.Release(cell)
		return nil, nil
	}
	node, err := t.formulas.Assign(cell, value.(string))
	if err != nil {
		alog.Debugf(ctx, "refs: skipping %s, formula does not parse: %v", cell, err)
		return nil, nil
	}

	var out []string
	formula.Walk(node, func(n formula.Node) bool {
		switch v := n.(type) {
		case *formula.CellRef:
			out = append(out, v.Key)
		case *formula.CellRange:
			out = append(out, v.Range.Keys()...)
		}
		return true
	})
	return out, nil
}

// linkCircular gives every cached circular error the full list of
// circular errors as children
func (t *Table) linkCircular() {
	all := t.circular(t.out)
	if len(all) == 0 {
		return
	}
	children := make([]*sheeterr.RefError, len(all))
	for i, err := range all {
		children[i] = err.Shallow()
	}
	for _, refs := range t.out {
		for _, ref := range refs {
			if ref.Error != nil {
				ref.Error.Children = children
			}
		}
	}
}

func (t *Table) circular(m Map) []*sheeterr.RefError {
	byPath := map[string]*sheeterr.RefError{}
	for _, refs := range m {
		for _, ref := range refs {
			if ref.Error != nil {
				if _, ok := byPath[ref.Error.Path]; !ok {
					byPath[ref.Error.Path] = ref.Error
				}
			}
		}
	}
	out := make([]*sheeterr.RefError, 0, len(byPath))
	for _, path := range slices.Sorted(maps.Keys(byPath)) {
		out = append(out, byPath[path])
	}
	return out
}

// incoming transposes the outgoing refs of every cell. callers hold t.mu.
func (t *Table) incoming(ctx context.Context, o options) (Map, error) {
	if o.outRefs != nil {
		return filter(transpose(o.outRefs), o), nil
	}

	// forcing incoming refs rereads every formula, not only the transpose
	out, err := t.outgoing(ctx, options{force: o.force})
	if err != nil {
		return nil, err
	}
	if !t.inReady || o.force {
		t.in = transpose(out)
		t.inReady = true
	}
	return filter(t.in, o), nil
}

// transpose inverts outgoing refs: every cell reached from Y's formula
// gets an incoming ref to Y, carrying the first path that reached it
func transpose(out Map) Map {
	order := topo(edges(out), nil)
	rank := make(map[string]int, len(order))
	for i, key := range order {
		rank[key] = i
	}

	referencers := map[string]map[string]Ref{}
	for _, source := range sortKeys(slices.Collect(maps.Keys(out))) {
		for _, ref := range out[source] {
			if referencers[ref.Cell] == nil {
				referencers[ref.Cell] = map[string]Ref{}
			}
			if _, exists := referencers[ref.Cell][source]; exists {
				continue
			}
			referencers[ref.Cell][source] = Ref{
				Cell:  source,
				Path:  ref.Path,
				Error: ref.Error,
			}
		}
	}

	in := make(Map, len(referencers))
	for cell, byParent := range referencers {
		refs := slices.Collect(maps.Values(byParent))
		slices.SortFunc(refs, func(a, b Ref) int {
			return rank[a.Cell] - rank[b.Cell]
		})
		in[cell] = refs
	}
	return in
}

func filter(m Map, o options) Map {
	res := Map{}
	for key, refs := range m {
		if o.inRange(key) {
			res[key] = refs
		}
	}
	return res
}

// sort orders keys topologically over the whole graph. callers hold t.mu.
func (t *Table) sort(ctx context.Context, keys []string) ([]string, error) {
	out, err := t.outgoing(ctx, options{})
	if err != nil {
		return nil, err
	}
	// keys outside the sheet's key list still contribute their own edges
	extra := map[string]bool{}
	for _, key := range keys {
		if !t.known[key] {
			extra[key] = true
		}
	}
	if len(extra) > 0 {
		more, err := t.outgoing(ctx, options{only: extra})
		if err != nil {
			return nil, err
		}
		out = maps.Clone(out)
		maps.Copy(out, more)
	}

	wanted := make(map[string]bool, len(keys))
	for _, key := range keys {
		wanted[key] = true
	}
	var res []string
	for _, key := range topo(edges(out), keys) {
		if wanted[key] {
			res = append(res, key)
			delete(wanted, key)
		}
	}
	return res, nil
}

// edges returns the direct dependencies of every cell
func edges(out Map) map[string][]string {
	deps := map[string][]string{}
	for _, refs := range out {
		for _, ref := range refs {
			parent, ok := parentOf(ref.Path)
			if !ok || slices.Contains(deps[parent], ref.Cell) {
				continue
			}
			deps[parent] = append(deps[parent], ref.Cell)
		}
	}
	return deps
}

// topo returns every node of the graph, plus extra, dependencies first.
// ties follow key order.
func topo(deps map[string][]string, extra []string) []string {
	nodes := map[string]bool{}
	for key, targets := range deps {
		nodes[key] = true
		for _, target := range targets {
			nodes[target] = true
		}
	}
	for _, key := range extra {
		nodes[key] = true
	}

	// three states: unvisited (not in map), visiting (false), visited (true)
	state := make(map[string]bool, len(nodes))
	order := make([]string, 0, len(nodes))

	var visit func(key string)
	visit = func(key string) {
		if _, exists := state[key]; exists {
			// visited, or visiting which means a cycle
			return
		}
		state[key] = false
		for _, dep := range sortKeys(deps[key]) {
			visit(dep)
		}
		state[key] = true
		order = append(order, key)
	}

	for _, key := range sortKeys(slices.Collect(maps.Keys(nodes))) {
		visit(key)
	}
	return order
}

// Change tells the table a cell's value changed. The new value must
// already be visible through GetValue.
type Change struct {
	Key  string
	From any
	To   any
}

func (c Change) noop() bool {
	if cmp.Equal(c.From, c.To) {
		return true
	}
	return !formula.IsFormula(c.From) && !formula.IsFormula(c.To)
}

// UpdateResult reports the effect of Update.
type UpdateResult struct {
	Ok      bool
	Changed []string
	Keys    []string
	Errors  []*sheeterr.RefError
	Refs    *Result
}

// Update recomputes the refs affected by changes: the changed keys, the
// cells that depend on them and the cells they reach. Changes that are
// no-ops (equal values, or no formula on either side) are ignored.
func (t *Table) Update(ctx context.Context, changes ...Change) (*UpdateResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []string
	for _, c := range changes {
		if !c.noop() && !slices.Contains(changed, c.Key) {
			changed = append(changed, c.Key)
		}
	}
	if len(changed) == 0 {
		return &UpdateResult{
			Ok:      true,
			Changed: []string{},
			Keys:    []string{},
			Errors:  []*sheeterr.RefError{},
			Refs:    t.snapshot(),
		}, nil
	}

	// affected keys from the graph as it was
	in, err := t.incoming(ctx, options{})
	if err != nil {
		return nil, err
	}
	affected := map[string]bool{}
	for _, key := range changed {
		affected[key] = true
		for _, ref := range t.out[key] {
			affected[ref.Cell] = true
		}
		queue := []string{key}
		for len(queue) > 0 {
			cell := queue[0]
			queue = queue[1:]
			for _, ref := range in[cell] {
				if !affected[ref.Cell] {
					affected[ref.Cell] = true
					queue = append(queue, ref.Cell)
				}
			}
		}
	}

	// recompute, then pick up anything the new formulas reach
	if _, err := t.outgoing(ctx, options{force: true, only: affected}); err != nil {
		return nil, err
	}
	for _, key := range changed {
		for _, ref := range t.out[key] {
			affected[ref.Cell] = true
		}
	}
	if _, err := t.incoming(ctx, options{force: true}); err != nil {
		return nil, err
	}

	keys, err := t.sort(ctx, slices.Collect(maps.Keys(affected)))
	if err != nil {
		return nil, err
	}
	scoped := Map{}
	for _, key := range keys {
		if refs, ok := t.out[key]; ok {
			scoped[key] = refs
		}
	}
	errs := t.circular(scoped)

	alog.Debugf(ctx, "refs: update changed %v, recomputed %d keys", changed, len(keys))
	t.cfg.Events.Fire(events.RefsUpdate, &events.RefsUpdated{Changed: changed, Keys: keys})

	return &UpdateResult{
		Ok:      len(errs) == 0,
		Changed: changed,
		Keys:    keys,
		Errors:  errs,
		Refs:    t.snapshot(),
	}, nil
}

func (t *Table) snapshot() *Result {
	return &Result{In: maps.Clone(t.in), Out: maps.Clone(t.out)}
}

func onPath(path, cell string) bool {
	for _, part := range strings.Split(path, "/") {
		if part == cell {
			return true
		}
	}
	return false
}

func parentOf(path string) (string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return "", false
	}
	return parts[len(parts)-2], true
}

// sortKeys dedupes keys and orders them row by row, then by column.
// keys that are not cell keys sort after, alphabetically.
func sortKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.SortFunc(out, compareKeys)
	return slices.Compact(out)
}

func compareKeys(a, b string) int {
	ca, errA := coord.ParseKey(a)
	cb, errB := coord.ParseKey(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	case ca.Row != cb.Row:
		return ca.Row - cb.Row
	case ca.Column != cb.Column:
		return ca.Column - cb.Column
	}
	return strings.Compare(a, b)
}
