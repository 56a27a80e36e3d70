package typedsheet

import (
	"context"
	"fmt"
	"sync"

	"github.com/vogtb/go-spreadsheet/packages/fetch"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
	"github.com/vogtb/go-spreadsheet/packages/types"
)

// Row is an immutable view of one row's cells. A change to the row
// replaces it in its Data with a new Row.
type Row struct {
	data  *Data
	index int
	cells map[string]fetch.Cell // column -> cell

	mu    sync.Mutex
	props map[string]*Prop
}

func newRow(d *Data, index int, cells map[string]fetch.Cell) *Row {
	if cells == nil {
		cells = map[string]fetch.Cell{}
	}
	return &Row{data: d, index: index, cells: cells, props: map[string]*Prop{}}
}

// Index is the 0-based row index.
func (r *Row) Index() int {
	return r.index
}

// Cell returns the stored cell of a column.
func (r *Row) Cell(column string) fetch.Cell {
	return r.cells[column].Clone()
}

// Prop returns the accessor of a prop, or nil when the typename has no
// such prop.
func (r *Row) Prop(name string) *Prop {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.props[name]; ok {
		return p
	}
	def := r.data.def.Column(name)
	if def == nil {
		return nil
	}
	p := &Prop{row: r, def: def}
	r.props[name] = p
	return p
}

// ToObject returns every prop's value by name.
func (r *Row) ToObject() map[string]any {
	out := make(map[string]any, len(r.data.def.Columns))
	for _, cd := range r.data.def.Columns {
		out[cd.Prop] = r.Prop(cd.Prop).Get()
	}
	return out
}

// Prop reads and writes one prop of a row.
type Prop struct {
	row *Row
	def *types.ColumnDef

	once sync.Once
	refs *Refs
}

// Name of the prop.
func (p *Prop) Name() string {
	return p.def.Prop
}

func (p *Prop) Def() *types.ColumnDef {
	return p.def
}

// Key is the cell key the prop is stored in.
func (p *Prop) Key() string {
	return cellKey(p.def.Column, p.row.index)
}

// Get returns the stored value, else the declared default, else an empty
// slice for array types, else nil. A REF prop's stored value is the URI
// of the namespace it links to.
func (p *Prop) Get() any {
	cell := p.row.cells[p.def.Column]
	switch {
	case p.def.Target == types.TargetRef:
		if uri := cell.Links[LinkKey(p.def.Prop)]; uri != "" {
			return uri
		}
	case p.def.Target.Prop() != "":
		if v, ok := cell.Props[p.def.Target.Prop()]; ok && v != nil {
			return v
		}
	default:
		if cell.Value != nil {
			return cell.Value
		}
	}

	if p.def.Default != nil && p.def.Default.Value != nil {
		return p.def.Default.Value
	}
	if p.def.Type != nil && p.def.Type.IsArray() {
		return []any{}
	}
	return nil
}

// Set writes an inline prop through the sheet's Change. REF props cannot
// be set.
func (p *Prop) Set(ctx context.Context, v any) error {
	if p.def.Target == types.TargetRef {
		return sheeterr.NewAppError(sheeterr.Unimplemented,
			fmt.Sprintf("prop %s is a reference and cannot be set", p.def.Prop))
	}
	patch := p.row.cells[p.def.Column].Clone()
	if prop := p.def.Target.Prop(); prop != "" {
		if patch.Props == nil {
			patch.Props = map[string]any{}
		}
		patch.Props[prop] = v
	} else {
		patch.Value = v
	}

	s := p.row.data.sheet
	return s.Change(ctx, fetch.Changes{NS: s.uri, Cells: map[string]fetch.Cell{p.Key(): patch}})
}

// Refs returns the loader of the namespace a REF prop points at, or nil
// for other props.
func (p *Prop) Refs() *Refs {
	if len(types.Refs(p.def.Type)) == 0 {
		return nil
	}
	p.once.Do(func() {
		p.refs = &Refs{prop: p}
	})
	return p.refs
}

func cellKey(column string, index int) string {
	return fmt.Sprintf("%s%d", column, index+1)
}
