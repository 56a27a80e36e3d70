package typedsheet

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/events"
	"github.com/vogtb/go-spreadsheet/packages/fetch"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
	"github.com/vogtb/go-spreadsheet/packages/types"
)

// LinkKey is the key of the cell link a REF prop stores its namespace
// under.
func LinkKey(prop string) string {
	return "ref:" + prop
}

// Refs loads the sheet a REF prop points at.
type Refs struct {
	prop *Prop

	mu    sync.Mutex
	sheet *Sheet
}

// Sheet returns the loaded child sheet, or nil before Load.
func (r *Refs) Sheet() *Sheet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sheet
}

// Load returns the child sheet. A namespace reference without a stored
// link gets a new namespace, linked from the parent cell through a sheet
// change. Concurrent loads of the same cell share one result.
func (r *Refs) Load(ctx context.Context) (*Sheet, error) {
	d := r.prop.row.data
	key := r.prop.Key()
	v, err, _ := d.refs.Do(key, func() (any, error) {
		return d.loadRef(ctx, r.prop.def, r.prop.row.index)
	})
	if err != nil {
		return nil, err
	}
	child := v.(*Sheet)
	r.mu.Lock()
	r.sheet = child
	r.mu.Unlock()
	return child, nil
}

func (d *Data) loadRef(ctx context.Context, def *types.ColumnDef, index int) (*Sheet, error) {
	s := d.sheet
	if err := s.alive(); err != nil {
		return nil, err
	}
	refs := types.Refs(def.Type)
	if len(refs) == 0 {
		return nil, sheeterr.NewAppError(sheeterr.InvalidArgument, fmt.Sprintf("prop %s is not a reference", def.Prop))
	}
	ref := refs[0]
	s.events.Fire(events.SheetRefsLoading, &events.RefsLoad{NS: s.uri, Row: index, Prop: def.Prop})

	// a column reference reads the referenced namespace as is
	if ref.Scope == types.ScopeColumn {
		child, err := Load(ctx, s.child(ref.Namespace()))
		if err != nil {
			return nil, err
		}
		s.events.Fire(events.SheetRefsLoaded, &events.RefsLoad{NS: s.uri, Row: index, Prop: def.Prop, Child: child.uri})
		return child, nil
	}

	// read the current row, the one the prop came from may be stale
	var cell fetch.Cell
	if row := d.Row(index); row != nil {
		cell = row.Cell(def.Column)
	}
	link := LinkKey(def.Prop)
	uri := cell.Links[link]
	created := uri == ""
	if created {
		uri = coord.NsURI(uuid.NewString())
	}

	links := maps.Clone(cell.Links)
	if links == nil {
		links = map[string]string{}
	}
	links[link] = uri
	if !cmp.Equal(cell.Links, links) {
		patch := cell.Clone()
		patch.Links = links
		if err := s.Change(ctx, fetch.Changes{NS: s.uri, Cells: map[string]fetch.Cell{cellKey(def.Column, index): patch}}); err != nil {
			return nil, err
		}
	}

	var child *Sheet
	var err error
	if created {
		args := s.child(uri)
		child, err = Create(ctx, CreateArgs{
			NS:         uri,
			Implements: ref.URI,
			Fetch:      args.Fetch,
			Events:     args.Events,
			Pool:       args.Pool,
			Types:      args.Types,
			PageSize:   args.PageSize,
		})
	} else {
		child, err = Load(ctx, s.child(uri))
	}
	if err != nil {
		return nil, err
	}
	s.events.Fire(events.SheetRefsLoaded, &events.RefsLoad{NS: s.uri, Row: index, Prop: def.Prop, Child: child.uri})
	return child, nil
}
