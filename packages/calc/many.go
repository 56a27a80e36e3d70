package calc

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.alis.build/alog"

	"github.com/vogtb/go-spreadsheet/packages/events"
	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/refs"
)

// ManyArgs configures Many.
type ManyArgs struct {
	Cells []string
	// Refs orders the evaluation. When nil a table over Cells alone is
	// built, so dependents outside Cells are not evaluated.
	Refs     *refs.Table
	GetValue GetValue
	GetFunc  GetFunc
	Eid      string
	Events   *events.Bus
}

// ManyResponse is the outcome of a batch evaluation. List is in evaluation
// order.
type ManyResponse struct {
	Ok      bool
	Eid     string
	List    []*FuncResponse
	Elapsed time.Duration
	// Err reports a failure to compute the evaluation order; List is empty
	// when it is set.
	Err error

	once  sync.Once
	index map[string]*FuncResponse
}

// Map indexes List by cell key.
func (r *ManyResponse) Map() map[string]*FuncResponse {
	r.once.Do(func() {
		r.index = make(map[string]*FuncResponse, len(r.List))
		for _, res := range r.List {
			r.index[res.Cell] = res
		}
	})
	return r.index
}

// Many evaluates cells together with every cell they depend on or that
// depends on them, one at a time, dependencies first. A failing cell does
// not stop the others.
func Many(ctx context.Context, args ManyArgs) *ManyResponse {
	start := time.Now()
	if args.Eid == "" {
		args.Eid = uuid.NewString()
	}
	res := &ManyResponse{Eid: args.Eid}

	table := args.Refs
	if table == nil {
		alog.Debugf(ctx, "calc: no refs table, evaluating dependents among %d cells only", len(args.Cells))
		table = refs.NewTable(refs.Config{
			GetKeys: func(context.Context) ([]string, error) {
				return slices.Clone(args.Cells), nil
			},
			GetValue: args.GetValue,
			Events:   args.Events,
		})
	}

	keys, err := order(ctx, table, args)
	args.Events.Fire(events.FuncManyBegin, &events.ManyStarted{Eid: args.Eid, Cells: keys})
	defer func() {
		args.Events.Fire(events.FuncManyEnd, &events.ManyEnded{
			Eid:     res.Eid,
			Ok:      res.Ok,
			Count:   len(res.List),
			Elapsed: res.Elapsed,
		})
	}()
	if err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}

	res.Ok = true
	for _, key := range keys {
		one := One(ctx, OneArgs{
			Cell:     key,
			Refs:     table,
			GetValue: args.GetValue,
			GetFunc:  args.GetFunc,
			Eid:      args.Eid + "/" + key,
			Events:   args.Events,
		})
		res.Ok = res.Ok && one.Ok
		res.List = append(res.List, one)
	}
	res.Elapsed = time.Since(start)
	alog.Debugf(ctx, "calc: evaluated %d cells in %s", len(res.List), res.Elapsed)
	return res
}

// order expands the requested cells to their dependencies and dependents
// and returns the formula cells among them, dependencies first
func order(ctx context.Context, table *refs.Table, args ManyArgs) ([]string, error) {
	all, err := table.Refs(ctx)
	if err != nil {
		return nil, fmt.Errorf("refs: %w", err)
	}

	expanded := map[string]bool{}
	for _, cell := range args.Cells {
		expanded[cell] = true
		for _, ref := range all.Out[cell] {
			expanded[ref.Cell] = true
		}
		for _, ref := range all.In[cell] {
			expanded[ref.Cell] = true
		}
	}

	sorted, err := table.Sort(ctx, slices.Collect(maps.Keys(expanded)))
	if err != nil {
		return nil, fmt.Errorf("sort: %w", err)
	}

	var out []string
	for _, key := range sorted {
		if args.GetValue == nil {
			continue
		}
		value, err := args.GetValue(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get value %s: %w", key, err)
		}
		if formula.IsFormula(value) {
			out = append(out, key)
		}
	}
	return out, nil
}
