package typecache

import (
	"context"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/events"
	"github.com/vogtb/go-spreadsheet/packages/fetch"
)

func newStore(t *testing.T, cells map[string]any) *fetch.Memory {
	t.Helper()
	store := fetch.NewMemory()
	store.Define("sheet", fetch.Ns{}, map[string]fetch.Column{"A": {Prop: "Row.a", Type: "string"}})
	changes := fetch.Changes{NS: "sheet", Cells: map[string]fetch.Cell{}}
	for k, v := range cells {
		changes.Cells[k] = fetch.Cell{Value: v}
	}
	require.NoError(t, store.Apply(context.Background(), changes))
	return store
}

func keys(res *fetch.CellsResponse) []string {
	return slices.Sorted(maps.Keys(res.Cells))
}

func TestRangeExtension(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, map[string]any{
		"A1": 1.0, "B1": "b1", "B2": "b2", "B3": "b3", "Z1": "z", "C10": "c",
	})
	f := Wrap(store)

	first, err := f.GetCells(ctx, "sheet", "B1:B3")
	require.NoError(t, err)
	assert.Equal(t, []string{"B1", "B2", "B3"}, keys(first))
	assert.Equal(t, 10, first.Total.Rows)

	second, err := f.GetCells(ctx, "ns:sheet", "1:500")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B1", "B2", "B3", "C10", "Z1"}, keys(second))
	assert.Subset(t, keys(second), keys(first))
	assert.Equal(t, 2, store.Calls(fetch.MethodGetCells))

	for _, query := range []string{"B1:B3", "B1:B2", "A1:Z10", "1:600", "C:C"} {
		_, err := f.GetCells(ctx, "sheet", query)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.Calls(fetch.MethodGetCells))

	res, err := f.GetCells(ctx, "sheet", "B2")
	require.NoError(t, err)
	assert.Equal(t, []string{"B2"}, keys(res))
}

// paged reads whole pages of rows whatever the query asks for, and reports
// more rows than it has.
type paged struct {
	*fetch.Memory
}

func (p paged) GetCells(ctx context.Context, ns, _ string, opts ...fetch.Option) (*fetch.CellsResponse, error) {
	res, err := p.Memory.GetCells(ctx, ns, "1:100", opts...)
	if err != nil {
		return nil, err
	}
	res.Total.Rows = 1000
	return res, nil
}

func TestRowQueryExtendsToReturnedRows(t *testing.T) {
	ctx := context.Background()
	cells := map[string]any{}
	for _, k := range []string{"A1", "A30", "A60"} {
		cells[k] = k
	}
	store := newStore(t, cells)
	f := Wrap(paged{store})

	res, err := f.GetCells(ctx, "sheet", "1:10")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, keys(res))

	res, err = f.GetCells(ctx, "sheet", "20:60")
	require.NoError(t, err)
	assert.Equal(t, []string{"A30", "A60"}, keys(res))
	assert.Equal(t, 1, store.Calls(fetch.MethodGetCells))

	_, err = f.GetCells(ctx, "sheet", "1:61")
	require.NoError(t, err)
	assert.Equal(t, 2, store.Calls(fetch.MethodGetCells))
}

func TestNamespaceReads(t *testing.T) {
	ctx := context.Background()
	store := fetch.NewMemory()
	f := Wrap(store)

	_, err := f.GetNs(ctx, "late")
	require.True(t, fetch.IsNotFound(err))
	typ, err := f.GetType(ctx, "late")
	require.NoError(t, err)
	assert.False(t, typ.Exists)

	store.Define("late", fetch.Ns{Implements: "ns:schema"}, map[string]fetch.Column{"A": {Prop: "Row.a", Type: "string"}})

	ns, err := f.GetNs(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, "ns:schema", ns.Ns.Implements)
	typ, err = f.GetType(ctx, "ns:late")
	require.NoError(t, err)
	assert.True(t, typ.Exists)
	cols, err := f.GetColumns(ctx, "late")
	require.NoError(t, err)
	assert.Len(t, cols.Columns, 1)

	for range 3 {
		_, _ = f.GetNs(ctx, "late")
		_, _ = f.GetType(ctx, "late")
		_, _ = f.GetColumns(ctx, "ns:late")
	}
	assert.Equal(t, 2, store.Calls(fetch.MethodGetNs))
	assert.Equal(t, 2, store.Calls(fetch.MethodGetType))
	assert.Equal(t, 1, store.Calls(fetch.MethodGetColumns))
}

func TestForce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, map[string]any{"A1": "old", "A2": "gone"})
	f := Wrap(store)

	_, err := f.GetCells(ctx, "sheet", "1:10")
	require.NoError(t, err)

	require.NoError(t, store.Apply(ctx, fetch.Changes{NS: "sheet", Cells: map[string]fetch.Cell{"A1": {Value: "new"}}}))
	res, err := f.GetCells(ctx, "sheet", "1:10")
	require.NoError(t, err)
	assert.Equal(t, "old", res.Cells["A1"].Value)

	res, err = f.GetCells(ctx, "sheet", "1:10", fetch.WithForce())
	require.NoError(t, err)
	assert.Equal(t, "new", res.Cells["A1"].Value)
	assert.Equal(t, 2, store.Calls(fetch.MethodGetCells))

	res, err = f.GetCells(ctx, "sheet", "A1")
	require.NoError(t, err)
	assert.Equal(t, "new", res.Cells["A1"].Value)
	assert.Equal(t, 2, store.Calls(fetch.MethodGetCells))
}

func TestWrapTwice(t *testing.T) {
	f := Wrap(fetch.NewMemory())
	assert.Same(t, f, Wrap(f))
	assert.Same(t, f, Wrap(f, WithCache(NewCache())))
}

func TestSharedCache(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, map[string]any{"A1": 1.0})
	cache := NewCache()

	_, err := Wrap(store, WithCache(cache)).GetCells(ctx, "sheet", "1:10")
	require.NoError(t, err)
	res, err := Wrap(store, WithCache(cache)).GetCells(ctx, "sheet", "A1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Cells["A1"].Value)
	assert.Equal(t, 1, store.Calls(fetch.MethodGetCells))

	cache.Reset()
	_, ok := cache.Cells("sheet")
	assert.False(t, ok)
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	bus := events.New()
	store := newStore(t, map[string]any{"A1": 1.0, "Z1": "z", "B2": 2.0})
	f := Wrap(store, WithEvents(bus))

	_, err := f.GetCells(ctx, "sheet", "1:500")
	require.NoError(t, err)

	sync := func(cells map[string]fetch.Cell) {
		bus.Fire(events.SheetSync, &events.Change{Changes: fetch.Changes{NS: "ns:sheet", Cells: cells}})
	}

	sync(map[string]fetch.Cell{"A1": {Value: 10.0}})
	cached, ok := f.Cache().Cells("sheet")
	require.True(t, ok)
	assert.Equal(t, 10.0, cached.Cells["A1"].Value)
	assert.Equal(t, "z", cached.Cells["Z1"].Value)
	assert.Equal(t, 2.0, cached.Cells["B2"].Value)
	assert.Equal(t, 2, cached.Total.Rows)

	t.Run("new cell in a known row keeps the total", func(t *testing.T) {
		sync(map[string]fetch.Cell{"C1": {Value: "c"}})
		cached, _ := f.Cache().Cells("sheet")
		assert.Equal(t, "c", cached.Cells["C1"].Value)
		assert.Equal(t, 2, cached.Total.Rows)
	})

	t.Run("props merge into the cached cell", func(t *testing.T) {
		sync(map[string]fetch.Cell{"A1": {Value: 10.0, Props: map[string]any{"note": "n"}}})
		cached, _ := f.Cache().Cells("sheet")
		assert.Equal(t, fetch.Cell{Value: 10.0, Props: map[string]any{"note": "n"}}, cached.Cells["A1"])
	})

	t.Run("other namespaces are ignored", func(t *testing.T) {
		bus.Fire(events.SheetSync, &events.Change{Changes: fetch.Changes{NS: "other", Cells: map[string]fetch.Cell{"A1": {Value: 0}}}})
		cached, _ := f.Cache().Cells("sheet")
		assert.Equal(t, 10.0, cached.Cells["A1"].Value)
		_, ok := f.Cache().Cells("other")
		assert.False(t, ok)
	})

	t.Run("new row resets the total", func(t *testing.T) {
		sync(map[string]fetch.Cell{"A3": {Value: 3.0}})
		cached, _ := f.Cache().Cells("sheet")
		assert.Equal(t, -1, cached.Total.Rows)
		assert.Equal(t, "z", cached.Cells["Z1"].Value)

		calls := store.Calls(fetch.MethodGetCells)
		_, err := f.GetCells(ctx, "sheet", "1:500")
		require.NoError(t, err)
		assert.Equal(t, calls+1, store.Calls(fetch.MethodGetCells))
	})

	t.Run("disposed fetcher stops syncing", func(t *testing.T) {
		f.Dispose()
		sync(map[string]fetch.Cell{"A1": {Value: 99.0}})
		cached, _ := f.Cache().Cells("sheet")
		assert.NotEqual(t, 99.0, cached.Cells["A1"].Value)
	})
}
