package typeclient

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/fetch"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
	"github.com/vogtb/go-spreadsheet/packages/types"
)

func errorTypes(def *types.NsTypeDef) []sheeterr.Type {
	var out []sheeterr.Type
	for _, e := range def.Errors {
		out = append(out, e.Type)
	}
	return out
}

func TestLoadGroupsColumns(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("items", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Item.title", Type: "string"},
		"B": {Prop: "Item.tags?", Type: "string[]"},
		"C": {Prop: "Item.color", Type: `"red" | 'blue'`, Default: "red"},
		"D": {Prop: "Meta.note", Type: "string", Target: "inline:note"},
	})

	defs := New(store).Load(context.Background(), "items")
	require.Len(t, defs, 2)

	item, meta := defs[0], defs[1]
	assert.True(t, item.Ok)
	assert.Equal(t, "ns:items", item.URI)
	assert.Equal(t, "Item", item.Typename)
	require.Len(t, item.Columns, 3)

	assert.Equal(t, "title", item.Columns[0].Prop)
	assert.False(t, item.Columns[0].Optional)
	assert.Equal(t, types.TargetInline, item.Columns[0].Target)

	tags := item.Column("tags")
	require.NotNil(t, tags)
	assert.True(t, tags.Optional)
	assert.True(t, tags.Type.IsArray())

	color := item.Column("color")
	require.NotNil(t, color)
	assert.Equal(t, "'red' | 'blue'", color.Type.Typename())
	require.NotNil(t, color.Default)
	assert.Equal(t, "red", color.Default.Value)

	assert.Equal(t, "Meta", meta.Typename)
	assert.Equal(t, types.InlineProp("note"), meta.Column("note").Target)
}

func TestLoadSelectsTypename(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("items", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Item.title", Type: "string"},
		"B": {Prop: "Meta.note", Type: "string"},
	})
	client := New(store)

	defs := client.Load(context.Background(), "ns:items/Meta")
	require.Len(t, defs, 1)
	assert.Equal(t, "Meta", defs[0].Typename)

	defs = client.Load(context.Background(), "ns:items/Nope")
	require.Len(t, defs, 1)
	assert.False(t, defs[0].Ok)
	assert.Equal(t, []sheeterr.Type{sheeterr.NsNotFound}, errorTypes(defs[0]))
}

func TestLoadNamespaceErrors(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("self", fetch.Ns{Implements: "ns:self"}, nil)
	store.Define("untyped", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "title", Type: "string"},
	})

	tests := []struct {
		name string
		ns   string
		want sheeterr.Type
	}{
		{name: "missing", ns: "ns:missing", want: sheeterr.NsNotFound},
		{name: "invalid uri", ns: "cell:foo:A", want: sheeterr.TypeDefInvalid},
		{name: "implements itself", ns: "self", want: sheeterr.NsRefCircular},
		{name: "missing typename", ns: "untyped", want: sheeterr.TypeDefInvalid},
	}
	client := New(store)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := client.Load(context.Background(), tt.ns)
			require.Len(t, defs, 1)
			assert.False(t, defs[0].Ok)
			assert.Empty(t, defs[0].Typename)
			assert.Equal(t, []sheeterr.Type{tt.want}, errorTypes(defs[0]))
		})
	}
}

func TestLoadColumnErrors(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("bad", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "myRow.title", Type: "string"},
		"B": {Prop: "Good.count", Type: "number[][]"},
		"C": {Prop: "Good.size", Type: "number", Target: "ref"},
		"D": {Prop: "Good.ok", Type: "boolean"},
	})

	defs := New(store).Load(context.Background(), "bad")
	require.Len(t, defs, 2)

	lower, good := defs[0], defs[1]
	assert.False(t, lower.Ok)
	assert.Equal(t, []sheeterr.Type{sheeterr.TypeDefInvalid}, errorTypes(lower))

	assert.False(t, good.Ok)
	assert.Len(t, good.Errors, 2)
	assert.NotNil(t, good.Column("count").Error)
	assert.NotNil(t, good.Column("size").Error)
	assert.Nil(t, good.Column("ok").Error)
}

func TestLoadImplements(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("schema", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Row.title", Type: "string"},
		"B": {Prop: "Other.x", Type: "number"},
	})
	store.Define("data", fetch.Ns{Implements: "ns:schema/Row"}, nil)

	defs := New(store).Load(context.Background(), "ns:data")
	require.Len(t, defs, 1)
	assert.True(t, defs[0].Ok)
	assert.Equal(t, "ns:schema", defs[0].URI)
	assert.Equal(t, "Row", defs[0].Typename)
}

func TestLoadReferences(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("users", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "User.name", Type: "string"},
	})
	store.Define("posts", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Post.author", Type: "ns:users/User"},
		"B": {Prop: "Post.readers", Type: "ns:users[]"},
		"C": {Prop: "Post.name", Type: "cell:users:A", Default: "anon"},
	})

	defs := New(store).Load(context.Background(), "posts")
	require.Len(t, defs, 1)
	post := defs[0]
	require.True(t, post.Ok, post.Errors)

	author := post.Column("author")
	assert.Equal(t, types.TargetRef, author.Target)
	ref := author.Type.(*types.RefType)
	require.Len(t, ref.Types, 1)
	assert.Equal(t, "name", ref.Types[0].Prop)

	readers := post.Column("readers").Type.(*types.RefType)
	assert.True(t, readers.Array)
	require.Len(t, readers.Types, 1)

	name := post.Column("name")
	column := name.Type.(*types.RefType)
	require.Len(t, column.Types, 1)
	assert.Equal(t, "A", column.Types[0].Column)
	assert.Equal(t, "anon", name.Default.Value)
}

func TestLoadCircular(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("a", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "A.b", Type: "ns:b"},
	})
	store.Define("b", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "B.a", Type: "ns:a"},
	})
	store.Define("me", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Me.self", Type: "ns:me"},
	})
	store.Define("loop", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Loop.a", Type: "cell:loop:B"},
		"B": {Prop: "Loop.b", Type: "cell:loop:A"},
		"C": {Prop: "Loop.c", Type: "cell:loop:C"},
	})
	client := New(store)

	t.Run("between namespaces", func(t *testing.T) {
		defs := client.Load(context.Background(), "a")
		require.Len(t, defs, 1)
		assert.False(t, defs[0].Ok)
		assert.Equal(t, []sheeterr.Type{sheeterr.NsRefCircular}, errorTypes(defs[0]))
		require.NotEmpty(t, defs[0].Errors[0].Children)
		assert.Equal(t, "ns:b", defs[0].Errors[0].Children[0].NS)
	})

	t.Run("own namespace", func(t *testing.T) {
		defs := client.Load(context.Background(), "me")
		require.Len(t, defs, 1)
		assert.Equal(t, []sheeterr.Type{sheeterr.NsRefCircular}, errorTypes(defs[0]))
		assert.NotNil(t, defs[0].Column("self").Error)
	})

	t.Run("column chain", func(t *testing.T) {
		defs := client.Load(context.Background(), "loop")
		require.Len(t, defs, 1)
		assert.Equal(t, []sheeterr.Type{sheeterr.NsRefCircular, sheeterr.NsRefCircular, sheeterr.NsRefCircular}, errorTypes(defs[0]))
	})
}

func TestLoadSharedNamespaceIsNotCircular(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("top", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Top.left", Type: "ns:left"},
		"B": {Prop: "Top.right", Type: "ns:right"},
		"C": {Prop: "Top.base", Type: "ns:base"},
		"D": {Prop: "Top.other", Type: "ns:base"},
	})
	store.Define("left", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Left.base", Type: "ns:base"},
	})
	store.Define("right", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Right.base", Type: "ns:base"},
	})
	store.Define("base", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Base.name", Type: "string"},
	})

	defs := New(store).Load(context.Background(), "top")
	require.Len(t, defs, 1)
	assert.True(t, defs[0].Ok, defs[0].Errors)
	assert.Empty(t, errorTypes(defs[0]))
	for _, prop := range []string{"left", "right", "base", "other"} {
		column := defs[0].Column(prop)
		require.NotNil(t, column, prop)
		assert.Nil(t, column.Error, prop)
	}
}

func TestLoadDefaults(t *testing.T) {
	ctx := context.Background()
	store := fetch.NewMemory()
	store.Define("config", fetch.Ns{}, nil)
	require.NoError(t, store.Apply(ctx, fetch.Changes{NS: "config", Cells: map[string]fetch.Cell{
		"B2": {Value: 42.0},
	}}))
	store.Define("rows", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Row.size", Type: "number", Default: 10.0},
		"B": {Prop: "Row.copy", Type: "cell:rows:A"},
		"C": {Prop: "Row.own", Type: "cell:rows:A", Default: 5.0},
		"D": {Prop: "Row.limit", Type: "number", DefaultRef: "cell:config:B2"},
		"E": {Prop: "Row.broken", Type: "number", DefaultRef: "cell:nowhere:A1"},
	})

	defs := New(store).Load(ctx, "rows")
	require.Len(t, defs, 1)
	row := defs[0]

	assert.Equal(t, 10.0, row.Column("copy").Default.Value)
	assert.Equal(t, 5.0, row.Column("own").Default.Value)

	limit := row.Column("limit").Default
	require.NotNil(t, limit)
	assert.True(t, limit.IsRef())
	assert.Equal(t, 42.0, limit.Value)

	assert.Nil(t, row.Column("broken").Default)
	assert.Equal(t, []sheeterr.Type{sheeterr.TypeDefFetch}, errorTypes(row))
}

func TestReadsAreMemoised(t *testing.T) {
	ctx := context.Background()
	store := fetch.NewMemory()
	store.Define("users", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "User.name", Type: "string"},
	})
	store.Define("posts", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Post.author", Type: "ns:users"},
		"B": {Prop: "Post.editor", Type: "ns:users"},
	})
	client := New(store)

	client.Load(ctx, "posts")
	client.Load(ctx, "posts")
	assert.Equal(t, 2, store.Calls(fetch.MethodGetType))
	assert.Equal(t, 2, store.Calls(fetch.MethodGetColumns))

	client.Reset()
	client.Load(ctx, "posts")
	assert.Equal(t, 4, store.Calls(fetch.MethodGetType))
}

func TestResetRereadsNamespaces(t *testing.T) {
	ctx := context.Background()
	store := fetch.NewMemory()
	client := New(store)

	defs := client.Load(ctx, "late")
	assert.False(t, defs[0].Ok)

	store.Define("late", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "Late.x", Type: "string"},
	})
	client.Reset()
	defs = client.Load(ctx, "late")
	require.Len(t, defs, 1)
	assert.True(t, defs[0].Ok)
}

func TestConcurrentLoads(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("users", fetch.Ns{}, map[string]fetch.Column{
		"A": {Prop: "User.name", Type: "string"},
	})
	client := New(store)

	var wg sync.WaitGroup
	results := make([][]*types.NsTypeDef, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = client.Load(context.Background(), "users")
		}(i)
	}
	wg.Wait()

	for _, defs := range results {
		require.Len(t, defs, 1)
		assert.True(t, defs[0].Ok)
	}
	assert.LessOrEqual(t, store.Calls(fetch.MethodGetType), len(results))
}

func TestMaxDepth(t *testing.T) {
	store := fetch.NewMemory()
	store.Define("a", fetch.Ns{}, map[string]fetch.Column{"A": {Prop: "A.x", Type: "ns:b"}})
	store.Define("b", fetch.Ns{}, map[string]fetch.Column{"A": {Prop: "B.x", Type: "ns:c"}})
	store.Define("c", fetch.Ns{}, map[string]fetch.Column{"A": {Prop: "C.x", Type: "string"}})

	defs := New(store, WithMaxDepth(2)).Load(context.Background(), "a")
	require.Len(t, defs, 1)
	assert.False(t, defs[0].Ok)
	assert.Equal(t, []sheeterr.Type{sheeterr.TypeDef}, errorTypes(defs[0]))
}
