package formula

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
)

func TestParserBasicFormulas(t *testing.T) {
	tests := []struct {
		formula string
		want    string
	}{
		{"=1+2", "(1+2)"},
		{"=1+2*3", "(1+(2*3))"},
		{"=(1+2)*3", "((1+2)*3)"},
		{"=2^3^2", "(2^(3^2))"},
		{"=-A1", "-A1"},
		{"=--1", "--1"},
		{"=10%", "(10%)"},
		{"=5%3", "(5%3)"},
		{"=a1", "A1"},
		{"=SUM(A1:A10)", "SUM(A1:A10)"},
		{"=SUM(b3:a1)", "SUM(A1:B3)"},
		{"=sum(A1, 2)", "SUM(A1,2)"},
		{"=math.sum(A1)", "math.SUM(A1)"},
		{"=PI()", "PI()"},
		{"=log10(100)", "LOG10(100)"},
		{`=A1&"x"`, `(A1&"x")`},
		{`="say ""hi"""`, `"say ""hi"""`},
		{"=A1<>B1", "(A1<>B1)"},
		{"=A1!=B1", "(A1<>B1)"},
		{"=A1<=B1", "(A1<=B1)"},
		{"=1=1", "(1=1)"},
		{"=true", "TRUE"},
		{"=1.5e3", "1500"},
		{"=0.25", "0.25"},
		{`="Hello 世界"`, `"Hello 世界"`},
		{"=IF(A1>0, \"pos\", \"neg\")", `IF((A1>0),"pos","neg")`},
	}

	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			node, err := Parse(tt.formula)
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.String())
		})
	}
}

func TestParserInvalidFormulas(t *testing.T) {
	invalidFormulas := []string{
		"",
		"=",
		"1+2",
		"=SUM(",
		"=SUM(1,)",
		"=A1:",
		`="hello`,
		"=1+",
		"=1 2",
		"=)",
		"=(1))",
		"=foo",
		"=1!2",
	}

	for _, formula := range invalidFormulas {
		t.Run(formula, func(t *testing.T) {
			_, err := Parse(formula)
			require.Error(t, err)

			var valueErr *sheeterr.ValueError
			assert.True(t, errors.As(err, &valueErr))
		})
	}
}

func TestParserNodes(t *testing.T) {
	node, err := Parse("=ns.FN(A1, 2)")
	require.NoError(t, err)

	call, ok := node.(*FuncCall)
	require.True(t, ok)
	assert.Equal(t, "ns", call.Namespace)
	assert.Equal(t, "FN", call.Name)
	require.Len(t, call.Args, 2)
	assert.Equal(t, "A1", call.Args[0].(*CellRef).Key)
	assert.Equal(t, 2.0, call.Args[1].(*Literal).Value)
	assert.Equal(t, Position{Start: 1, End: 13}, call.Pos())

	node, err = Parse("=A1:B2")
	require.NoError(t, err)
	rng, ok := node.(*CellRange)
	require.True(t, ok)
	assert.Equal(t, []string{"A1", "B1", "A2", "B2"}, rng.Range.Keys())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		formula string
		want    Kind
	}{
		{"=A1", KindRef},
		{"=A1:B2", KindRange},
		{"=SUM(A1:B2)", KindFunc},
		{"=A1+1", KindFunc},
		{"=1", KindFunc},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			node, err := Parse(tt.formula)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Classify(node))
		})
	}
}

func TestWalk(t *testing.T) {
	node, err := Parse("=SUM(A1, B2:B3) + -C1")
	require.NoError(t, err)

	var refs []string
	Walk(node, func(n Node) bool {
		switch v := n.(type) {
		case *CellRef:
			refs = append(refs, v.Key)
		case *CellRange:
			refs = append(refs, v.Range.String())
		}
		return true
	})
	assert.Equal(t, []string{"A1", "B2:B3", "C1"}, refs)

	var visited int
	Walk(node, func(n Node) bool {
		visited++
		_, isCall := n.(*FuncCall)
		return !isCall
	})
	// binary, call (children skipped), unary, cell
	assert.Equal(t, 4, visited)
}

func TestIsFormula(t *testing.T) {
	assert.True(t, IsFormula("=A1"))
	assert.True(t, IsFormula("  =1+2"))
	assert.False(t, IsFormula("A1"))
	assert.False(t, IsFormula(123))
	assert.False(t, IsFormula(nil))
}

func TestTable(t *testing.T) {
	table := NewTable()

	a, err := table.Parse("=A1+1")
	require.NoError(t, err)
	b, err := table.Parse("= a1 + 1")
	require.NoError(t, err)
	assert.Same(t, a, b, "structurally equal formulas share one tree")

	_, err = table.Parse("=SUM(")
	require.Error(t, err)
	_, err = table.Parse("=SUM(")
	require.Error(t, err)

	_, err = table.Assign("B1", "=A1+1")
	require.NoError(t, err)
	_, err = table.Assign("B2", "=A1 + 1")
	require.NoError(t, err)
	_, err = table.Assign("B3", "=A2")
	require.NoError(t, err)
	assert.Equal(t, 2, table.Count())

	table.Release("B3")
	assert.Equal(t, 1, table.Count())

	_, err = table.Assign("B1", "=nope(")
	require.Error(t, err)
	table.Release("B2")
	assert.Equal(t, 0, table.Count())

	table.Clear()
	c, err := table.Parse("=A1+1")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestTableDropsReleasedFormulas(t *testing.T) {
	table := NewTable()

	for i := range 1000 {
		_, err := table.Assign("A1", fmt.Sprintf("=B1+%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, table.Count())
	assert.Len(t, table.bySource, 1)
	assert.Len(t, table.astIndex, 1)
	assert.Len(t, table.formulas, 1)

	shared, err := table.Assign("A2", "=B1 + 999")
	require.NoError(t, err)
	_, err = table.Assign("A1", "=C1")
	require.NoError(t, err)
	node, err := table.Parse("=B1+999")
	require.NoError(t, err)
	assert.Same(t, shared, node, "still held by A2")

	table.Release("A1")
	table.Release("A2")
	assert.Equal(t, 0, table.Count())
	assert.Empty(t, table.bySource)
	assert.Empty(t, table.formulas)
}

func TestTableBoundsUnheldSources(t *testing.T) {
	table := NewTable()
	held, err := table.Assign("A1", "=B1")
	require.NoError(t, err)

	for i := range 3 * maxLoose {
		_, err := table.Parse(fmt.Sprintf("=%d", i))
		require.NoError(t, err)
		_, err = table.Parse(fmt.Sprintf("=SUM(%d", i))
		require.Error(t, err)
	}
	assert.LessOrEqual(t, len(table.bySource), maxLoose+1)
	assert.LessOrEqual(t, len(table.formulas), maxLoose+1)

	node, err := table.Parse("=B1")
	require.NoError(t, err)
	assert.Same(t, held, node)
	assert.Equal(t, 1, table.Count())
}

func TestTableParseDuringClear(t *testing.T) {
	table := NewTable()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				node, err := table.Parse(fmt.Sprintf("=A%d+%d", w+1, i%10))
				assert.NoError(t, err)
				assert.NotNil(t, node)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			table.Clear()
		}
	}()
	wg.Wait()
}
