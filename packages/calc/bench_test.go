package calc

import (
	"context"
	"fmt"
	"testing"
)

func benchValues(cells map[string]any) GetValue {
	return func(_ context.Context, key string) (any, error) {
		return cells[key], nil
	}
}

func BenchmarkLargeRangeSUM(b *testing.B) {
	cells := map[string]any{"B1": "=SUM(A1:A1000)"}
	for i := 1; i <= 1000; i++ {
		cells[fmt.Sprintf("A%d", i)] = float64(i)
	}
	registry := Builtins()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := One(ctx, OneArgs{Cell: "B1", GetValue: benchValues(cells), GetFunc: registry.GetFunc})
		if !res.Ok {
			b.Fatal(res.Error)
		}
	}
}

func BenchmarkComplexNestedFormulas(b *testing.B) {
	cells := map[string]any{}
	for i := 1; i <= 20; i++ {
		cells[fmt.Sprintf("A%d", i)] = float64(i)
		cells[fmt.Sprintf("B%d", i)] = float64(i * 2)
		cells[fmt.Sprintf("C%d", i)] = fmt.Sprintf("=IF(A%d>10, SUM(A%d:B%d)*2, AVERAGE(A%d:B%d)+MAX(A%d, B%d))", i, i, i, i, i, i, i)
	}
	registry := Builtins()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := Many(ctx, ManyArgs{Cells: []string{"C1", "C20"}, GetValue: benchValues(cells), GetFunc: registry.GetFunc})
		if !res.Ok {
			b.Fatal("evaluation failed")
		}
	}
}

func BenchmarkFormulaDependencyChain(b *testing.B) {
	cells := map[string]any{"A1": 1.0}
	for i := 2; i <= 100; i++ {
		cells[fmt.Sprintf("A%d", i)] = fmt.Sprintf("=A%d+1", i-1)
	}
	registry := Builtins()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := One(ctx, OneArgs{Cell: "A100", GetValue: benchValues(cells), GetFunc: registry.GetFunc})
		if !res.Ok {
			b.Fatal(res.Error)
		}
	}
}
