package refs

import (
	"context"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/vogtb/go-spreadsheet/packages/events"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
)

// sheet is an in-memory cell source for tables under test
type sheet struct {
	mu    sync.Mutex
	cells map[string]any
}

func newSheet(cells map[string]any) *sheet {
	return &sheet{cells: maps.Clone(cells)}
}

func (s *sheet) set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[key] = value
}

func (s *sheet) table(bus *events.Bus) *Table {
	return NewTable(Config{
		GetKeys: func(context.Context) ([]string, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return slices.Collect(maps.Keys(s.cells)), nil
		},
		GetValue: func(_ context.Context, key string) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.cells[key], nil
		},
		Events: bus,
	})
}

func cellsOf(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.Cell
	}
	return out
}

func pathsOf(refs []Ref) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.Path
	}
	return out
}

type TableSuite struct {
	suite.Suite
	ctx   context.Context
	sheet *sheet
	bus   *events.Bus
	table *Table
}

func (s *TableSuite) SetupTest() {
	s.ctx = context.Background()
	s.sheet = newSheet(map[string]any{
		"A1": "=SUM(A2,C3)",
		"A2": 123,
		"C3": "=A2",
	})
	s.bus = events.New()
	s.table = s.sheet.table(s.bus)
}

func TestTableSuite(t *testing.T) {
	suite.Run(t, new(TableSuite))
}

func (s *TableSuite) TestOutgoing() {
	out, err := s.table.Outgoing(s.ctx)
	s.Require().NoError(err)

	s.Equal([]string{"A1/A2", "A1/C3", "A1/C3/A2"}, pathsOf(out["A1"]))
	s.Equal([]string{"A2", "C3", "A2"}, cellsOf(out["A1"]))
	s.Equal([]string{"C3/A2"}, pathsOf(out["C3"]))
	s.NotContains(out, "A2")
}

func (s *TableSuite) TestIncoming() {
	in, err := s.table.Incoming(s.ctx)
	s.Require().NoError(err)

	s.Equal([]string{"C3", "A1"}, cellsOf(in["A2"]))
	s.Equal([]string{"A1"}, cellsOf(in["C3"]))
	s.NotContains(in, "A1")

	in, err = s.table.Incoming(s.ctx, WithRange("C3"))
	s.Require().NoError(err)
	s.Len(in, 1)
	s.Contains(in, "C3")
}

func (s *TableSuite) TestReferenceSymmetry() {
	s.sheet.set("B1", "=A1&C3")
	s.sheet.set("D4", "=SUM(B1:B2)")

	res, err := s.table.Refs(s.ctx)
	s.Require().NoError(err)

	for source, refs := range res.Out {
		for _, ref := range refs {
			s.Contains(cellsOf(res.In[ref.Cell]), source, "in[%s] should hold %s", ref.Cell, source)
		}
	}
}

func (s *TableSuite) TestRangeNarrowing() {
	s.sheet.set("B1", "=A1+C3")
	full, err := s.sheet.table(nil).Outgoing(s.ctx)
	s.Require().NoError(err)

	for _, key := range []string{"A1", "B1", "C3"} {
		narrowed, err := s.sheet.table(nil).Outgoing(s.ctx, WithRange(key+":"+key))
		s.Require().NoError(err)
		s.Equal(full[key], narrowed[key])
		s.Len(narrowed, 1)
	}
}

func (s *TableSuite) TestCacheIdentity() {
	first, err := s.table.Outgoing(s.ctx)
	s.Require().NoError(err)
	second, err := s.table.Outgoing(s.ctx)
	s.Require().NoError(err)
	s.Same(&first["A1"][0], &second["A1"][0])
	s.Same(&first["C3"][0], &second["C3"][0])

	_, err = s.table.Outgoing(s.ctx, WithRange("C3"), WithForce())
	s.Require().NoError(err)
	third, err := s.table.Outgoing(s.ctx)
	s.Require().NoError(err)
	s.Same(&first["A1"][0], &third["A1"][0])
	s.NotSame(&first["C3"][0], &third["C3"][0])
	s.Equal(first["C3"], third["C3"])
}

func (s *TableSuite) TestCircularSelf() {
	table := newSheet(map[string]any{"A1": "=A1"}).table(nil)
	out, err := table.Outgoing(s.ctx)
	s.Require().NoError(err)

	s.Require().Len(out["A1"], 1)
	ref := out["A1"][0]
	s.Equal("A1", ref.Cell)
	s.Require().NotNil(ref.Error)
	s.Equal(sheeterr.RefCircular, ref.Error.Type)
	s.Equal("A1/A1", ref.Error.Path)
	s.Require().Len(ref.Error.Children, 1)
	s.Equal("A1/A1", ref.Error.Children[0].Path)
}

func (s *TableSuite) TestCircularChain() {
	table := newSheet(map[string]any{
		"A1": "=B1",
		"B1": "=A1+1",
		"C1": "=A1",
	}).table(nil)
	out, err := table.Outgoing(s.ctx)
	s.Require().NoError(err)

	s.Equal([]string{"A1/B1", "A1/B1/A1"}, pathsOf(out["A1"]))
	s.Equal([]string{"C1/A1", "C1/A1/B1", "C1/A1/B1/A1"}, pathsOf(out["C1"]))

	errs := table.Errors()
	s.Equal([]string{"A1/B1/A1", "B1/A1/B1", "C1/A1/B1/A1"}, []string{errs[0].Path, errs[1].Path, errs[2].Path})
	for _, err := range errs {
		s.Len(err.Children, 3)
		s.True(err.Includes("A1"))
	}
}

func (s *TableSuite) TestRangesExpand() {
	table := newSheet(map[string]any{"A1": "=SUM(B1:C2)", "C2": "=D9"}).table(nil)
	out, err := table.Outgoing(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"B1", "C1", "B2", "C2", "D9"}, cellsOf(out["A1"]))
}

func (s *TableSuite) TestNoopUpdate() {
	var updates int
	s.bus.Subscribe(func(events.Event) { updates++ }, events.RefsUpdate)

	before, err := s.table.Refs(s.ctx)
	s.Require().NoError(err)

	res, err := s.table.Update(s.ctx, Change{Key: "C3", From: "123", To: "123"})
	s.Require().NoError(err)
	s.True(res.Ok)
	s.Empty(res.Changed)
	s.Empty(res.Keys)
	s.Empty(res.Errors)

	res, err = s.table.Update(s.ctx, Change{Key: "A2", From: 1, To: 2})
	s.Require().NoError(err)
	s.Empty(res.Changed)

	after, err := s.table.Refs(s.ctx)
	s.Require().NoError(err)
	s.Equal(before, after)
	s.Same(&before.Out["A1"][0], &after.Out["A1"][0])
	s.Zero(updates)
}

func (s *TableSuite) TestUpdate() {
	var fired []*events.RefsUpdated
	s.bus.Subscribe(func(e events.Event) {
		fired = append(fired, e.Payload.(*events.RefsUpdated))
	}, events.RefsUpdate)

	_, err := s.table.Refs(s.ctx)
	s.Require().NoError(err)

	s.sheet.set("B1", 5)
	s.sheet.set("C3", "=B1")
	res, err := s.table.Update(s.ctx, Change{Key: "C3", From: "=A2", To: "=B1"})
	s.Require().NoError(err)

	s.True(res.Ok)
	s.Equal([]string{"C3"}, res.Changed)
	s.Equal([]string{"A2", "B1", "C3", "A1"}, res.Keys)
	s.Equal([]string{"A1/A2", "A1/C3", "A1/C3/B1"}, pathsOf(res.Refs.Out["A1"]))
	s.Equal([]string{"C3", "A1"}, cellsOf(res.Refs.In["B1"]))
	s.Equal([]string{"A1"}, cellsOf(res.Refs.In["A2"]))

	s.Require().Len(fired, 1)
	s.Equal([]string{"C3"}, fired[0].Changed)
}

func (s *TableSuite) TestUpdateCircular() {
	_, err := s.table.Refs(s.ctx)
	s.Require().NoError(err)

	s.sheet.set("A2", "=A1")
	res, err := s.table.Update(s.ctx, Change{Key: "A2", From: 123, To: "=A1"})
	s.Require().NoError(err)

	s.False(res.Ok)
	s.NotEmpty(res.Errors)
	for _, e := range res.Errors {
		s.Equal(sheeterr.RefCircular, e.Type)
	}
	s.Contains(res.Keys, "A1")
	s.Contains(res.Keys, "C3")
}

func (s *TableSuite) TestModifiableEvents() {
	s.bus.Subscribe(func(e events.Event) {
		switch p := e.Payload.(type) {
		case *events.GetKeys:
			p.Modify(append(p.Keys, "E5"))
		case *events.GetValue:
			if p.Key == "E5" {
				p.Modify("=A1")
			}
		}
	}, events.RefsGetKeys, events.RefsGetValue)

	out, err := s.table.Outgoing(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"E5/A1", "E5/A1/A2", "E5/A1/C3", "E5/A1/C3/A2"}, pathsOf(out["E5"]))
}

func (s *TableSuite) TestSort() {
	table := newSheet(map[string]any{
		"A1": "=SUM(A2,A4)",
		"A2": "=A3",
		"A3": "=SUM(A4,100)",
		"A4": 999,
	}).table(nil)

	sorted, err := table.Sort(s.ctx, []string{"A1", "A2", "A3", "A4"})
	s.Require().NoError(err)
	s.Equal([]string{"A4", "A3", "A2", "A1"}, sorted)

	sorted, err = table.Sort(s.ctx, []string{"A2", "Z1", "A1"})
	s.Require().NoError(err)
	s.Equal([]string{"A2", "A1", "Z1"}, sorted)
}

func (s *TableSuite) TestReset() {
	first, err := s.table.Outgoing(s.ctx)
	s.Require().NoError(err)

	s.table.Reset(WithCache(CacheIn))
	second, err := s.table.Outgoing(s.ctx)
	s.Require().NoError(err)
	s.Same(&first["A1"][0], &second["A1"][0])

	s.table.Reset()
	third, err := s.table.Outgoing(s.ctx)
	s.Require().NoError(err)
	s.NotSame(&first["A1"][0], &third["A1"][0])
	s.Equal(first, third)
}

func (s *TableSuite) TestIncomingForceRereadsFormulas() {
	s.sheet.set("B1", "=A2")
	in, err := s.table.Incoming(s.ctx)
	s.Require().NoError(err)
	s.Contains(cellsOf(in["A2"]), "B1")

	s.sheet.set("B1", "=D4")
	in, err = s.table.Incoming(s.ctx, WithForce())
	s.Require().NoError(err)
	s.NotContains(cellsOf(in["A2"]), "B1")
	s.Equal([]string{"B1"}, cellsOf(in["D4"]))

	out, err := s.table.Outgoing(s.ctx, WithRange("B1"))
	s.Require().NoError(err)
	s.Equal([]string{"D4"}, cellsOf(out["B1"]))
}

func (s *TableSuite) TestIncomingWithOutRefs() {
	in, err := s.table.Incoming(s.ctx, WithOutRefs(Map{
		"B2": {{Cell: "Z1", Path: "B2/Z1"}},
	}))
	s.Require().NoError(err)
	s.Equal(Map{"Z1": {{Cell: "B2", Path: "B2/Z1"}}}, in)
}

func (s *TableSuite) TestInvalidRange() {
	_, err := s.table.Outgoing(s.ctx, WithRange("nope"))
	s.Error(err)
}
