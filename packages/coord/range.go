package coord

import (
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
)

// Unbounded marks an open edge of a Region.
const Unbounded = math.MaxInt32

// Range is a normalised rectangular range of cells, start <= end.
type Range struct {
	Start Cell
	End   Cell
}

// ParseRange parses "A1:B2". The corners may be given in any order.
func ParseRange(s string) (Range, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Range{}, fmt.Errorf("invalid range format: %q", s)
	}
	start, err := ParseKey(parts[0])
	if err != nil {
		return Range{}, fmt.Errorf("invalid start cell in range %q: %w", s, err)
	}
	end, err := ParseKey(parts[1])
	if err != nil {
		return Range{}, fmt.Errorf("invalid end cell in range %q: %w", s, err)
	}
	return NewRange(start, end), nil
}

// NewRange creates a range with start and end normalised so that start is
// always less than or equal to end.
func NewRange(a, b Cell) Range {
	return Range{
		Start: Cell{Column: min(a.Column, b.Column), Row: min(a.Row, b.Row)},
		End:   Cell{Column: max(a.Column, b.Column), Row: max(a.Row, b.Row)},
	}
}

// IsRange reports whether s is a valid "A1:B2" range.
func IsRange(s string) bool {
	_, err := ParseRange(s)
	return err == nil
}

func (r Range) String() string {
	return r.Start.Key() + ":" + r.End.Key()
}

// Contains reports whether the cell lies inside the range.
func (r Range) Contains(c Cell) bool {
	return c.Row >= r.Start.Row && c.Row <= r.End.Row &&
		c.Column >= r.Start.Column && c.Column <= r.End.Column
}

// Cells iterates the range row by row.
func (r Range) Cells() iter.Seq[Cell] {
	return func(yield func(Cell) bool) {
		for row := r.Start.Row; row <= r.End.Row; row++ {
			for col := r.Start.Column; col <= r.End.Column; col++ {
				if !yield(Cell{Column: col, Row: row}) {
					return
				}
			}
		}
	}
}

// Keys returns the keys of every cell in the range, row by row.
func (r Range) Keys() []string {
	keys := make([]string, 0, (r.End.Row-r.Start.Row+1)*(r.End.Column-r.Start.Column+1))
	for c := range r.Cells() {
		keys = append(keys, c.Key())
	}
	return keys
}

// Region is a rectangle whose edges may be Unbounded. It models fetch
// queries: "1:500" is every column of rows 1..500, "A:A" every row of
// column A, "B1:B3" a plain range.
type Region struct {
	StartRow    int
	EndRow      int
	StartColumn int
	EndColumn   int
}

// RegionOf converts a Range to a Region.
func RegionOf(r Range) Region {
	return Region{
		StartRow:    r.Start.Row,
		EndRow:      r.End.Row,
		StartColumn: r.Start.Column,
		EndColumn:   r.End.Column,
	}
}

// Contains reports whether the cell lies inside the region.
func (r Region) Contains(c Cell) bool {
	return c.Row >= r.StartRow && c.Row <= r.EndRow &&
		c.Column >= r.StartColumn && c.Column <= r.EndColumn
}

// Covers reports whether o lies entirely inside r.
func (r Region) Covers(o Region) bool {
	return o.StartRow >= r.StartRow && o.EndRow <= r.EndRow &&
		o.StartColumn >= r.StartColumn && o.EndColumn <= r.EndColumn
}

// Empty reports whether the region contains no cells.
func (r Region) Empty() bool {
	return r.EndRow < r.StartRow || r.EndColumn < r.StartColumn
}

// ParseQuery parses a cell query into regions. Supported forms are row
// ranges ("1:500"), column ranges ("A:C"), cell ranges ("A1:B2"), single
// keys ("A1") and comma separated lists of any of these.
func ParseQuery(query string) ([]Region, error) {
	var out []Region
	for _, part := range strings.Split(query, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		region, err := parseRegion(part)
		if err != nil {
			return nil, err
		}
		out = append(out, region)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty query")
	}
	return out, nil
}

func parseRegion(s string) (Region, error) {
	if !strings.Contains(s, ":") {
		c, err := ParseKey(s)
		if err != nil {
			return Region{}, err
		}
		return RegionOf(NewRange(c, c)), nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Region{}, fmt.Errorf("invalid query: %q", s)
	}
	left, right := parts[0], parts[1]

	// row range, 1-based
	if a, errA := strconv.Atoi(left); errA == nil {
		b, errB := strconv.Atoi(right)
		if errB != nil || a < 1 || b < 1 {
			return Region{}, fmt.Errorf("invalid row range: %q", s)
		}
		return Region{
			StartRow:    min(a, b) - 1,
			EndRow:      max(a, b) - 1,
			StartColumn: 0,
			EndColumn:   Unbounded,
		}, nil
	}

	// column range
	if IsColumn(left) && IsColumn(right) {
		a, _ := ColumnIndex(left)
		b, _ := ColumnIndex(right)
		return Region{
			StartRow:    0,
			EndRow:      Unbounded,
			StartColumn: min(a, b),
			EndColumn:   max(a, b),
		}, nil
	}

	r, err := ParseRange(s)
	if err != nil {
		return Region{}, err
	}
	return RegionOf(r), nil
}
