package typedsheet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.alis.build/alog"
	"golang.org/x/sync/singleflight"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/events"
	"github.com/vogtb/go-spreadsheet/packages/fetch"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
	"github.com/vogtb/go-spreadsheet/packages/types"
)

// Status is the load state of a Data cursor. It only moves forward.
type Status string

const (
	StatusInit    Status = "INIT"
	StatusLoading Status = "LOADING"
	StatusLoaded  Status = "LOADED"
)

// Data is a paginated cursor over the rows of one typename. Rows are
// indexed from 0; ranges are written "start:end" with 1-based rows.
type Data struct {
	sheet   *Sheet
	def     *types.NsTypeDef
	columns map[string]bool

	loads singleflight.Group
	refs  singleflight.Group

	mu          sync.Mutex
	status      Status
	loaded      bool
	start, end  int // loaded extent, 1-based, 0 when nothing is loaded
	total       int
	rows        []*Row
	unsubscribe func()
}

func newData(s *Sheet, def *types.NsTypeDef) *Data {
	d := &Data{
		sheet:   s,
		def:     def,
		columns: make(map[string]bool, len(def.Columns)),
		status:  StatusInit,
		total:   -1,
	}
	for _, cd := range def.Columns {
		d.columns[cd.Column] = true
	}
	d.unsubscribe = s.events.Subscribe(d.onChange, events.SheetChanged, events.SheetSync)
	return d
}

// LoadOption configures Data.Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	rng   string
	force bool
}

// WithRange selects the rows to load: "1:100", "*:*" (the first page),
// "50:*" (a page from row 50) or "*:**" (every known row).
func WithRange(r string) LoadOption {
	return func(o *loadOptions) { o.rng = r }
}

// WithForce reads through the cache.
func WithForce() LoadOption {
	return func(o *loadOptions) { o.force = true }
}

// Def returns the type definition of the rows.
func (d *Data) Def() *types.NsTypeDef {
	return d.def
}

// Typename of the rows.
func (d *Data) Typename() string {
	return d.def.Typename
}

func (d *Data) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// IsLoaded stays true once a load has completed.
func (d *Data) IsLoaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Total is the number of rows, or -1 when unknown.
func (d *Data) Total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Range is the loaded extent, or the pending one before the first load.
func (d *Data) Range() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.start == 0 {
		return ""
	}
	return formatRange(d.start, d.end)
}

// Row returns the row at a 0-based index, or nil when it is not loaded.
func (d *Data) Row(i int) *Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.rows) {
		return nil
	}
	return d.rows[i]
}

// Rows returns the loaded rows. Rows outside every loaded range are nil.
func (d *Data) Rows() []*Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Row, len(d.rows))
	copy(out, d.rows)
	return out
}

// ExpandRange widens the loaded extent to include r. Before the first
// completed load it replaces the pending range instead.
func (d *Data) ExpandRange(r string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start, end, err := d.resolve(r)
	if err != nil {
		return "", err
	}
	d.expand(start, end)
	return formatRange(d.start, d.end), nil
}

// expand is ExpandRange on resolved bounds. callers hold d.mu.
func (d *Data) expand(start, end int) {
	if !d.loaded || d.start == 0 {
		d.start, d.end = start, end
		return
	}
	d.start = min(d.start, start)
	d.end = max(d.end, end)
}

// resolve turns a range into 1-based bounds. callers hold d.mu.
func (d *Data) resolve(r string) (int, int, error) {
	if r == "" {
		r = "*:*"
	}
	left, right, ok := strings.Cut(r, ":")
	if !ok {
		return 0, 0, sheeterr.NewAppError(sheeterr.InvalidArgument, fmt.Sprintf("invalid range %q", r))
	}

	start := 1
	if left != "*" {
		n, err := strconv.Atoi(left)
		if err != nil || n < 1 {
			return 0, 0, sheeterr.NewAppError(sheeterr.InvalidArgument, fmt.Sprintf("invalid range start %q", r))
		}
		start = n
	}

	var end int
	switch right {
	case "*":
		end = start + d.sheet.pageSize - 1
	case "**":
		end = max(d.total, d.sheet.pageSize, start)
	default:
		n, err := strconv.Atoi(right)
		if err != nil || n < start {
			return 0, 0, sheeterr.NewAppError(sheeterr.InvalidArgument, fmt.Sprintf("invalid range end %q", r))
		}
		end = n
	}
	return start, end, nil
}

// Load fetches a range of rows, the first page by default. Concurrent
// loads of the same range share one fetch.
func (d *Data) Load(ctx context.Context, opts ...LoadOption) error {
	if err := d.sheet.alive(); err != nil {
		return err
	}
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	d.mu.Lock()
	start, end, err := d.resolve(o.rng)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.expand(start, end)
	if d.status == StatusInit {
		d.status = StatusLoading
	}
	d.mu.Unlock()

	query := formatRange(start, end)
	_, err, shared := d.loads.Do(fmt.Sprintf("%s/%t", query, o.force), func() (any, error) {
		return nil, d.fetch(ctx, query, start, end, o.force)
	})
	if shared {
		alog.Debugf(ctx, "typedsheet: shared load of %s %s", d.sheet.uri, query)
	}
	return err
}

func (d *Data) fetch(ctx context.Context, query string, start, end int, force bool) error {
	s := d.sheet
	s.events.Fire(events.SheetLoading, &events.SheetLoad{NS: s.uri, Typename: d.def.Typename, Range: query, Total: -1})

	var opts []fetch.Option
	if force {
		opts = append(opts, fetch.WithForce())
	}
	res, err := s.fetch.GetCells(ctx, s.uri, query, opts...)
	if err != nil {
		d.mu.Lock()
		if !d.loaded {
			d.status = StatusInit
		}
		d.mu.Unlock()
		return fmt.Errorf("load %s %s: %w", s.uri, query, err)
	}

	total := d.apply(res, start, end)
	s.events.Fire(events.SheetLoaded, &events.SheetLoad{NS: s.uri, Typename: d.def.Typename, Range: query, Total: total})
	alog.Debugf(ctx, "typedsheet: loaded %s %s of %s, total %d", d.def.Typename, query, s.uri, total)
	return nil
}

// apply stores fetched rows. Rows whose cells did not change keep their
// identity.
func (d *Data) apply(res *fetch.CellsResponse, start, end int) int {
	grouped := d.byRow(res.Cells)
	known := res.Total.Rows

	d.mu.Lock()
	defer d.mu.Unlock()

	last := end - 1
	if known >= 0 {
		last = min(last, known-1)
	} else {
		found := -1
		for i := range grouped {
			found = max(found, i)
		}
		last = min(last, found)
	}
	for i := start - 1; i <= last; i++ {
		d.grow(i)
		cells := grouped[i]
		if old := d.rows[i]; old != nil && cmp.Equal(old.cells, cells, cmpopts.EquateEmpty()) {
			continue
		}
		d.rows[i] = newRow(d, i, cells)
	}

	if known >= 0 {
		d.total = max(known, len(d.rows))
	} else {
		d.total = -1
	}
	d.status = StatusLoaded
	d.loaded = true
	return d.total
}

// grow extends rows to hold index i. callers hold d.mu.
func (d *Data) grow(i int) {
	for len(d.rows) <= i {
		d.rows = append(d.rows, nil)
	}
}

// byRow groups cells of the typename's columns by 0-based row, keyed by
// column.
func (d *Data) byRow(cells map[string]fetch.Cell) map[int]map[string]fetch.Cell {
	out := map[int]map[string]fetch.Cell{}
	for key, cell := range cells {
		pos, err := coord.ParseKey(key)
		if err != nil {
			continue
		}
		column := coord.ColumnName(pos.Column)
		if !d.columns[column] {
			continue
		}
		if out[pos.Row] == nil {
			out[pos.Row] = map[string]fetch.Cell{}
		}
		out[pos.Row][column] = cell
	}
	return out
}

// onChange patches loaded rows with changes made to the namespace.
func (d *Data) onChange(e events.Event) {
	p, ok := e.Payload.(*events.Change)
	if !ok || coord.NsURI(p.Changes.NS) != d.sheet.uri || len(p.Changes.Cells) == 0 {
		return
	}
	grouped := d.byRow(p.Changes.Cells)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return
	}
	for i, patches := range grouped {
		if i < d.start-1 || i > d.end-1 {
			continue
		}
		var current map[string]fetch.Cell
		if i < len(d.rows) && d.rows[i] != nil {
			current = d.rows[i].cells
		}
		next := make(map[string]fetch.Cell, len(current)+len(patches))
		for column, cell := range current {
			next[column] = cell.Clone()
		}
		for column, patch := range patches {
			merged, err := next[column].Merge(patch)
			if err != nil {
				alog.Errorf(context.Background(), "typedsheet: patch %s row %d: %v", d.sheet.uri, i, err)
				continue
			}
			next[column] = merged
		}
		if cmp.Equal(current, next, cmpopts.EquateEmpty()) {
			continue
		}
		d.grow(i)
		d.rows[i] = newRow(d, i, next)
	}
	if d.total >= 0 {
		d.total = max(d.total, len(d.rows))
	}
}

func (d *Data) dispose() {
	d.unsubscribe()
}

func formatRange(start, end int) string {
	return strconv.Itoa(start) + ":" + strconv.Itoa(end)
}
