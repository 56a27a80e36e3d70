package fetch

import (
	"math/bits"

	"github.com/vogtb/go-spreadsheet/packages/coord"
)

// chunkKey indexes chunks in a worksheet
type chunkKey struct {
	chunkRow int
	chunkCol int
}

const (
	chunkRows = 64                    // rows per chunk
	chunkCols = 64                    // columns per chunk
	chunkSize = chunkRows * chunkCols // 4096 cells per chunk
)

// worksheet is sparse cell storage for one namespace.
//
// cells are partitioned into 64x64 chunks, allocated only for regions that
// hold data. each chunk keeps a bitmap of occupied positions so scans skip
// empty cells without touching them.
type worksheet struct {
	chunks     map[chunkKey]*chunk
	totalCells int
}

type chunk struct {
	cells          []Cell
	occupiedBitmap []uint64 // bit-packed, 64 positions per word
	nonEmptyCount  int
}

func newWorksheet() *worksheet {
	return &worksheet{chunks: make(map[chunkKey]*chunk)}
}

// locate returns the chunk key and the index within the chunk.
// column-first indexing, matching the scan order below.
func locate(c coord.Cell) (chunkKey, int) {
	key := chunkKey{chunkRow: c.Row / chunkRows, chunkCol: c.Column / chunkCols}
	localRow := c.Row % chunkRows
	localCol := c.Column % chunkCols
	return key, localCol*chunkRows + localRow
}

func (w *worksheet) get(c coord.Cell) (Cell, bool) {
	key, idx := locate(c)
	ch, exists := w.chunks[key]
	if !exists || !ch.occupied(idx) {
		return Cell{}, false
	}
	return ch.cells[idx], true
}

// set stores a cell. an empty cell removes the position.
func (w *worksheet) set(c coord.Cell, cell Cell) {
	if cell.Value == nil && len(cell.Props) == 0 && len(cell.Links) == 0 {
		w.remove(c)
		return
	}

	key, idx := locate(c)
	ch, exists := w.chunks[key]
	if !exists {
		ch = &chunk{
			cells:          make([]Cell, chunkSize),
			occupiedBitmap: make([]uint64, (chunkSize+63)/64),
		}
		w.chunks[key] = ch
	}
	if !ch.occupied(idx) {
		ch.nonEmptyCount++
		w.totalCells++
		ch.occupiedBitmap[idx/64] |= 1 << (idx % 64)
	}
	ch.cells[idx] = cell
}

func (w *worksheet) remove(c coord.Cell) {
	key, idx := locate(c)
	ch, exists := w.chunks[key]
	if !exists || !ch.occupied(idx) {
		return
	}
	ch.cells[idx] = Cell{}
	ch.occupiedBitmap[idx/64] &^= 1 << (idx % 64)
	ch.nonEmptyCount--
	w.totalCells--

	// drop empty chunks to release memory
	if ch.nonEmptyCount == 0 {
		delete(w.chunks, key)
	}
}

// scan calls fn for every stored cell inside region
func (w *worksheet) scan(region coord.Region, fn func(coord.Cell, Cell)) {
	if region.Empty() {
		return
	}
	for key, ch := range w.chunks {
		top, left := key.chunkRow*chunkRows, key.chunkCol*chunkCols
		if top > region.EndRow || top+chunkRows-1 < region.StartRow ||
			left > region.EndColumn || left+chunkCols-1 < region.StartColumn {
			continue
		}
		ch.each(func(idx int) {
			c := coord.Cell{Row: top + idx%chunkRows, Column: left + idx/chunkRows}
			if region.Contains(c) {
				fn(c, ch.cells[idx])
			}
		})
	}
}

// rows returns the number of rows up to and including the last stored row
func (w *worksheet) rows() int {
	last := -1
	for key, ch := range w.chunks {
		top := key.chunkRow * chunkRows
		if top+chunkRows-1 <= last {
			continue
		}
		ch.each(func(idx int) {
			last = max(last, top+idx%chunkRows)
		})
	}
	return last + 1
}

func (ch *chunk) occupied(idx int) bool {
	return ch.occupiedBitmap[idx/64]&(1<<(idx%64)) != 0
}

// each visits occupied positions in index order
func (ch *chunk) each(fn func(idx int)) {
	for word, bitsSet := range ch.occupiedBitmap {
		for bitsSet != 0 {
			pos := bits.TrailingZeros64(bitsSet)
			fn(word*64 + pos)
			bitsSet &= bitsSet - 1
		}
	}
}
