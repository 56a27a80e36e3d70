// Package coord converts between cell keys ("A1"), column letters, ranges
// and the URIs used to address namespaces and cells.
package coord

import (
	"fmt"
	"strconv"
	"strings"
)

// Cell is a 0-based cell position.
type Cell struct {
	Column int
	Row    int
}

// Key returns the A1-style key of the cell.
func (c Cell) Key() string {
	return ColumnName(c.Column) + strconv.Itoa(c.Row+1)
}

// ParseKey parses a cell key like "A1" into column and row indices
// (0-based).
func ParseKey(key string) (Cell, error) {
	if len(key) < 2 {
		return Cell{}, fmt.Errorf("invalid cell key: %q", key)
	}

	// find where letters end and numbers begin
	letterEnd := 0
	for i, ch := range key {
		if isLetter(ch) {
			letterEnd = i + 1
		} else {
			break
		}
	}
	if letterEnd == 0 || letterEnd == len(key) {
		return Cell{}, fmt.Errorf("invalid cell key: %q", key)
	}

	col, err := ColumnIndex(key[:letterEnd])
	if err != nil {
		return Cell{}, err
	}

	rowStr := key[letterEnd:]
	for _, ch := range rowStr {
		if ch < '0' || ch > '9' {
			return Cell{}, fmt.Errorf("invalid row number in %q", key)
		}
	}
	rowNum, err := strconv.Atoi(rowStr)
	if err != nil {
		return Cell{}, fmt.Errorf("invalid row number in %q: %w", key, err)
	}
	if rowNum < 1 {
		return Cell{}, fmt.Errorf("row number must be positive: %q", key)
	}
	return Cell{Column: col, Row: rowNum - 1}, nil
}

// IsKey reports whether s is a valid cell key.
func IsKey(s string) bool {
	_, err := ParseKey(s)
	return err == nil
}

// ColumnIndex parses column letters (A=0, B=1, ..., Z=25, AA=26, ...).
func ColumnIndex(letters string) (int, error) {
	if letters == "" {
		return 0, fmt.Errorf("empty column")
	}
	col := 0
	for _, ch := range strings.ToUpper(letters) {
		if ch < 'A' || ch > 'Z' {
			return 0, fmt.Errorf("invalid column: %q", letters)
		}
		col = col*26 + int(ch-'A'+1)
	}
	return col - 1, nil
}

// ColumnName is the inverse of ColumnIndex.
func ColumnName(index int) string {
	if index < 0 {
		return ""
	}
	var out []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		out = append(out, byte('A'+(n-1)%26))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// IsColumn reports whether s is made only of column letters.
func IsColumn(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !isLetter(ch) {
			return false
		}
	}
	return true
}

// ColumnOf returns the column letters of a key, or "" if key is invalid.
func ColumnOf(key string) string {
	c, err := ParseKey(key)
	if err != nil {
		return ""
	}
	return ColumnName(c.Column)
}

func isLetter(ch rune) bool {
	return ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z'
}
