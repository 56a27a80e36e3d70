// Package fetch defines the storage collaborator the sheet engine reads
// namespaces, columns and cells through, along with the records it returns.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"

	"dario.cat/mergo"
)

// Fetcher reads namespace data. Implementations must be safe for
// concurrent use.
type Fetcher interface {
	// GetNs returns namespace metadata, including the type it implements.
	GetNs(ctx context.Context, ns string) (*NsResponse, error)
	// GetColumns returns the column definitions of a namespace.
	GetColumns(ctx context.Context, ns string) (*ColumnsResponse, error)
	// GetCells returns the cells matching query ("1:500", "A:A", "B1:B3").
	GetCells(ctx context.Context, ns, query string, opts ...Option) (*CellsResponse, error)
	// GetType reports whether a namespace exists and what it implements.
	GetType(ctx context.Context, ns string) (*TypeResponse, error)
}

// Cell is the stored data of one cell.
type Cell struct {
	Value any               `json:"value,omitempty"`
	Props map[string]any    `json:"props,omitempty"`
	Links map[string]string `json:"links,omitempty"`
}

// Clone returns a copy that shares no maps with c.
func (c Cell) Clone() Cell {
	return Cell{Value: c.Value, Props: maps.Clone(c.Props), Links: maps.Clone(c.Links)}
}

// Merge applies patch to a copy of c: the value is replaced and props and
// links are merged key by key.
func (c Cell) Merge(patch Cell) (Cell, error) {
	out := c.Clone()
	out.Value = patch.Value
	src := Cell{Props: maps.Clone(patch.Props), Links: maps.Clone(patch.Links)}
	if err := mergo.Merge(&out, src, mergo.WithOverride); err != nil {
		return Cell{}, fmt.Errorf("merge cell: %w", err)
	}
	return out, nil
}

// Ns is namespace metadata.
type Ns struct {
	Implements string         `json:"implements,omitempty"`
	Props      map[string]any `json:"props,omitempty"`
}

// Column is the raw definition of a column. Prop is "Typename.prop", with
// a trailing "?" when optional. Default is a literal default value; when
// DefaultRef is set it names a "cell:" URI holding the default instead.
type Column struct {
	Prop       string `json:"prop,omitempty"`
	Type       string `json:"type,omitempty"`
	Target     string `json:"target,omitempty"`
	Default    any    `json:"default,omitempty"`
	DefaultRef string `json:"defaultRef,omitempty"`
}

type NsResponse struct {
	NS string
	Ns *Ns
}

type ColumnsResponse struct {
	NS      string
	Columns map[string]Column
}

// Total carries row counts. Rows is -1 when unknown.
type Total struct {
	Rows int
}

type CellsResponse struct {
	NS    string
	Cells map[string]Cell
	Total Total
}

type TypeResponse struct {
	NS         string
	Exists     bool
	Implements string
}

// Changes is a set of mutations to one namespace. Cells are patches
// applied with Cell.Merge; Ns, when set, replaces namespace metadata.
type Changes struct {
	NS    string
	Cells map[string]Cell
	Ns    *Ns
}

// Options configure a single fetch.
type Options struct {
	Force bool
}

type Option func(*Options)

// WithForce bypasses any cache between the caller and the store.
func WithForce() Option {
	return func(o *Options) { o.Force = true }
}

// ApplyOptions folds opts into an Options value.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Error is a failed fetch. Status follows HTTP status codes.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %d: %s", e.Status, e.Message)
}

// NotFound creates a 404 error for a namespace.
func NotFound(ns string) *Error {
	return &Error{Status: http.StatusNotFound, Message: fmt.Sprintf("namespace %q not found", ns)}
}

// IsNotFound reports whether err is a 404 fetch error.
func IsNotFound(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Status == http.StatusNotFound
}
