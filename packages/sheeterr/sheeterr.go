// Package sheeterr holds the error values produced by the sheet engine.
// Evaluation and loading errors are data: they are returned inside result
// records rather than as Go errors. Only API misuse is reported as an
// *AppError through the normal error return.
package sheeterr

import (
	"fmt"
	"strings"
)

// Type categorises an engine error.
type Type string

const (
	// formula and reference errors
	RefCircular           Type = "REF/circular"
	FuncNotFormula        Type = "FUNC/notFormula"
	FuncNotSupportedRange Type = "FUNC/notSupported/range"
	FuncNotFound          Type = "FUNC/notFound"
	FuncInvoke            Type = "FUNC/invoke"
	FuncParse             Type = "FUNC/parse"

	// namespace and type-definition errors
	NsRefCircular  Type = "REF_CIRCULAR"
	NsNotFound     Type = "NOT_FOUND"
	TypeDef        Type = "TYPE/def"
	TypeDefInvalid Type = "TYPE/def/invalid"
	TypeDefFetch   Type = "TYPE/def/fetch"
	Sheet          Type = "SHEET"
)

// RefError reports a circular reference discovered while walking formula
// references. Path is the slash-joined chain ending at the repeated cell.
type RefError struct {
	Type     Type
	Message  string
	Path     string
	Children []*RefError
}

func (e *RefError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Path)
}

// NewCircularRef creates a REF/circular error for the given path.
func NewCircularRef(path string) *RefError {
	return &RefError{
		Type:    RefCircular,
		Message: fmt.Sprintf("circular reference: %s", path),
		Path:    path,
	}
}

// Includes reports whether cell appears anywhere in the error's path.
func (e *RefError) Includes(cell string) bool {
	for _, part := range strings.Split(e.Path, "/") {
		if part == cell {
			return true
		}
	}
	return false
}

// Shallow returns a copy of the error without its children.
func (e *RefError) Shallow() *RefError {
	return &RefError{Type: e.Type, Message: e.Message, Path: e.Path}
}

// FuncError is the structured failure of a single formula evaluation.
type FuncError struct {
	Type     Type
	Message  string
	Cell     string
	Formula  string
	Path     string
	Children []*RefError
	Err      error
}

func (e *FuncError) Error() string {
	if e.Cell != "" {
		return fmt.Sprintf("%s: %s [%s]", e.Type, e.Message, e.Cell)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *FuncError) Unwrap() error {
	return e.Err
}

// NewFuncError creates a FuncError of the given type.
func NewFuncError(t Type, message string) *FuncError {
	return &FuncError{Type: t, Message: message}
}

// TypeError is a data-quality problem found while loading a namespace type
// definition. It never aborts the load.
type TypeError struct {
	Type     Type
	Message  string
	NS       string
	Column   string
	Children []*TypeError
}

func (e *TypeError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.NS != "" {
		b.WriteString(" [")
		b.WriteString(e.NS)
		if e.Column != "" {
			b.WriteString(":")
			b.WriteString(e.Column)
		}
		b.WriteString("]")
	}
	return b.String()
}
