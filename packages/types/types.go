// Package types parses the type declarations attached to namespace columns
// ("string[]", "ns:foo/MyRow", "'red' | 'blue'") into a small type tree,
// and serialises that tree back to its canonical string form.
package types

import (
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/coord"
)

// Kind discriminates the Type variants.
type Kind string

const (
	KindValue   Kind = "VALUE"
	KindEnum    Kind = "ENUM"
	KindRef     Kind = "REF"
	KindUnion   Kind = "UNION"
	KindUnknown Kind = "UNKNOWN"
)

// Type is a parsed type declaration. The variants are *ValueType,
// *EnumType, *RefType, *UnionType and *UnknownType.
type Type interface {
	Kind() Kind
	Typename() string
	IsArray() bool
	typ()
}

// primitive value typenames
const (
	String    = "string"
	Number    = "number"
	Boolean   = "boolean"
	Null      = "null"
	Undefined = "undefined"
)

// IsPrimitive reports whether name (without array suffix) is a VALUE
// typename.
func IsPrimitive(name string) bool {
	switch strings.TrimSuffix(strings.TrimSpace(name), "[]") {
	case String, Number, Boolean, Null, Undefined:
		return true
	}
	return false
}

// ValueType is a primitive.
type ValueType struct {
	Name  string
	Array bool
}

// EnumType is a literal value. Value excludes the quotes.
type EnumType struct {
	Value string
	Array bool
}

// RefScope says what a REF points at.
type RefScope string

const (
	ScopeNS     RefScope = "NS"
	ScopeColumn RefScope = "COLUMN"
)

// RefType points at another namespace ("ns:foo", "ns:foo/MyRow") or at a
// column of one ("cell:foo:A"). Types is filled in by the loader with the
// column definitions of the referenced type.
type RefType struct {
	URI   string
	Scope RefScope
	Array bool
	Types []*ColumnDef
}

// UnionType is an ordered list of alternatives. An array union is written
// "(a | b)[]".
type UnionType struct {
	Types []Type
	Array bool
}

// UnknownType is input the parser could not make sense of.
type UnknownType struct {
	Input string
}

func (*ValueType) typ()   {}
func (*EnumType) typ()    {}
func (*RefType) typ()     {}
func (*UnionType) typ()   {}
func (*UnknownType) typ() {}

func (*ValueType) Kind() Kind   { return KindValue }
func (*EnumType) Kind() Kind    { return KindEnum }
func (*RefType) Kind() Kind     { return KindRef }
func (*UnionType) Kind() Kind   { return KindUnion }
func (*UnknownType) Kind() Kind { return KindUnknown }

func (t *ValueType) IsArray() bool { return t.Array }
func (t *EnumType) IsArray() bool  { return t.Array }
func (t *RefType) IsArray() bool   { return t.Array }
func (t *UnionType) IsArray() bool { return t.Array }
func (*UnknownType) IsArray() bool { return false }

func (t *ValueType) Typename() string {
	return withArray(t.Name, t.Array)
}

func (t *EnumType) Typename() string {
	quote := "'"
	if strings.Contains(t.Value, "'") {
		quote = `"`
	}
	return withArray(quote+t.Value+quote, t.Array)
}

func (t *RefType) Typename() string {
	return withArray(t.URI, t.Array)
}

func (t *UnionType) Typename() string {
	return ToTypename(t)
}

func (t *UnknownType) Typename() string {
	return t.Input
}

// Namespace returns the "ns:<id>" URI the reference points into.
func (t *RefType) Namespace() string {
	if t.Scope == ScopeColumn {
		if cell, err := coord.ParseCellURI(t.URI); err == nil {
			return cell.NS
		}
		return ""
	}
	if ref, err := coord.ParseNs(t.URI); err == nil {
		return ref.URI()
	}
	return ""
}

// Selector returns the typename of an NS reference ("MyRow" for
// "ns:foo/MyRow") or the column of a COLUMN reference.
func (t *RefType) Selector() string {
	if t.Scope == ScopeColumn {
		if cell, err := coord.ParseCellURI(t.URI); err == nil {
			return cell.Key
		}
		return ""
	}
	if ref, err := coord.ParseNs(t.URI); err == nil {
		return ref.Typename
	}
	return ""
}

// Refs returns every REF reachable in t, in declaration order.
func Refs(t Type) []*RefType {
	var out []*RefType
	var walk func(Type)
	walk = func(t Type) {
		switch v := t.(type) {
		case *RefType:
			out = append(out, v)
		case *UnionType:
			for _, child := range v.Types {
				walk(child)
			}
		}
	}
	walk(t)
	return out
}

func withArray(s string, array bool) string {
	if array {
		return s + "[]"
	}
	return s
}
