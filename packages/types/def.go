package types

import (
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
)

// Target says where a column's value is stored.
type Target string

const (
	// TargetInline stores the value in the cell's value.
	TargetInline Target = "inline"
	// TargetRef stores a link to another namespace in the cell's links.
	TargetRef Target = "ref"
)

// InlineProp targets a named entry of the cell's props.
func InlineProp(prop string) Target {
	return Target(string(TargetInline) + ":" + prop)
}

// IsInline reports whether the value lives in the cell itself.
func (t Target) IsInline() bool {
	return t == TargetInline || strings.HasPrefix(string(t), string(TargetInline)+":")
}

// Prop returns the cell prop of an "inline:<prop>" target.
func (t Target) Prop() string {
	_, prop, _ := strings.Cut(string(t), ":")
	return prop
}

// Default is a declared default value. Ref, when set, is a "cell:" URI
// whose value is the default.
type Default struct {
	Value any
	Ref   string
}

// IsRef reports whether the default is read from another cell.
func (d *Default) IsRef() bool {
	return d != nil && d.Ref != ""
}

// ColumnDef is the type definition of one column of a namespace.
type ColumnDef struct {
	Column   string
	Prop     string
	Optional bool
	Type     Type
	Target   Target
	Default  *Default
	Error    *sheeterr.TypeError
}

// NsTypeDef is the type definition of one typename hosted by a namespace.
type NsTypeDef struct {
	Ok       bool
	URI      string
	Typename string
	Columns  []*ColumnDef
	Errors   []*sheeterr.TypeError
}

// Column returns the definition of a prop, or nil.
func (d *NsTypeDef) Column(prop string) *ColumnDef {
	for _, c := range d.Columns {
		if c.Prop == prop {
			return c
		}
	}
	return nil
}
