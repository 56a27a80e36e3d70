package types

import "strings"

// TypenameOption configures ToTypename.
type TypenameOption func(*typenameOptions)

type typenameOptions struct {
	adjust func(t Type, typename string) string
}

// WithAdjust rewrites the typename of each VALUE, ENUM, REF and UNKNOWN
// node, e.g. to wrap references in a generic. Union grouping is not
// affected.
func WithAdjust(fn func(t Type, typename string) string) TypenameOption {
	return func(o *typenameOptions) { o.adjust = fn }
}

// ToTypename serialises t into its canonical form: unions are joined with
// " | ", array unions are written "(a | b)[]" and enums use single quotes.
func ToTypename(t Type, opts ...TypenameOption) string {
	var o typenameOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.serialize(t)
}

func (o *typenameOptions) serialize(t Type) string {
	if t == nil {
		return ""
	}
	union, ok := t.(*UnionType)
	if !ok {
		typename := t.Typename()
		if o.adjust != nil {
			typename = o.adjust(t, typename)
		}
		return typename
	}

	parts := make([]string, 0, len(union.Types))
	for _, child := range union.Types {
		if s := o.serialize(child); s != "" {
			parts = append(parts, s)
		}
	}
	joined := strings.Join(parts, " | ")
	if union.Array {
		return "(" + joined + ")[]"
	}
	return joined
}
