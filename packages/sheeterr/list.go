package sheeterr

import "sync"

// List accumulates TypeErrors. Errors added without an explicit type take
// the list's default type.
type List struct {
	mu          sync.Mutex
	defaultType Type
	items       []*TypeError
}

// ListOption customises a single error added to a List.
type ListOption func(*TypeError)

// WithType overrides the list's default error type.
func WithType(t Type) ListOption {
	return func(e *TypeError) { e.Type = t }
}

// WithColumn records the column the error relates to.
func WithColumn(column string) ListOption {
	return func(e *TypeError) { e.Column = column }
}

// WithChildren attaches nested errors.
func WithChildren(children ...*TypeError) ListOption {
	return func(e *TypeError) { e.Children = append(e.Children, children...) }
}

// NewList creates an empty error list.
func NewList(defaultType Type) *List {
	return &List{defaultType: defaultType}
}

// Add records an error for the namespace.
func (l *List) Add(ns, message string, opts ...ListOption) *TypeError {
	err := &TypeError{Type: l.defaultType, Message: message, NS: ns}
	for _, opt := range opts {
		opt(err)
	}
	l.mu.Lock()
	l.items = append(l.items, err)
	l.mu.Unlock()
	return err
}

// Append records already-built errors, keeping their types.
func (l *List) Append(errs ...*TypeError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, err := range errs {
		if err != nil {
			l.items = append(l.items, err)
		}
	}
}

// Items returns a copy of the accumulated errors.
func (l *List) Items() []*TypeError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*TypeError, len(l.items))
	copy(out, l.items)
	return out
}

// Ok is true when nothing has been added.
func (l *List) Ok() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items) == 0
}

// DefaultType is the type given to errors added without WithType.
func (l *List) DefaultType() Type {
	return l.defaultType
}
