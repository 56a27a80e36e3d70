// Package events is the synchronous event bus the sheet engine reports its
// activity on. Subscribers run on the firing goroutine, so modifiable
// payloads (GetKeys, GetValue) can change the computation that fired them.
package events

import (
	"sync"
	"time"

	"github.com/vogtb/go-spreadsheet/packages/fetch"
)

// Type identifies an event.
type Type string

const (
	RefsGetKeys  Type = "REFS/table/getKeys"
	RefsGetValue Type = "REFS/table/getValue"
	RefsUpdate   Type = "REFS/table/update"

	FuncBegin     Type = "FUNC/begin"
	FuncEnd       Type = "FUNC/end"
	FuncManyBegin Type = "FUNC/many/begin"
	FuncManyEnd   Type = "FUNC/many/end"

	SheetLoading     Type = "TypedSheet/loading"
	SheetLoaded      Type = "TypedSheet/loaded"
	SheetChange      Type = "TypedSheet/change"
	SheetChanged     Type = "TypedSheet/changed"
	SheetSync        Type = "TypedSheet/sync"
	SheetRefsLoading Type = "TypedSheet/refs/loading"
	SheetRefsLoaded  Type = "TypedSheet/refs/loaded"
)

// Event is a fired event. Payload is one of the payload types below,
// always passed by pointer.
type Event struct {
	Type    Type
	Payload any
}

// Handler receives events.
type Handler func(Event)

// Bus delivers events synchronously in subscription order. A nil *Bus
// drops everything, so components can fire unconditionally.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id      int
	types   map[Type]bool
	handler Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers handler for the given types, or for every event when
// none are given. The returned func unsubscribes.
func (b *Bus) Subscribe(handler Handler, types ...Type) func() {
	if b == nil {
		return func() {}
	}
	sub := subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == sub.id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Fire delivers an event. Handlers may subscribe, unsubscribe or fire
// further events.
func (b *Bus) Fire(t Type, payload any) {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	e := Event{Type: t, Payload: payload}
	for _, s := range subs {
		if s.types == nil || s.types[t] {
			s.handler(e)
		}
	}
}

// GetKeys fires before the refs table computes its key universe. Handlers
// may replace the keys with Modify.
type GetKeys struct {
	Keys     []string
	modified bool
}

// Modify replaces the keys used for the computation.
func (p *GetKeys) Modify(keys []string) {
	p.Keys = keys
	p.modified = true
}

func (p *GetKeys) IsModified() bool { return p.modified }

// GetValue fires before the refs table reads a cell's value for parsing.
// Handlers may override the value with Modify.
type GetValue struct {
	Key      string
	Value    any
	modified bool
}

// Modify overrides the value used for the computation.
func (p *GetValue) Modify(value any) {
	p.Value = value
	p.modified = true
}

func (p *GetValue) IsModified() bool { return p.modified }

// RefsUpdated reports a refs table update that changed something.
type RefsUpdated struct {
	Changed []string
	Keys    []string
}

type FuncStarted struct {
	Eid     string
	Cell    string
	Formula string
}

type FuncEnded struct {
	Eid     string
	Cell    string
	Ok      bool
	Value   any
	Error   error
	Elapsed time.Duration
}

type ManyStarted struct {
	Eid   string
	Cells []string
}

type ManyEnded struct {
	Eid     string
	Ok      bool
	Count   int
	Elapsed time.Duration
}

// SheetLoad reports data cursor loads. Total is -1 while loading.
type SheetLoad struct {
	NS       string
	Typename string
	Range    string
	Total    int
}

// Change carries mutations for a namespace: TypedSheet/change requests a
// write, TypedSheet/changed reports an applied one and TypedSheet/sync
// reports one made elsewhere.
type Change struct {
	Changes fetch.Changes
}

type RefsLoad struct {
	NS    string
	Row   int
	Prop  string
	Child string
}
