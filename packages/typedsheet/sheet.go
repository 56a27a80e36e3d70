// Package typedsheet is the typed data-cursor layer over namespaces: a
// Sheet resolves the type its namespace implements and hands out
// paginated Data cursors per typename, whose rows expose typed props
// backed by cells. REF props load the namespaces they point at as child
// sheets sharing the parent's pool, cache and event bus.
package typedsheet

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.alis.build/alog"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/events"
	"github.com/vogtb/go-spreadsheet/packages/fetch"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
	"github.com/vogtb/go-spreadsheet/packages/typecache"
	"github.com/vogtb/go-spreadsheet/packages/typeclient"
	"github.com/vogtb/go-spreadsheet/packages/types"
)

// DefaultPageSize is how many rows an open-ended range covers.
const DefaultPageSize = 500

// LoadArgs configures Load. Only NS and Fetch are required.
type LoadArgs struct {
	NS    string
	Fetch fetch.Fetcher
	// Events receives the sheet's events and drives cache updates. A
	// private bus is used when nil.
	Events *events.Bus
	// Pool shares sheets between loads. A private pool is used when nil.
	Pool *Pool
	// Types loads type definitions. A client over Fetch is used when nil.
	Types    *typeclient.Client
	PageSize int
}

// CreateArgs configures Create. NS defaults to a new "ns:<uuid>".
type CreateArgs struct {
	NS         string
	Implements string
	Fetch      fetch.Fetcher
	Events     *events.Bus
	Pool       *Pool
	Types      *typeclient.Client
	PageSize   int
}

// Sheet is a loaded namespace.
type Sheet struct {
	uri       string
	fetch     *typecache.Fetcher
	ownsFetch bool
	events    *events.Bus
	pool      *Pool
	client    *typeclient.Client
	pageSize  int

	mu       sync.Mutex
	defs     []*types.NsTypeDef
	errors   []*sheeterr.TypeError
	data     map[string]*Data
	disposed bool
}

// Load returns the sheet for a namespace, from the pool when already
// loaded. Type problems are reported by Ok and Errors; an error is only
// returned for invalid arguments.
func Load(ctx context.Context, args LoadArgs) (*Sheet, error) {
	if args.NS == "" {
		return nil, sheeterr.NewAppError(sheeterr.InvalidArgument, "namespace is required")
	}
	if args.Fetch == nil {
		return nil, sheeterr.NewAppError(sheeterr.InvalidArgument, "fetcher is required")
	}
	ref, err := coord.ParseNs(args.NS)
	if err != nil {
		return nil, sheeterr.NewAppError(sheeterr.InvalidArgument, err.Error())
	}
	uri := ref.URI()
	if args.Pool == nil {
		args.Pool = NewPool()
	}

	return args.Pool.load(uri, func() (*Sheet, error) {
		return newSheet(ctx, uri, args), nil
	})
}

// Create writes a new namespace implementing args.Implements and loads it.
// A pooled sheet for the same namespace is disposed first.
func Create(ctx context.Context, args CreateArgs) (*Sheet, error) {
	if args.Fetch == nil {
		return nil, sheeterr.NewAppError(sheeterr.InvalidArgument, "fetcher is required")
	}
	impl, err := coord.ParseNs(args.Implements)
	if err != nil {
		return nil, sheeterr.NewAppError(sheeterr.InvalidArgument, fmt.Sprintf("implements: %v", err))
	}
	ns := args.NS
	if ns == "" {
		ns = coord.NsURI(uuid.NewString())
	}
	ref, err := coord.ParseNs(ns)
	if err != nil {
		return nil, sheeterr.NewAppError(sheeterr.InvalidArgument, err.Error())
	}
	uri := ref.URI()
	if args.Pool == nil {
		args.Pool = NewPool()
	}
	if args.Events == nil {
		args.Events = events.New()
	}
	if old, ok := args.Pool.Sheet(uri); ok {
		old.Dispose()
	}
	if args.Types != nil {
		args.Types.Forget(uri)
	}

	change := &events.Change{Changes: fetch.Changes{NS: uri, Ns: &fetch.Ns{Implements: impl.String()}}}
	args.Events.Fire(events.SheetChange, change)
	args.Events.Fire(events.SheetChanged, change)
	alog.Debugf(ctx, "typedsheet: created %s implementing %s", uri, impl)

	return Load(ctx, LoadArgs{
		NS:       uri,
		Fetch:    args.Fetch,
		Events:   args.Events,
		Pool:     args.Pool,
		Types:    args.Types,
		PageSize: args.PageSize,
	})
}

func newSheet(ctx context.Context, uri string, args LoadArgs) *Sheet {
	bus := args.Events
	if bus == nil {
		bus = events.New()
	}
	_, wrapped := args.Fetch.(*typecache.Fetcher)
	f := typecache.Wrap(args.Fetch, typecache.WithEvents(bus))
	client := args.Types
	if client == nil {
		client = typeclient.New(f)
	}
	pageSize := args.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	s := &Sheet{
		uri:       uri,
		fetch:     f,
		ownsFetch: !wrapped,
		events:    bus,
		pool:      args.Pool,
		client:    client,
		pageSize:  pageSize,
		data:      make(map[string]*Data),
	}

	seen := map[*sheeterr.TypeError]bool{}
	for _, def := range client.Load(ctx, uri) {
		if def.Typename != "" {
			s.defs = append(s.defs, def)
		}
		for _, e := range def.Errors {
			if !seen[e] {
				seen[e] = true
				s.errors = append(s.errors, e)
			}
		}
	}
	alog.Debugf(ctx, "typedsheet: loaded %s with %d typenames and %d errors", uri, len(s.defs), len(s.errors))
	return s
}

// URI is the namespace URI of the sheet.
func (s *Sheet) URI() string {
	return s.uri
}

// Ok reports whether the type definitions loaded without errors.
func (s *Sheet) Ok() bool {
	return len(s.errors) == 0
}

func (s *Sheet) Errors() []*sheeterr.TypeError {
	return slices.Clone(s.errors)
}

// Types returns the definitions of the typenames the sheet holds.
func (s *Sheet) Types() []*types.NsTypeDef {
	return slices.Clone(s.defs)
}

// Pool returns the pool the sheet belongs to.
func (s *Sheet) Pool() *Pool {
	return s.pool
}

// Events returns the bus the sheet fires on.
func (s *Sheet) Events() *events.Bus {
	return s.events
}

// Data returns the cursor for typename, the same one on every call. An
// empty typename selects the only typename of the sheet.
func (s *Sheet) Data(typename string) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, errDisposed(s.uri)
	}
	def, err := s.def(typename)
	if err != nil {
		return nil, err
	}
	if d, ok := s.data[def.Typename]; ok {
		return d, nil
	}
	d := newData(s, def)
	s.data[def.Typename] = d
	return d, nil
}

func (s *Sheet) def(typename string) (*types.NsTypeDef, error) {
	if typename == "" {
		if len(s.defs) != 1 {
			return nil, sheeterr.NewAppError(sheeterr.InvalidArgument,
				fmt.Sprintf("%s holds %d typenames, one must be selected", s.uri, len(s.defs)))
		}
		return s.defs[0], nil
	}
	for _, def := range s.defs {
		if def.Typename == typename {
			return def, nil
		}
	}
	return nil, sheeterr.NewAppError(sheeterr.NotFound, fmt.Sprintf("typename %s not found in %s", typename, s.uri))
}

// Change requests a write of changes to the sheet's namespace. It fires
// TypedSheet/change for persistence and then TypedSheet/changed, which
// updates the cache and the loaded cursors.
func (s *Sheet) Change(ctx context.Context, changes fetch.Changes) error {
	if err := s.alive(); err != nil {
		return err
	}
	if changes.NS == "" {
		changes.NS = s.uri
	}
	if coord.NsURI(changes.NS) != s.uri {
		return sheeterr.NewAppError(sheeterr.InvalidArgument,
			fmt.Sprintf("change for %s applied to %s", changes.NS, s.uri))
	}
	changes.NS = s.uri

	change := &events.Change{Changes: changes}
	s.events.Fire(events.SheetChange, change)
	s.events.Fire(events.SheetChanged, change)
	alog.Debugf(ctx, "typedsheet: changed %d cells of %s", len(changes.Cells), s.uri)
	return nil
}

// Dispose releases the sheet's cursors and removes it from the pool. Any
// later call on the sheet fails with FailedPrecondition.
func (s *Sheet) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	data := s.data
	s.data = nil
	s.mu.Unlock()

	for _, d := range data {
		d.dispose()
	}
	s.pool.remove(s)
	if s.ownsFetch {
		s.fetch.Dispose()
	}
}

func (s *Sheet) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return errDisposed(s.uri)
	}
	return nil
}

// child returns the load arguments of a sheet sharing this one's
// collaborators.
func (s *Sheet) child(ns string) LoadArgs {
	return LoadArgs{
		NS:       ns,
		Fetch:    s.fetch,
		Events:   s.events,
		Pool:     s.pool,
		Types:    s.client,
		PageSize: s.pageSize,
	}
}

func errDisposed(uri string) error {
	return sheeterr.NewAppError(sheeterr.FailedPrecondition, fmt.Sprintf("sheet %s is disposed", uri))
}

// Store persists changes, e.g. *fetch.Memory.
type Store interface {
	Apply(ctx context.Context, changes fetch.Changes) error
}

// Persist applies every TypedSheet/change fired on bus to store until the
// returned func is called.
func Persist(bus *events.Bus, store Store) func() {
	return bus.Subscribe(func(e events.Event) {
		p, ok := e.Payload.(*events.Change)
		if !ok {
			return
		}
		ctx := context.Background()
		if err := store.Apply(ctx, p.Changes); err != nil {
			alog.Errorf(ctx, "typedsheet: persist %s: %v", p.Changes.NS, err)
		}
	}, events.SheetChange)
}
