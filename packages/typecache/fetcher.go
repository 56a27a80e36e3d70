package typecache

import (
	"context"

	"go.alis.build/alog"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/events"
	"github.com/vogtb/go-spreadsheet/packages/fetch"
)

// Fetcher is a caching fetch.Fetcher. Responses handed out for GetNs,
// GetColumns and GetType are shared and must not be modified.
type Fetcher struct {
	inner       fetch.Fetcher
	cache       *Cache
	unsubscribe func()
}

var _ fetch.Fetcher = (*Fetcher)(nil)

type options struct {
	cache  *Cache
	events *events.Bus
}

// Option configures Wrap.
type Option func(*options)

// WithCache shares a cache between fetchers. A new one is created
// otherwise.
func WithCache(cache *Cache) Option {
	return func(o *options) { o.cache = cache }
}

// WithEvents keeps the cache in step with TypedSheet/sync and
// TypedSheet/changed events fired on bus.
func WithEvents(bus *events.Bus) Option {
	return func(o *options) { o.events = bus }
}

// Wrap returns a caching fetcher around f. Wrapping a *Fetcher returns it
// unchanged.
func Wrap(f fetch.Fetcher, opts ...Option) *Fetcher {
	if wrapped, ok := f.(*Fetcher); ok {
		return wrapped
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.cache == nil {
		o.cache = NewCache()
	}

	w := &Fetcher{inner: f, cache: o.cache, unsubscribe: func() {}}
	if o.events != nil {
		w.unsubscribe = o.events.Subscribe(w.onChange, events.SheetSync, events.SheetChanged)
	}
	return w
}

// Cache returns the cache the fetcher writes to.
func (f *Fetcher) Cache() *Cache {
	return f.cache
}

// Unwrap returns the wrapped fetcher.
func (f *Fetcher) Unwrap() fetch.Fetcher {
	return f.inner
}

// Dispose stops listening for events. The cache is kept.
func (f *Fetcher) Dispose() {
	f.unsubscribe()
}

func (f *Fetcher) onChange(e events.Event) {
	p, ok := e.Payload.(*events.Change)
	if !ok {
		return
	}
	ctx := context.Background()
	patched, err := f.cache.sync(p.Changes)
	if err != nil {
		alog.Errorf(ctx, "typecache: sync %s: %v", p.Changes.NS, err)
		return
	}
	alog.Debugf(ctx, "typecache: %s patched %d cells of %s", e.Type, patched, p.Changes.NS)
}

// cached reads method for ns through the cache. Errors are not cached, and
// neither is a result keep rejects.
func cached[T any](ctx context.Context, f *Fetcher, method fetch.Method, ns string, load func(context.Context, string) (*T, error), keep func(*T) bool) (*T, error) {
	k := key{method: method, ns: coord.NsURI(ns)}
	if v, ok := f.cache.get(k); ok {
		return v.(*T), nil
	}
	res, err := load(ctx, k.ns)
	if err != nil {
		return nil, err
	}
	if keep == nil || keep(res) {
		f.cache.set(k, res)
	}
	return res, nil
}

func (f *Fetcher) GetNs(ctx context.Context, ns string) (*fetch.NsResponse, error) {
	return cached(ctx, f, fetch.MethodGetNs, ns, f.inner.GetNs, nil)
}

func (f *Fetcher) GetColumns(ctx context.Context, ns string) (*fetch.ColumnsResponse, error) {
	return cached(ctx, f, fetch.MethodGetColumns, ns, f.inner.GetColumns, nil)
}

func (f *Fetcher) GetType(ctx context.Context, ns string) (*fetch.TypeResponse, error) {
	return cached(ctx, f, fetch.MethodGetType, ns, f.inner.GetType, func(res *fetch.TypeResponse) bool {
		return res.Exists
	})
}

// GetCells answers from memory when the query lies inside regions already
// fetched. fetch.WithForce always reads through and refreshes the cache.
func (f *Fetcher) GetCells(ctx context.Context, ns, query string, opts ...fetch.Option) (*fetch.CellsResponse, error) {
	uri := coord.NsURI(ns)
	regions, err := coord.ParseQuery(query)
	if err != nil {
		return f.inner.GetCells(ctx, uri, query, opts...)
	}

	if !fetch.ApplyOptions(opts...).Force {
		if res, ok := f.cache.lookup(uri, regions); ok {
			alog.Debugf(ctx, "typecache: %s %s served from memory", uri, query)
			return res, nil
		}
	}

	res, err := f.inner.GetCells(ctx, uri, query, opts...)
	if err != nil {
		return nil, err
	}
	f.cache.store(uri, regions, res)
	return filter(uri, res.Cells, res.Total, regions), nil
}
