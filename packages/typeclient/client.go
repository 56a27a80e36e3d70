// Package typeclient loads namespace type definitions: the columns a
// namespace declares, grouped by typename, with REF columns resolved into
// the definitions of the namespaces they point at. Problems found along the
// way are collected on the returned definitions and never abort a load.
package typeclient

import (
	"context"
	"fmt"
	"sync"

	"go.alis.build/alog"
	"golang.org/x/sync/singleflight"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/fetch"
)

// DefaultMaxDepth bounds how many namespaces deep a load may recurse.
const DefaultMaxDepth = 32

// Client loads type definitions through a fetcher. Raw namespace reads are
// shared between concurrent loads and memoised until Reset.
type Client struct {
	fetch    fetch.Fetcher
	maxDepth int

	group   singleflight.Group
	mu      sync.Mutex
	version int
	memo    map[string]*record
}

// Option configures a Client.
type Option func(*Client)

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(depth int) Option {
	return func(c *Client) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// New creates a client reading through f.
func New(f fetch.Fetcher, opts ...Option) *Client {
	c := &Client{
		fetch:    f,
		maxDepth: DefaultMaxDepth,
		memo:     make(map[string]*record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reset drops memoised namespace reads. Loads already in flight finish but
// their results are not kept.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.memo = make(map[string]*record)
}

// Forget drops the memoised read of one namespace, e.g. after it was
// created.
func (c *Client) Forget(ns string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.memo, coord.NsURI(ns))
}

// record is what one namespace contributes to a load.
type record struct {
	uri        string
	exists     bool
	implements string
	columns    map[string]fetch.Column
}

// read returns the type and columns of a namespace. Concurrent reads of the
// same namespace collapse into one fetch; failures are not memoised.
func (c *Client) read(ctx context.Context, uri string) (*record, error) {
	c.mu.Lock()
	version := c.version
	if rec, ok := c.memo[uri]; ok {
		c.mu.Unlock()
		return rec, nil
	}
	c.mu.Unlock()

	key := fmt.Sprintf("%d/%s", version, uri)
	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.fetchRecord(ctx, uri)
	})
	if err != nil {
		return nil, err
	}
	rec := v.(*record)
	if shared {
		alog.Debugf(ctx, "typeclient: shared read of %s", uri)
	}

	c.mu.Lock()
	if c.version == version {
		c.memo[uri] = rec
	}
	c.mu.Unlock()
	return rec, nil
}

func (c *Client) fetchRecord(ctx context.Context, uri string) (*record, error) {
	typ, err := c.fetch.GetType(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("get type %s: %w", uri, err)
	}
	rec := &record{uri: uri, exists: typ.Exists, implements: typ.Implements}
	if !rec.exists || rec.implements != "" {
		return rec, nil
	}

	cols, err := c.fetch.GetColumns(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("get columns %s: %w", uri, err)
	}
	rec.columns = cols.Columns
	return rec, nil
}
