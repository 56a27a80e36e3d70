package refs

import (
	"fmt"

	"github.com/vogtb/go-spreadsheet/packages/coord"
)

// Cache names one of the table's caches.
type Cache string

const (
	CacheIn  Cache = "IN"
	CacheOut Cache = "OUT"
)

// Option configures a table operation.
type Option func(*options)

type options struct {
	rangeQuery string
	regions    []coord.Region
	force      bool
	outRefs    Map
	caches     []Cache
	only       map[string]bool
}

// WithRange limits the operation to the cells of a query: "A1:B9", "A1",
// "1:5", "A:A" or a comma separated list.
func WithRange(query string) Option {
	return func(o *options) { o.rangeQuery = query }
}

// WithForce recomputes the requested cells instead of reading the cache.
func WithForce() Option {
	return func(o *options) { o.force = true }
}

// WithOutRefs makes Incoming transpose the given outgoing refs instead of
// the table's own.
func WithOutRefs(out Map) Option {
	return func(o *options) { o.outRefs = out }
}

// WithCache selects the caches Reset clears.
func WithCache(caches ...Cache) Option {
	return func(o *options) { o.caches = append(o.caches, caches...) }
}

func applyOptions(opts []Option) (options, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.rangeQuery != "" {
		regions, err := coord.ParseQuery(o.rangeQuery)
		if err != nil {
			return o, fmt.Errorf("invalid range %q: %w", o.rangeQuery, err)
		}
		o.regions = regions
	}
	return o, nil
}

func (o options) inRange(key string) bool {
	if o.regions == nil {
		return true
	}
	c, err := coord.ParseKey(key)
	if err != nil {
		return false
	}
	for _, r := range o.regions {
		if r.Contains(c) {
			return true
		}
	}
	return false
}
