package coord

import (
	"fmt"
	"strings"
)

const (
	NsPrefix   = "ns:"
	CellPrefix = "cell:"
)

// IsValidID reports whether id is a usable namespace identifier.
func IsValidID(id string) bool {
	if id == "" {
		return false
	}
	for _, ch := range id {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-', ch == '_', ch == '.':
		default:
			return false
		}
	}
	return true
}

// NsURI returns the namespace URI for an id. Values already carrying the
// "ns:" prefix are returned unchanged.
func NsURI(id string) string {
	if strings.HasPrefix(id, NsPrefix) {
		return id
	}
	return NsPrefix + id
}

// NsRef is a parsed namespace URI, optionally selecting a typename:
// "ns:foo" or "ns:foo/MyRow".
type NsRef struct {
	ID       string
	Typename string
}

// URI returns the namespace URI without the typename selector.
func (r NsRef) URI() string {
	return NsPrefix + r.ID
}

func (r NsRef) String() string {
	if r.Typename == "" {
		return r.URI()
	}
	return r.URI() + "/" + r.Typename
}

// ParseNs parses "ns:foo", "ns:foo/MyRow" or a bare id "foo".
func ParseNs(input string) (NsRef, error) {
	s := strings.TrimSpace(input)
	if strings.HasPrefix(s, CellPrefix) {
		return NsRef{}, fmt.Errorf("not a namespace uri: %q", input)
	}
	s = strings.TrimPrefix(s, NsPrefix)

	var ref NsRef
	if i := strings.Index(s, "/"); i >= 0 {
		ref.ID, ref.Typename = s[:i], s[i+1:]
		if ref.Typename == "" {
			return NsRef{}, fmt.Errorf("missing typename in %q", input)
		}
	} else {
		ref.ID = s
	}
	if !IsValidID(ref.ID) {
		return NsRef{}, fmt.Errorf("invalid namespace id in %q", input)
	}
	return ref, nil
}

// IsNsURI reports whether s is a valid "ns:" URI.
func IsNsURI(s string) bool {
	if !strings.HasPrefix(s, NsPrefix) {
		return false
	}
	_, err := ParseNs(s)
	return err == nil
}

// CellRef is a parsed cell URI. Key may be a cell key ("A1"), a column
// ("A") or a row ("1").
type CellRef struct {
	NS  string
	Key string
}

// URI returns "cell:<ns-id>:<key>".
func (r CellRef) URI() string {
	return CellURI(r.NS, r.Key)
}

// IsColumn reports whether the reference addresses a whole column.
func (r CellRef) IsColumn() bool {
	return IsColumn(r.Key)
}

// CellURI returns "cell:<ns-id>:<key>" for a namespace id or URI.
func CellURI(ns, key string) string {
	return CellPrefix + strings.TrimPrefix(ns, NsPrefix) + ":" + key
}

// ParseCellURI parses "cell:<ns-id>:<key>". The returned NS is a full
// namespace URI.
func ParseCellURI(uri string) (CellRef, error) {
	s := strings.TrimSpace(uri)
	if !strings.HasPrefix(s, CellPrefix) {
		return CellRef{}, fmt.Errorf("not a cell uri: %q", uri)
	}
	s = strings.TrimPrefix(s, CellPrefix)
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return CellRef{}, fmt.Errorf("invalid cell uri: %q", uri)
	}
	id, key := s[:i], s[i+1:]
	if !IsValidID(id) {
		return CellRef{}, fmt.Errorf("invalid namespace id in %q", uri)
	}
	if !IsKey(key) && !IsColumn(key) && !isRow(key) {
		return CellRef{}, fmt.Errorf("invalid cell key in %q", uri)
	}
	return CellRef{NS: NsPrefix + id, Key: key}, nil
}

func isRow(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
