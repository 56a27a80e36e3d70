package typeclient

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/iancoleman/strcase"
	"go.alis.build/alog"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/fetch"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
	"github.com/vogtb/go-spreadsheet/packages/types"
)

// visit is one namespace on the path from the root of a load.
type visit struct {
	ns    string
	level int
}

type chain []visit

// seen reports whether ns was already entered at the same or a shallower
// level. Only the current path counts, so a namespace reached through two
// sibling columns loads twice and is not circular.
func (c chain) seen(ns string, level int) bool {
	for _, v := range c {
		if v.ns == ns && v.level <= level {
			return true
		}
	}
	return false
}

func (c chain) String() string {
	parts := make([]string, 0, len(c))
	for _, v := range c {
		parts = append(parts, v.ns)
	}
	return strings.Join(parts, " > ")
}

// Load returns one definition per typename declared by ns ("ns:foo",
// "ns:foo/MyRow" or "foo"). A namespace that implements another one is
// defined by that namespace's columns. Errors are carried on the
// definitions; a namespace that cannot be read at all yields a single
// definition with Ok false.
func (c *Client) Load(ctx context.Context, ns string) []*types.NsTypeDef {
	defs := c.load(ctx, ns, nil)
	for _, def := range defs {
		if !def.Ok {
			alog.Warnf(ctx, "typeclient: %s loaded with %d errors", def.URI, len(def.Errors))
		}
	}
	return defs
}

func (c *Client) load(ctx context.Context, ns string, path chain) []*types.NsTypeDef {
	errs := sheeterr.NewList(sheeterr.TypeDef)
	ref, err := coord.ParseNs(ns)
	if err != nil {
		errs.Add(ns, err.Error(), sheeterr.WithType(sheeterr.TypeDefInvalid))
		return failed(ns, errs)
	}
	uri := ref.URI()
	level := len(path)

	if path.seen(uri, level) {
		errs.Add(uri, fmt.Sprintf("circular namespace reference: %s > %s", path, uri), sheeterr.WithType(sheeterr.NsRefCircular))
		return failed(uri, errs)
	}
	if level >= c.maxDepth {
		errs.Add(uri, fmt.Sprintf("namespace references nested deeper than %d", c.maxDepth))
		return failed(uri, errs)
	}

	rec, err := c.read(ctx, uri)
	switch {
	case fetch.IsNotFound(err):
		errs.Add(uri, fmt.Sprintf("namespace %s not found", uri), sheeterr.WithType(sheeterr.NsNotFound))
		return failed(uri, errs)
	case err != nil:
		errs.Add(uri, err.Error(), sheeterr.WithType(sheeterr.TypeDefFetch))
		return failed(uri, errs)
	case !rec.exists:
		errs.Add(uri, fmt.Sprintf("namespace %s not found", uri), sheeterr.WithType(sheeterr.NsNotFound))
		return failed(uri, errs)
	}
	path = append(slices.Clone(path), visit{ns: uri, level: level})

	var defs []*types.NsTypeDef
	typename := ref.Typename
	if rec.implements != "" {
		impl, err := coord.ParseNs(rec.implements)
		if err != nil {
			errs.Add(uri, fmt.Sprintf("invalid implements: %v", err), sheeterr.WithType(sheeterr.TypeDefInvalid))
			return failed(uri, errs)
		}
		if impl.URI() == uri {
			errs.Add(uri, fmt.Sprintf("namespace %s implements itself", uri), sheeterr.WithType(sheeterr.NsRefCircular))
			return failed(uri, errs)
		}
		defs = c.load(ctx, impl.URI(), path)
		if typename == "" {
			typename = impl.Typename
		}
	} else {
		defs = c.columns(ctx, rec, path, errs)
	}

	if typename == "" {
		alog.Debugf(ctx, "typeclient: loaded %s with %d typenames", uri, len(defs))
		return defs
	}
	for _, def := range defs {
		if def.Typename == typename {
			return []*types.NsTypeDef{def}
		}
	}
	if len(defs) == 1 && !defs[0].Ok && defs[0].Typename == "" {
		return defs
	}
	errs.Add(uri, fmt.Sprintf("typename %s not found in %s", typename, uri), sheeterr.WithType(sheeterr.NsNotFound))
	return failed(uri, errs)
}

func failed(uri string, errs *sheeterr.List) []*types.NsTypeDef {
	return []*types.NsTypeDef{{URI: uri, Errors: errs.Items()}}
}

// columns groups the namespace's columns by typename and resolves their
// types, targets, defaults and references.
func (c *Client) columns(ctx context.Context, rec *record, path chain, errs *sheeterr.List) []*types.NsTypeDef {
	keys := make([]string, 0, len(rec.columns))
	for key := range rec.columns {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareColumns)

	var defs []*types.NsTypeDef
	byTypename := map[string]*types.NsTypeDef{}
	byColumn := map[string]*types.ColumnDef{}
	owner := map[string]string{} // column -> typename

	for _, key := range keys {
		col := rec.columns[key]
		typename, prop, optional, err := splitProp(col.Prop)
		if err != nil {
			errs.Add(rec.uri, err.Error(), sheeterr.WithType(sheeterr.TypeDefInvalid), sheeterr.WithColumn(key))
			continue
		}
		def, ok := byTypename[typename]
		if !ok {
			def = &types.NsTypeDef{URI: rec.uri, Typename: typename}
			byTypename[typename] = def
			defs = append(defs, def)
			if strcase.ToCamel(typename) != typename {
				errs.Add(rec.uri, fmt.Sprintf("typename %q must be PascalCase", typename),
					sheeterr.WithType(sheeterr.TypeDefInvalid), sheeterr.WithColumn(key))
			}
		}
		if def.Column(prop) != nil {
			errs.Add(rec.uri, fmt.Sprintf("duplicate prop %s.%s", typename, prop),
				sheeterr.WithType(sheeterr.TypeDefInvalid), sheeterr.WithColumn(key))
			continue
		}

		cd := &types.ColumnDef{Column: key, Prop: prop, Optional: optional}
		c.column(ctx, rec.uri, col, cd, errs)
		def.Columns = append(def.Columns, cd)
		byColumn[key] = cd
		owner[key] = typename
	}

	for _, key := range keys {
		if cd, ok := byColumn[key]; ok {
			c.references(ctx, rec.uri, cd, byColumn, path, errs)
		}
	}

	items := errs.Items()
	for _, def := range defs {
		for _, e := range items {
			if t, ok := owner[e.Column]; !ok || t == def.Typename {
				def.Errors = append(def.Errors, e)
			}
		}
		def.Ok = len(def.Errors) == 0
	}
	if len(defs) == 0 && len(items) > 0 {
		return []*types.NsTypeDef{{URI: rec.uri, Errors: items}}
	}
	return defs
}

// column fills in the type, target and default of one column.
func (c *Client) column(ctx context.Context, uri string, col fetch.Column, cd *types.ColumnDef, errs *sheeterr.List) {
	fail := func(t sheeterr.Type, format string, a ...any) {
		err := errs.Add(uri, fmt.Sprintf(format, a...), sheeterr.WithType(t), sheeterr.WithColumn(cd.Column))
		if cd.Error == nil {
			cd.Error = err
		}
	}

	if strings.TrimSpace(col.Type) == "" {
		cd.Type = &types.UnknownType{}
		fail(sheeterr.TypeDefInvalid, "column %s has no type", cd.Column)
	} else {
		cd.Type = types.Parse(col.Type).Type
		if cd.Type.Kind() == types.KindUnknown {
			fail(sheeterr.TypeDefInvalid, "invalid type %q", col.Type)
		}
	}

	target, err := parseTarget(col.Target, cd.Type)
	if err != nil {
		fail(sheeterr.TypeDefInvalid, "%v", err)
	}
	cd.Target = target

	switch {
	case col.DefaultRef != "":
		value, err := c.defaultValue(ctx, col.DefaultRef)
		if err != nil {
			fail(sheeterr.TypeDefFetch, "default %s: %v", col.DefaultRef, err)
			return
		}
		cd.Default = &types.Default{Value: value, Ref: col.DefaultRef}
	case col.Default != nil:
		cd.Default = &types.Default{Value: col.Default}
	}
}

func (c *Client) defaultValue(ctx context.Context, uri string) (any, error) {
	cell, err := coord.ParseCellURI(uri)
	if err != nil {
		return nil, err
	}
	if !coord.IsKey(cell.Key) {
		return nil, fmt.Errorf("default must reference a single cell")
	}
	res, err := c.fetch.GetCells(ctx, cell.NS, cell.Key)
	if err != nil {
		return nil, err
	}
	return res.Cells[cell.Key].Value, nil
}

// references resolves every REF of a column into the definitions it points
// at, recursing into other namespaces.
func (c *Client) references(ctx context.Context, uri string, cd *types.ColumnDef, local map[string]*types.ColumnDef, path chain, errs *sheeterr.List) {
	fail := func(t sheeterr.Type, message string, children ...*sheeterr.TypeError) {
		err := errs.Add(uri, message, sheeterr.WithType(t), sheeterr.WithColumn(cd.Column), sheeterr.WithChildren(children...))
		if cd.Error == nil {
			cd.Error = err
		}
	}

	for _, ref := range types.Refs(cd.Type) {
		target := ref.Namespace()
		if target == "" {
			fail(sheeterr.TypeDefInvalid, fmt.Sprintf("invalid reference %s", ref.URI))
			continue
		}

		if ref.Scope == types.ScopeNS {
			if target == uri {
				fail(sheeterr.NsRefCircular, fmt.Sprintf("column %s references its own namespace", cd.Column))
				continue
			}
			defs := c.load(ctx, ref.URI, path)
			if bad := childErrors(defs); len(bad) > 0 {
				fail(worst(bad), fmt.Sprintf("reference %s is invalid", ref.URI), bad...)
				continue
			}
			if len(defs) != 1 {
				fail(sheeterr.TypeDefInvalid, fmt.Sprintf("reference %s is ambiguous, select one of its %d typenames", ref.URI, len(defs)))
				continue
			}
			ref.Types = defs[0].Columns
			continue
		}

		key := ref.Selector()
		var resolved *types.ColumnDef
		if target == uri {
			var err error
			resolved, err = follow(uri, key, cd.Column, local)
			if err != nil {
				fail(sheeterr.NsRefCircular, err.Error())
				continue
			}
		} else {
			defs := c.load(ctx, target, path)
			if bad := childErrors(defs); len(bad) > 0 {
				fail(worst(bad), fmt.Sprintf("reference %s is invalid", ref.URI), bad...)
				continue
			}
			resolved = findColumn(defs, key)
		}
		if resolved == nil {
			fail(sheeterr.NsNotFound, fmt.Sprintf("column %s not found", ref.URI))
			continue
		}
		ref.Types = []*types.ColumnDef{resolved}
		if cd.Default == nil && resolved.Default != nil {
			cd.Default = resolved.Default
		}
	}
}

// follow walks same-namespace column references starting at key and
// returns the column they end on.
func follow(uri, key, from string, local map[string]*types.ColumnDef) (*types.ColumnDef, error) {
	seen := map[string]bool{from: true}
	trail := []string{from}
	for {
		if seen[key] {
			return nil, fmt.Errorf("circular column reference: %s/%s", strings.Join(trail, "/"), key)
		}
		seen[key] = true
		trail = append(trail, key)

		cd, ok := local[key]
		if !ok {
			return nil, nil
		}
		ref, ok := cd.Type.(*types.RefType)
		if !ok || ref.Scope != types.ScopeColumn || ref.Namespace() != uri {
			return cd, nil
		}
		key = ref.Selector()
	}
}

func findColumn(defs []*types.NsTypeDef, key string) *types.ColumnDef {
	for _, def := range defs {
		for _, cd := range def.Columns {
			if cd.Column == key {
				return cd
			}
		}
	}
	return nil
}

func childErrors(defs []*types.NsTypeDef) []*sheeterr.TypeError {
	var out []*sheeterr.TypeError
	for _, def := range defs {
		if !def.Ok {
			out = append(out, def.Errors...)
		}
	}
	return out
}

// worst picks the type a parent error takes from its children: circular
// references and missing namespaces are reported as such.
func worst(children []*sheeterr.TypeError) sheeterr.Type {
	t := sheeterr.TypeDef
	for _, child := range children {
		switch child.Type {
		case sheeterr.NsRefCircular:
			return sheeterr.NsRefCircular
		case sheeterr.NsNotFound:
			t = sheeterr.NsNotFound
		}
	}
	return t
}

// splitProp splits "MyRow.title?" into its typename, prop and optional
// marker.
func splitProp(raw string) (typename, prop string, optional bool, err error) {
	s := strings.TrimSpace(raw)
	if strings.HasSuffix(s, "?") {
		optional = true
		s = strings.TrimSuffix(s, "?")
	}
	typename, prop, ok := strings.Cut(s, ".")
	if !ok || typename == "" {
		return "", "", false, fmt.Errorf("prop %q has no typename", raw)
	}
	if prop == "" {
		return "", "", false, fmt.Errorf("prop %q has no name", raw)
	}
	return typename, prop, optional, nil
}

func parseTarget(raw string, t types.Type) (types.Target, error) {
	isRef := allRefs(t)
	switch target := types.Target(strings.TrimSpace(raw)); {
	case target == "":
		if isRef {
			return types.TargetRef, nil
		}
		return types.TargetInline, nil
	case target == types.TargetRef:
		if !isRef {
			return types.TargetInline, fmt.Errorf("target ref requires a reference type, got %s", t.Typename())
		}
		return target, nil
	case target == types.TargetInline:
		return target, nil
	case target.IsInline() && target.Prop() != "":
		return target, nil
	default:
		return types.TargetInline, fmt.Errorf("invalid target %q", raw)
	}
}

func allRefs(t types.Type) bool {
	switch v := t.(type) {
	case *types.RefType:
		return true
	case *types.UnionType:
		for _, child := range v.Types {
			if child.Kind() != types.KindRef {
				return false
			}
		}
		return len(v.Types) > 0
	}
	return false
}

// compareColumns orders column letters A, B, ..., Z, AA.
func compareColumns(a, b string) int {
	ia, errA := coord.ColumnIndex(a)
	ib, errB := coord.ColumnIndex(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return ia - ib
}
