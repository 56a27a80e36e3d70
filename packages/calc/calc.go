// Package calc evaluates formula cells. One evaluates a single cell by
// walking its AST, following cell references into the formulas they point
// at; Many evaluates a batch of cells in dependency order.
package calc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.alis.build/alog"
	"golang.org/x/sync/errgroup"

	"github.com/vogtb/go-spreadsheet/packages/coord"
	"github.com/vogtb/go-spreadsheet/packages/events"
	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/refs"
	"github.com/vogtb/go-spreadsheet/packages/sheeterr"
)

// GetValue reads a cell's raw value. It may be called concurrently.
type GetValue func(ctx context.Context, key string) (any, error)

// FuncRef names a function.
type FuncRef struct {
	Namespace string
	Name      string
}

func (r FuncRef) String() string {
	return r.Namespace + "." + r.Name
}

// FuncArgs are the evaluated arguments of a call. Range arguments arrive as
// []any holding one value per cell, row by row.
type FuncArgs struct {
	Params []any
}

// Func is a callable formula function.
type Func func(ctx context.Context, args FuncArgs) (any, error)

// GetFunc resolves a function. A nil Func with a nil error means the
// function does not exist. It may be called concurrently.
type GetFunc func(ctx context.Context, ref FuncRef) (Func, error)

// operators maps binary operators to the functions that implement them
var operators = map[formula.BinaryOp]string{
	formula.BinOpAdd:          "SUM",
	formula.BinOpSubtract:     "SUBTRACT",
	formula.BinOpMultiply:     "MULTIPLY",
	formula.BinOpDivide:       "DIVIDE",
	formula.BinOpModulo:       "MOD",
	formula.BinOpPower:        "POWER",
	formula.BinOpConcat:       "CONCAT",
	formula.BinOpEqual:        "EQ",
	formula.BinOpNotEqual:     "NE",
	formula.BinOpLess:         "LT",
	formula.BinOpLessEqual:    "LTE",
	formula.BinOpGreater:      "GT",
	formula.BinOpGreaterEqual: "GTE",
}

// OneArgs configures One.
type OneArgs struct {
	Cell string
	// Refs supplies known circular references and the shared formula cache.
	// Optional.
	Refs     *refs.Table
	GetValue GetValue
	GetFunc  GetFunc
	// Eid correlates the begin and end events. Generated when empty.
	Eid    string
	Events *events.Bus
}

// FuncResponse is the outcome of evaluating one cell. Failures are carried
// in Error, never returned.
type FuncResponse struct {
	Ok      bool
	Eid     string
	Cell    string
	Formula string
	Value   any
	Error   *sheeterr.FuncError
	Elapsed time.Duration
}

// One evaluates the formula in args.Cell. It fires FUNC/begin and FUNC/end
// exactly once each.
func One(ctx context.Context, args OneArgs) *FuncResponse {
	start := time.Now()
	if args.Eid == "" {
		args.Eid = uuid.NewString()
	}
	res := &FuncResponse{Eid: args.Eid, Cell: args.Cell}

	e := &evaluator{args: args}
	var value any
	err := e.guard(args.Cell, func() (err error) {
		value, err = e.value(ctx, args.Cell)
		return err
	})
	if s, ok := value.(string); ok && err == nil {
		res.Formula = s
	}

	args.Events.Fire(events.FuncBegin, &events.FuncStarted{Eid: args.Eid, Cell: args.Cell, Formula: res.Formula})
	defer func() {
		res.Elapsed = time.Since(start)
		ended := &events.FuncEnded{Eid: res.Eid, Cell: res.Cell, Ok: res.Ok, Value: res.Value, Elapsed: res.Elapsed}
		if res.Error != nil {
			ended.Error = res.Error
		}
		args.Events.Fire(events.FuncEnd, ended)
	}()

	if err != nil {
		res.Error = e.fail(err, args.Cell)
	} else {
		res.Value, res.Error = e.one(ctx, args.Cell, value)
	}
	if res.Error != nil {
		res.Error.Cell = args.Cell
		res.Error.Formula = res.Formula
		res.Value = nil
		alog.Debugf(ctx, "calc: %s failed: %v", args.Cell, res.Error)
	}
	res.Ok = res.Error == nil
	return res
}

// one runs the checks that precede evaluation, then evaluates
func (e *evaluator) one(ctx context.Context, cell string, value any) (result any, ferr *sheeterr.FuncError) {
	defer func() {
		if r := recover(); r != nil {
			ferr = e.panicked(r, cell)
		}
	}()

	if cerr := e.circular(ctx, cell); cerr != nil {
		return nil, cerr
	}
	if !formula.IsFormula(value) {
		return nil, sheeterr.NewFuncError(sheeterr.FuncNotFormula, fmt.Sprintf("%s is not a formula", cell))
	}
	node, err := e.parse(value.(string))
	if err != nil {
		return nil, e.fail(err, cell)
	}
	if formula.Classify(node) == formula.KindRange {
		rerr := sheeterr.NewFuncError(sheeterr.FuncNotSupportedRange, "a range can only be used as an argument")
		rerr.Path = cell
		return nil, rerr
	}

	result, err = e.eval(ctx, node, cell)
	if err != nil {
		return nil, e.fail(err, cell)
	}
	if verr := checkForError(result); verr != nil {
		return nil, e.fail(verr, cell)
	}
	return result, nil
}

// circular fails cells that take part in a circular reference the refs
// table knows about
func (e *evaluator) circular(ctx context.Context, cell string) *sheeterr.FuncError {
	if e.args.Refs == nil || !coord.IsKey(cell) {
		return nil
	}
	if _, err := e.args.Refs.Outgoing(ctx, refs.WithRange(cell)); err != nil {
		alog.Debugf(ctx, "calc: refs of %s unavailable: %v", cell, err)
		return nil
	}
	all := e.args.Refs.Errors()
	for _, rerr := range all {
		if rerr.Includes(cell) {
			return &sheeterr.FuncError{
				Type:     sheeterr.RefCircular,
				Message:  rerr.Message,
				Path:     rerr.Path,
				Children: all,
				Err:      rerr,
			}
		}
	}
	return nil
}

// evaluator walks formula ASTs. It holds no per-walk state, so sibling
// subtrees can be evaluated concurrently.
type evaluator struct {
	args OneArgs
}

// evalError carries the path at which evaluation failed
type evalError struct {
	path string
	err  error
}

func (e *evalError) Error() string { return e.err.Error() }
func (e *evalError) Unwrap() error { return e.err }

func failAt(path string, err error) error {
	var ee *evalError
	if errors.As(err, &ee) {
		return err
	}
	return &evalError{path: path, err: err}
}

// fail converts an evaluation error into a FuncError
func (e *evaluator) fail(err error, cell string) *sheeterr.FuncError {
	path := cell
	var ee *evalError
	if errors.As(err, &ee) {
		path = ee.path
		err = ee.err
	}

	var ferr *sheeterr.FuncError
	if errors.As(err, &ferr) {
		out := *ferr
		if out.Path == "" {
			out.Path = path
		}
		return &out
	}
	var rerr *sheeterr.RefError
	if errors.As(err, &rerr) {
		return &sheeterr.FuncError{Type: sheeterr.RefCircular, Message: rerr.Message, Path: rerr.Path, Err: rerr}
	}
	var verr *sheeterr.ValueError
	if errors.As(err, &verr) && errors.Is(err, errParse) {
		return &sheeterr.FuncError{Type: sheeterr.FuncParse, Message: verr.Error(), Path: path, Err: verr}
	}
	return &sheeterr.FuncError{Type: sheeterr.FuncInvoke, Message: err.Error(), Path: path, Err: err}
}

func (e *evaluator) panicked(r any, path string) *sheeterr.FuncError {
	alog.Errorf(context.Background(), "calc: panic evaluating %s: %v\n%s", path, r, debug.Stack())
	return &sheeterr.FuncError{
		Type:    sheeterr.FuncInvoke,
		Message: fmt.Sprintf("panic: %v", r),
		Path:    path,
		Err:     fmt.Errorf("panic: %v", r),
	}
}

var errParse = errors.New("formula does not parse")

type parseError struct {
	err *sheeterr.ValueError
}

func (p *parseError) Error() string        { return p.err.Error() }
func (p *parseError) Is(target error) bool { return target == errParse }
func (p *parseError) Unwrap() error        { return p.err }

func (e *evaluator) parse(source string) (formula.Node, error) {
	var (
		node formula.Node
		err  error
	)
	if e.args.Refs != nil {
		node, err = e.args.Refs.Parse(source)
	} else {
		node, err = formula.Parse(source)
	}
	if err != nil {
		var verr *sheeterr.ValueError
		if errors.As(err, &verr) {
			return nil, &parseError{err: verr}
		}
		return nil, err
	}
	return node, nil
}

func (e *evaluator) value(ctx context.Context, key string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.args.GetValue == nil {
		return nil, nil
	}
	value, err := e.args.GetValue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get value %s: %w", key, err)
	}
	return value, nil
}

func (e *evaluator) function(ctx context.Context, ref FuncRef) (Func, error) {
	if e.args.GetFunc == nil {
		return nil, nil
	}
	return e.args.GetFunc(ctx, ref)
}

// eval evaluates a node. path is the chain of cells being evaluated.
func (e *evaluator) eval(ctx context.Context, node formula.Node, path string) (any, error) {
	switch n := node.(type) {
	case *formula.Literal:
		return n.Value, nil

	case *formula.CellRef:
		return e.cell(ctx, n.Key, path)

	case *formula.CellRange:
		keys := n.Range.Keys()
		out := make([]any, len(keys))
		g, gctx := errgroup.WithContext(ctx)
		for i, key := range keys {
			g.Go(func() error {
				return e.guard(path, func() error {
					v, err := e.cell(gctx, key, path)
					out[i] = v
					return err
				})
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil

	case *formula.UnaryExpr:
		v, err := e.eval(ctx, n.Operand, path)
		if err != nil {
			return nil, err
		}
		return unary(n.Op, v, path)

	case *formula.BinaryExpr:
		name, ok := operators[n.Op]
		if !ok {
			return nil, failAt(path, sheeterr.NewValueError(sheeterr.CodeValue, "unknown operator"))
		}
		params, err := e.all(ctx, []formula.Node{n.Left, n.Right}, path)
		if err != nil {
			return nil, err
		}
		return e.call(ctx, FuncRef{Namespace: DefaultNamespace, Name: name}, params, path)

	case *formula.FuncCall:
		ref := FuncRef{Namespace: n.Namespace, Name: n.Name}
		if ref.Namespace == "" {
			ref.Namespace = DefaultNamespace
		}
		params, err := e.all(ctx, n.Args, path)
		if err != nil {
			return nil, err
		}
		return e.call(ctx, ref, params, path)
	}
	return nil, failAt(path, fmt.Errorf("unsupported node %T", node))
}

// all evaluates sibling nodes concurrently
func (e *evaluator) all(ctx context.Context, nodes []formula.Node, path string) ([]any, error) {
	out := make([]any, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		g.Go(func() error {
			return e.guard(path, func() error {
				v, err := e.eval(gctx, node, path)
				out[i] = v
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// guard turns a panic in a goroutine into an error
func (e *evaluator) guard(path string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.panicked(r, path)
		}
	}()
	return fn()
}

// cell reads a referenced cell, evaluating it when it holds a formula
func (e *evaluator) cell(ctx context.Context, key, path string) (any, error) {
	childPath := path + "/" + key
	for _, part := range strings.Split(path, "/") {
		if part == key {
			return nil, sheeterr.NewCircularRef(childPath)
		}
	}

	value, err := e.value(ctx, key)
	if err != nil {
		return nil, failAt(childPath, err)
	}
	if !formula.IsFormula(value) {
		return value, nil
	}
	node, err := e.parse(value.(string))
	if err != nil {
		return nil, failAt(childPath, err)
	}
	if formula.Classify(node) == formula.KindRange {
		ferr := sheeterr.NewFuncError(sheeterr.FuncNotSupportedRange, fmt.Sprintf("%s holds a bare range", key))
		return nil, failAt(childPath, ferr)
	}
	result, err := e.eval(ctx, node, childPath)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *evaluator) call(ctx context.Context, ref FuncRef, params []any, path string) (result any, err error) {
	fn, err := e.function(ctx, ref)
	if err != nil {
		return nil, failAt(path, fmt.Errorf("get func %s: %w", ref, err))
	}
	if fn == nil {
		return nil, failAt(path, sheeterr.NewFuncError(sheeterr.FuncNotFound, fmt.Sprintf("function %s not found", ref)))
	}

	defer func() {
		if r := recover(); r != nil {
			err = e.panicked(r, path)
		}
	}()
	result, err = fn(ctx, FuncArgs{Params: params})
	if err != nil {
		return nil, failAt(path, err)
	}
	return result, nil
}

func unary(op formula.UnaryOp, v any, path string) (any, error) {
	if verr := checkForError(v); verr != nil {
		return nil, failAt(path, verr)
	}
	num, ok := toNumber(v)
	if !ok {
		return nil, failAt(path, sheeterr.NewValueError(sheeterr.CodeValue, fmt.Sprintf("%s requires a numeric value", op)))
	}
	switch op {
	case formula.UnaryOpPlus:
		return num, nil
	case formula.UnaryOpMinus:
		return -num, nil
	case formula.UnaryOpPercent:
		return num / 100.0, nil
	}
	return nil, failAt(path, sheeterr.NewValueError(sheeterr.CodeValue, "unknown unary operator"))
}
