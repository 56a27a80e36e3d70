// Package formula tokenizes and parses cell formulas ("=SUM(A1:B2)") into a
// small sealed AST used for reference discovery and evaluation.
package formula

import (
	"fmt"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/coord"
)

type Position struct {
	Start int
	End   int
}

// Node is a formula AST node. the set of implementations is closed:
// *Literal, *CellRef, *CellRange, *BinaryExpr, *UnaryExpr and *FuncCall.
type Node interface {
	Pos() Position
	String() string
	node()
}

// Literal is a number (float64), string or boolean constant.
type Literal struct {
	Value    any
	Position Position
}

// CellRef is a reference to a single cell.
type CellRef struct {
	Key      string
	Position Position
}

// CellRange is a rectangular range reference such as A1:B3.
type CellRange struct {
	Range    coord.Range
	Position Position
}

// BinaryExpr is an infix operation.
type BinaryExpr struct {
	Op       BinaryOp
	Left     Node
	Right    Node
	Position Position
}

// UnaryExpr is a prefix +/- or postfix % operation.
type UnaryExpr struct {
	Op       UnaryOp
	Operand  Node
	Position Position
}

// FuncCall invokes a function by namespace and name. Namespace is empty
// unless the formula qualified the name ("math.SUM").
type FuncCall struct {
	Namespace string
	Name      string
	Args      []Node
	Position  Position
}

func (*Literal) node()    {}
func (*CellRef) node()    {}
func (*CellRange) node()  {}
func (*BinaryExpr) node() {}
func (*UnaryExpr) node()  {}
func (*FuncCall) node()   {}

func (n *Literal) Pos() Position    { return n.Position }
func (n *CellRef) Pos() Position    { return n.Position }
func (n *CellRange) Pos() Position  { return n.Position }
func (n *BinaryExpr) Pos() Position { return n.Position }
func (n *UnaryExpr) Pos() Position  { return n.Position }
func (n *FuncCall) Pos() Position   { return n.Position }

func (n *Literal) String() string {
	switch v := n.Value.(type) {
	case string:
		return fmt.Sprintf("\"%s\"", strings.ReplaceAll(v, "\"", "\"\""))
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		// format number without unnecessary decimals
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

func (n *CellRef) String() string {
	return n.Key
}

func (n *CellRange) String() string {
	return n.Range.String()
}

func (n *BinaryExpr) String() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.String(), n.Op.String(), n.Right.String())
}

func (n *UnaryExpr) String() string {
	if n.Op == UnaryOpPercent {
		return fmt.Sprintf("(%s%%)", n.Operand.String())
	}
	return n.Op.String() + n.Operand.String()
}

func (n *FuncCall) String() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s(%s)", n.QualifiedName(), strings.Join(args, ","))
}

// QualifiedName returns "namespace.NAME", or just the name when no
// namespace was written.
func (n *FuncCall) QualifiedName() string {
	if n.Namespace == "" {
		return n.Name
	}
	return n.Namespace + "." + n.Name
}

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpModulo
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

var binaryOpSymbols = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpModulo:       "%",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

func (op BinaryOp) String() string {
	return binaryOpSymbols[op]
}

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

func (op UnaryOp) String() string {
	switch op {
	case UnaryOpPlus:
		return "+"
	case UnaryOpMinus:
		return "-"
	case UnaryOpPercent:
		return "%"
	}
	return ""
}

// Walk visits the tree depth-first in source order. returning false from
// fn skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch v := n.(type) {
	case *BinaryExpr:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
	case *UnaryExpr:
		Walk(v.Operand, fn)
	case *FuncCall:
		for _, arg := range v.Args {
			Walk(arg, fn)
		}
	}
}

// Kind classifies a whole formula.
type Kind string

const (
	KindRef   Kind = "REF"
	KindRange Kind = "RANGE"
	KindFunc  Kind = "FUNC"
)

// Classify returns REF for a bare cell reference, RANGE for a bare range
// and FUNC for anything that computes a value.
func Classify(n Node) Kind {
	switch n.(type) {
	case *CellRef:
		return KindRef
	case *CellRange:
		return KindRange
	default:
		return KindFunc
	}
}

// IsFormula reports whether a cell value is a formula: a string whose
// first non-space character is '='.
func IsFormula(value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(s), "=")
}
