// Package expr implements the immutable expression algebra of spec
// component C1: numeric constants, variable references, indexed parameter
// references, binary operators, and named functions. Expressions are built
// bottom-up, are deduplicated on trivial reductions at construction time,
// and otherwise carry no simplification — the Taylor decomposer (package
// decompose) relies on the tree surviving verbatim so its own
// common-subexpression elimination is predictable.
package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xyproto/taylorjet/internal/engine"
)

// BinOp is a binary operator tag.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
)

func (op BinOp) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	default:
		return "?"
	}
}

// Expr is a node of an immutable expression DAG. Children are shared by
// reference; equality is structural (Equal) and every node admits a total
// hash (Hash) so decompose can use expressions as map keys for CSE.
type Expr interface {
	fmt.Stringer
	// Hash returns a structural hash stable across process runs.
	Hash() uint64
	// Equal reports structural equality with other.
	Equal(other Expr) bool
	exprNode()
}

// Number is a floating-point literal of the working precision.
type Number struct {
	Value float64
}

func (n *Number) exprNode() {}

func (n *Number) String() string { return strconv.FormatFloat(n.Value, 'g', -1, 64) }

func (n *Number) Hash() uint64 {
	return engine.HashStringKey("num") ^ math.Float64bits(n.Value)
}

func (n *Number) Equal(other Expr) bool {
	o, ok := other.(*Number)
	return ok && o.Value == n.Value
}

// Var is a reference to a named state-coordinate variable.
type Var struct {
	Name string
}

func (v *Var) exprNode() {}

func (v *Var) String() string { return v.Name }

func (v *Var) Hash() uint64 {
	return engine.HashStringKey("var:" + v.Name)
}

func (v *Var) Equal(other Expr) bool {
	o, ok := other.(*Var)
	return ok && o.Name == v.Name
}

// Param is an indexed reference into the run-time parameter vector.
type Param struct {
	Index int
}

func (p *Param) exprNode() {}

func (p *Param) String() string { return fmt.Sprintf("par[%d]", p.Index) }

func (p *Param) Hash() uint64 {
	return engine.HashStringKey("par") ^ uint64(p.Index)*0x9e3779b97f4a7c15
}

func (p *Param) Equal(other Expr) bool {
	o, ok := other.(*Param)
	return ok && o.Index == p.Index
}

// Binary is a binary operator applied to two child expressions.
type Binary struct {
	Op          BinOp
	Left, Right Expr
}

func (b *Binary) exprNode() {}

func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

func (b *Binary) Hash() uint64 {
	h := engine.HashStringKey("bin") ^ uint64(b.Op)*0x100000001b3
	h = mix(h, b.Left.Hash())
	h = mix(h, b.Right.Hash())
	return h
}

func (b *Binary) Equal(other Expr) bool {
	o, ok := other.(*Binary)
	return ok && o.Op == b.Op && o.Left.Equal(b.Left) && o.Right.Equal(b.Right)
}

// Call applies a named function (see the Function registry in funcs.go) to
// an ordered list of argument expressions.
type Call struct {
	Name string
	Args []Expr
}

func (c *Call) exprNode() {}

func (c *Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return c.Name + "(" + strings.Join(parts, ", ") + ")"
}

func (c *Call) Hash() uint64 {
	h := engine.HashStringKey("call:" + c.Name)
	for _, a := range c.Args {
		h = mix(h, a.Hash())
	}
	return h
}

func (c *Call) Equal(other Expr) bool {
	o, ok := other.(*Call)
	if !ok || o.Name != c.Name || len(o.Args) != len(c.Args) {
		return false
	}
	for i := range c.Args {
		if !o.Args[i].Equal(c.Args[i]) {
			return false
		}
	}
	return true
}

func mix(h, v uint64) uint64 {
	h ^= v
	h *= 0x100000001b3
	return h
}
