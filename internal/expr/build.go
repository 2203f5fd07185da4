package expr

// Num constructs a numeric literal.
func Num(v float64) Expr { return &Number{Value: v} }

// NewVar constructs a reference to a state variable.
func NewVar(name string) Expr { return &Var{Name: name} }

// NewParam constructs a reference to parameter index i.
func NewParam(i int) Expr { return &Param{Index: i} }

// zero and one are interned so the trivial-reduction fast paths below can
// compare against a single allocation instead of re-boxing a float64 each
// time.
var (
	zero = &Number{Value: 0}
	one  = &Number{Value: 1}
)

func asNumber(e Expr) (*Number, bool) {
	n, ok := e.(*Number)
	return n, ok
}

// Binop builds a binary expression, folding constant±constant and applying
// the identity reductions named in spec §4.1 (x*1 -> x, x+0 -> x, and their
// symmetric/other-identity forms). Anything beyond these trivial reductions
// is left alone: the decomposer depends on the tree surviving verbatim.
func Binop(op BinOp, l, r Expr) Expr {
	if ln, ok := asNumber(l); ok {
		if rn, ok := asNumber(r); ok {
			return foldConstants(op, ln.Value, rn.Value)
		}
	}
	switch op {
	case Add:
		if isZero(l) {
			return r
		}
		if isZero(r) {
			return l
		}
	case Sub:
		if isZero(r) {
			return l
		}
	case Mul:
		if isOne(l) {
			return r
		}
		if isOne(r) {
			return l
		}
		if isZero(l) || isZero(r) {
			return zero
		}
	case Div:
		if isOne(r) {
			return l
		}
	}
	return &Binary{Op: op, Left: l, Right: r}
}

func foldConstants(op BinOp, a, b float64) Expr {
	switch op {
	case Add:
		return Num(a + b)
	case Sub:
		return Num(a - b)
	case Mul:
		return Num(a * b)
	case Div:
		return Num(a / b)
	default:
		panic("expr: unknown binary operator")
	}
}

func isZero(e Expr) bool {
	n, ok := asNumber(e)
	return ok && n.Value == 0
}

func isOne(e Expr) bool {
	n, ok := asNumber(e)
	return ok && n.Value == 1
}

// Add2, Sub2, Mul2, Div2 are the conventional binary-operator constructors.
func Add2(l, r Expr) Expr { return Binop(Add, l, r) }
func Sub2(l, r Expr) Expr { return Binop(Sub, l, r) }
func Mul2(l, r Expr) Expr { return Binop(Mul, l, r) }
func Div2(l, r Expr) Expr { return Binop(Div, l, r) }

// Sum folds a variadic list of addends into a left-leaning binary tree at
// construction time — this is only for caller convenience when building an
// expression by hand; the decomposer independently re-trees any additive
// chain it finds into a balanced pairwise form (spec §4.2) regardless of
// how the operands were supplied here.
func Sum(terms ...Expr) Expr {
	if len(terms) == 0 {
		return zero
	}
	acc := terms[0]
	for _, t := range terms[1:] {
		acc = Add2(acc, t)
	}
	return acc
}

// NewCall builds a named-function application. Arity is checked against the
// function registry (funcs.go) at decomposition time, not here, since a
// function may be registered after this call is constructed.
func NewCall(name string, args ...Expr) Expr {
	return &Call{Name: name, Args: args}
}

// Equation pairs a state variable with the expression for its derivative,
// the "prime operator" of spec §4.1: (lhs_var, rhs_expr) meaning lhs_var' =
// rhs_expr.
type Equation struct {
	Var string
	Rhs Expr
}

// Prime constructs an Equation: v' = rhs.
func Prime(v string, rhs Expr) Equation {
	return Equation{Var: v, Rhs: rhs}
}
