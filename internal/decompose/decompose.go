// Package decompose implements spec component C2: it rewrites a list of
// ODE equations into the three-address straight-line program described in
// spec §3-§4.2 — the Taylor decomposition D. The walk is bottom-up with
// common-subexpression elimination, and addition chains are re-treed into
// a balanced pairwise form before emission (spec §4.2's "pairwise summation
// contract").
package decompose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xyproto/taylorjet/internal/diag"
	"github.com/xyproto/taylorjet/internal/engine"
	"github.com/xyproto/taylorjet/internal/expr"
	"github.com/xyproto/taylorjet/internal/xerr"
)

// Kind tags the shape of one decomposition entry (spec §3's a_k).
type Kind int

const (
	// KindState is one of the first S entries: a named state coordinate,
	// carrying no RHS beyond naming itself.
	KindState Kind = iota
	KindConst
	KindParam
	KindAdd
	KindSub
	KindMul
	KindDiv
	KindCall
	// KindDeriv is one of the last S entries: an alias recording that
	// state variable i's derivative is the value at Args[0].
	KindDeriv
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindConst:
		return "const"
	case KindParam:
		return "param"
	case KindAdd:
		return "add"
	case KindSub:
		return "sub"
	case KindMul:
		return "mul"
	case KindDiv:
		return "div"
	case KindCall:
		return "call"
	case KindDeriv:
		return "deriv"
	default:
		return "?"
	}
}

// Node is one entry a_k of the decomposition. Args holds indices j<k into
// the owning Decomposition's Nodes slice; which fields are meaningful
// depends on Kind.
type Node struct {
	Kind  Kind
	Const float64 // KindConst
	Param int     // KindParam
	Name  string  // KindState (variable name) or KindCall (function name)
	Args  []int   // operand indices, all < the node's own index

	// Compensated marks an KindAdd node produced by re-treeing an
	// addition chain of 3 or more operands under Options.CompensatedSums
	// — internal/recur emits Kahan-compensated accumulation for these
	// when the stepper's high_accuracy option is also set.
	Compensated bool
}

// Decomposition is the ordered sequence D of spec §3, plus the bookkeeping
// the rest of the pipeline needs to locate state and derivative rows.
type Decomposition struct {
	Nodes     []Node
	StateVars []string // length S, in declaration order
	DerivRows []int    // length S; DerivRows[i] is the Nodes index of state i's derivative tail entry
}

// Len is |D|, the row count of a single Taylor-coefficient slab.
func (d *Decomposition) Len() int { return len(d.Nodes) }

// S is the state dimension.
func (d *Decomposition) S() int { return len(d.StateVars) }

// Options configures decomposition beyond the fixed spec §4.2 algorithm.
type Options struct {
	// CompensatedSums marks pairwise-sum nodes for Kahan-compensated
	// emission (see SPEC_FULL's "Supplemented features"). It takes effect
	// independently of the stepper's high_accuracy option: internal/recur
	// compensates every marked node.
	CompensatedSums bool
}

type builder struct {
	opts    Options
	nodes   []Node
	cse     map[string]int
	stateOf map[string]int // variable name -> its state row index
	hits    int            // intern calls answered from cse
}

// Decompose rewrites eqs into a Taylor decomposition. eqs must name S
// distinct, non-empty variables; every identifier referenced by any RHS
// must be one of those S variables (Param/Number leaves are always valid).
func Decompose(eqs []expr.Equation, opts Options) (*Decomposition, error) {
	if len(eqs) == 0 {
		return nil, xerr.New(xerr.InvalidInput, "decompose: equation list is empty")
	}

	stateVars := make([]string, len(eqs))
	stateOf := make(map[string]int, len(eqs))
	for i, eq := range eqs {
		if eq.Var == "" {
			return nil, xerr.New(xerr.InvalidInput, "decompose: equation %d has an empty variable name", i)
		}
		if _, dup := stateOf[eq.Var]; dup {
			return nil, xerr.New(xerr.InvalidInput, "decompose: duplicate state variable %q", eq.Var)
		}
		stateVars[i] = eq.Var
		stateOf[eq.Var] = i
	}

	b := &builder{
		opts:    opts,
		cse:     make(map[string]int),
		stateOf: stateOf,
	}

	// Step 1: state identities a_0..a_{S-1}.
	for _, name := range stateVars {
		b.nodes = append(b.nodes, Node{Kind: KindState, Name: name})
	}

	// Step 2+3: walk each RHS bottom-up with CSE.
	rhsRoots := make([]int, len(eqs))
	for i, eq := range eqs {
		idx, err := b.emit(eq.Rhs)
		if err != nil {
			return nil, fmt.Errorf("decompose: equation for %q: %w", eq.Var, err)
		}
		rhsRoots[i] = idx
	}

	// Step 4: tail derivative entries.
	derivRows := make([]int, len(eqs))
	for i, root := range rhsRoots {
		idx := len(b.nodes)
		b.nodes = append(b.nodes, Node{Kind: KindDeriv, Args: []int{root}})
		derivRows[i] = idx
	}

	d := &Decomposition{Nodes: b.nodes, StateVars: stateVars, DerivRows: derivRows}
	if err := d.checkInvariants(); err != nil {
		// A violation here means a bug in this package, not bad user
		// input — the algorithm above is supposed to make this
		// unreachable, matching the teacher's compilation_pipeline.go
		// panicking on an invalid stage transition.
		panic(fmt.Sprintf("decompose: internal invariant violated: %v", err))
	}
	diag.Logf("decompose", "built decomposition: S=%d |D|=%d cse_hits=%d", d.S(), d.Len(), b.hits)
	return d, nil
}

// emit walks e bottom-up, returning the Nodes index that holds its value.
// Leaves (numbers, state refs, parameters) are emitted in place; compounds
// are rewritten to reference already-emitted children and run through CSE.
func (b *builder) emit(e expr.Expr) (int, error) {
	switch n := e.(type) {
	case *expr.Number:
		return b.intern(Node{Kind: KindConst, Const: n.Value}), nil

	case *expr.Var:
		idx, ok := b.stateOf[n.Name]
		if !ok {
			return 0, xerr.New(xerr.InvalidInput, "%s", b.unknownVariableMessage(n.Name))
		}
		return idx, nil

	case *expr.Param:
		return b.intern(Node{Kind: KindParam, Param: n.Index}), nil

	case *expr.Binary:
		if n.Op == expr.Add {
			return b.emitAddChain(n)
		}
		left, err := b.emit(n.Left)
		if err != nil {
			return 0, err
		}
		right, err := b.emit(n.Right)
		if err != nil {
			return 0, err
		}
		return b.emitBinary(binKind(n.Op), left, right, false), nil

	case *expr.Call:
		if err := expr.CheckArity(n); err != nil {
			return 0, xerr.Wrap(xerr.InvalidInput, err, "invalid call")
		}
		args := make([]int, len(n.Args))
		for i, a := range n.Args {
			idx, err := b.emit(a)
			if err != nil {
				return 0, err
			}
			args[i] = idx
		}
		return b.intern(Node{Kind: KindCall, Name: n.Name, Args: args}), nil

	default:
		panic(fmt.Sprintf("decompose: unhandled expression type %T", e))
	}
}

// unknownVariableMessage builds the InvalidInput text for a reference to
// name, appending a "did you mean" hint from engine.FindSimilarIdentifiers
// when one of the equations' declared state variables is a close edit-
// distance match — the typo case this is for is e.g. "raidus" vs "radius".
func (b *builder) unknownVariableMessage(name string) string {
	available := make([]string, 0, len(b.stateOf))
	for v := range b.stateOf {
		available = append(available, v)
	}
	msg := fmt.Sprintf("reference to unknown variable %q", name)
	if suggestions := engine.FindSimilarIdentifiers(name, available, 3); len(suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", formatSuggestions(suggestions))
	}
	return msg
}

func formatSuggestions(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, " or ")
}

func binKind(op expr.BinOp) Kind {
	switch op {
	case expr.Add:
		return KindAdd
	case expr.Sub:
		return KindSub
	case expr.Mul:
		return KindMul
	case expr.Div:
		return KindDiv
	default:
		panic("decompose: unknown binary operator")
	}
}

// emitBinary interns a two-operand node, applying commutative
// normalisation (sorted operand indices) for Add and Mul per spec §4.2
// step 3.
func (b *builder) emitBinary(k Kind, left, right int, compensated bool) int {
	args := []int{left, right}
	if k == KindAdd || k == KindMul {
		sort.Ints(args)
	}
	return b.intern(Node{Kind: k, Args: args, Compensated: compensated})
}

// emitAddChain implements the pairwise-summation contract: flatten the
// maximal run of nested Add nodes rooted at n into an operand list, rebuild
// it as a balanced binary tree (left-leaning on an odd count), then emit
// that tree.
func (b *builder) emitAddChain(n *expr.Binary) (int, error) {
	terms := flattenAddChain(n)
	return b.emitPairwise(terms)
}

func flattenAddChain(e expr.Expr) []expr.Expr {
	if bin, ok := e.(*expr.Binary); ok && bin.Op == expr.Add {
		return append(flattenAddChain(bin.Left), flattenAddChain(bin.Right)...)
	}
	return []expr.Expr{e}
}

// emitPairwise recursively emits a balanced-tree sum over terms, marking
// the internal KindAdd nodes Compensated when the chain being re-treed had
// 3+ operands and Options.CompensatedSums is set.
func (b *builder) emitPairwise(terms []expr.Expr) (int, error) {
	if len(terms) == 1 {
		return b.emit(terms[0])
	}
	compensated := b.opts.CompensatedSums && len(terms) >= 3
	return b.emitPairwiseNode(terms, compensated)
}

func (b *builder) emitPairwiseNode(terms []expr.Expr, compensated bool) (int, error) {
	if len(terms) == 1 {
		return b.emit(terms[0])
	}
	// Left-leaning tie-break: the extra element on an odd split goes to
	// the left half (spec §4.2).
	mid := (len(terms) + 1) / 2
	left, err := b.emitPairwiseNode(terms[:mid], compensated)
	if err != nil {
		return 0, err
	}
	right, err := b.emitPairwiseNode(terms[mid:], compensated)
	if err != nil {
		return 0, err
	}
	return b.emitBinary(KindAdd, left, right, compensated), nil
}

// intern performs CSE: canonicalises n's signature and reuses an existing
// node with the same signature, or appends n as a new entry.
func (b *builder) intern(n Node) int {
	key := signature(n)
	if idx, ok := b.cse[key]; ok {
		b.hits++
		return idx
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, n)
	b.cse[key] = idx
	return idx
}

func signature(n Node) string {
	switch n.Kind {
	case KindConst:
		return fmt.Sprintf("c:%x", n.Const)
	case KindParam:
		return fmt.Sprintf("p:%d", n.Param)
	case KindCall:
		return fmt.Sprintf("f:%s:%v", n.Name, n.Args)
	default:
		return fmt.Sprintf("%d:%v", n.Kind, n.Args)
	}
}

// checkInvariants verifies the four invariants spec §3 states on D. It is
// only ever expected to fail as a sign of a bug in this package.
func (d *Decomposition) checkInvariants() error {
	s := d.S()
	if len(d.Nodes) < 2*s {
		return fmt.Errorf("decomposition shorter than 2*S (S=%d len=%d)", s, len(d.Nodes))
	}
	for i := 0; i < s; i++ {
		if d.Nodes[i].Kind != KindState {
			return fmt.Errorf("row %d is not a state entry", i)
		}
	}
	seen := make(map[string]int)
	for k, n := range d.Nodes {
		for _, j := range n.Args {
			if j >= k {
				return fmt.Errorf("row %d references non-prior row %d", k, j)
			}
		}
		// State heads and derivative tails are one entry per state
		// variable, not CSE candidates: two variables may share a RHS
		// root (e.g. x'=0, y'=0).
		if n.Kind == KindState || n.Kind == KindDeriv {
			continue
		}
		sig := signature(n)
		if first, ok := seen[sig]; ok {
			return fmt.Errorf("rows %d and %d have identical normalised RHS", first, k)
		}
		seen[sig] = k
	}
	return nil
}
