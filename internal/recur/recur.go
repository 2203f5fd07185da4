// Package recur implements spec component C3, the Taylor recurrence
// library, in its interpreted form: given a Decomposition (package
// decompose) and the coefficient rows already computed at orders < k, it
// fills in order k for every intermediate and derivative row, plus the
// state-row update that links order k to the derivative row computed at
// order k-1 (x_i^(k) = f_i^(k-1)/k, the identity that actually drives a
// Taylor-series ODE integrator — spec §4.4 names the state seeding at
// order 0 and the per-order sweep over intermediates/derivatives, but this
// division-by-k relation between a derivative row and the *next* order's
// state row is the mechanism that makes the sweep an integrator rather
// than a one-shot evaluation; see Gradshteyn-style Taylor/ODE solvers such
// as heyoka, which this module's original_source was distilled from).
//
// This file is the evaluator used by internal/jit's interpreted host
// (jit.InterpretedHost) and, by the generator, as the semantic reference
// the emitted Go-source/compact-table paths must reproduce bit-for-bit
// (spec §8's compact-mode-equivalence property).
package recur

import (
	"math"

	"github.com/xyproto/taylorjet/internal/decompose"
	"github.com/xyproto/taylorjet/internal/xerr"
)

// ParamKind distinguishes a parameter buffer shared across all lanes from
// one carrying an independent value per lane (SPEC_FULL's "parameter-vector
// batch broadcasting" supplement).
type ParamKind int

const (
	ParamScalar ParamKind = iota
	ParamPerLane
)

// Slab is the flat (|D|*(order+1), batch) row-major Taylor-coefficient
// buffer of spec §3, addressed by node index and order.
type Slab struct {
	Data  []float64
	Nodes int
	Batch int
}

// NewSlab allocates a zeroed slab sized for nodes rows, order+1 blocks,
// batch lanes.
func NewSlab(nodes, order, batch int) *Slab {
	return &Slab{Data: make([]float64, nodes*(order+1)*batch), Nodes: nodes, Batch: batch}
}

// Row returns the batch-wide slice for node at order k. Mutating it
// mutates the slab.
func (s *Slab) Row(node, k int) []float64 {
	off := (k*s.Nodes + node) * s.Batch
	return s.Data[off : off+s.Batch]
}

// Evaluator drives the per-order sweep described in the package doc.
type Evaluator struct {
	D         *decompose.Decomposition
	Slab      *Slab
	Pars      []float64
	ParamKind ParamKind
	Order     int

	// companions holds the paired trig coefficient rows: for every sin
	// or cos Call node, the *other* function's coefficients over all
	// orders computed so far, keyed by that node's index. Populated
	// lazily since the decomposition may reference sin(b) without ever
	// constructing a matching cos(b) node (spec §4.3's "paired"
	// recurrence needs both regardless of which one the user wrote).
	companions map[int]*Slab
	// err holds the running Neumaier/Kahan residual for Compensated add
	// nodes, one batch-wide row per order, keyed by node index.
	err map[int]*Slab
}

// NewEvaluator builds an Evaluator over d, backed by slab, for batch-wide
// steps up to order. pars is the flat parameter buffer; its layout depends
// on kind.
func NewEvaluator(d *decompose.Decomposition, slab *Slab, pars []float64, kind ParamKind, order int) *Evaluator {
	return &Evaluator{
		D:          d,
		Slab:       slab,
		Pars:       pars,
		ParamKind:  kind,
		Order:      order,
		companions: make(map[int]*Slab),
		err:        make(map[int]*Slab),
	}
}

func (e *Evaluator) paramValue(idx, lane int) float64 {
	if e.ParamKind == ParamScalar {
		return e.Pars[idx]
	}
	return e.Pars[idx*e.Slab.Batch+lane]
}

// EvaluateOrder0 fills every non-state row at order 0, given that rows
// 0..S-1 at order 0 already hold the caller's initial state.
func (e *Evaluator) EvaluateOrder0() error {
	return e.evaluateRows(0)
}

// EvaluateOrder fills the state rows at order k from the derivative rows
// at order k-1, then every non-state row at order k. k must be >= 1 and
// EvaluateOrder(k-1) (or EvaluateOrder0 for k=1) must have already run.
func (e *Evaluator) EvaluateOrder(k int) error {
	if k < 1 {
		panic("recur: EvaluateOrder requires k>=1; use EvaluateOrder0 for k=0")
	}
	s := e.D.S()
	for i := 0; i < s; i++ {
		stateRow := e.Slab.Row(i, k)
		derivRow := e.Slab.Row(e.D.DerivRows[i], k-1)
		for l := range stateRow {
			stateRow[l] = derivRow[l] / float64(k)
		}
	}
	return e.evaluateRows(k)
}

func (e *Evaluator) evaluateRows(k int) error {
	for idx, n := range e.D.Nodes {
		switch n.Kind {
		case decompose.KindState:
			continue // seeded externally (order 0) or by EvaluateOrder (order>0)
		case decompose.KindConst:
			row := e.Slab.Row(idx, k)
			v := 0.0
			if k == 0 {
				v = n.Const
			}
			for l := range row {
				row[l] = v
			}
		case decompose.KindParam:
			row := e.Slab.Row(idx, k)
			for l := range row {
				if k == 0 {
					row[l] = e.paramValue(n.Param, l)
				} else {
					row[l] = 0
				}
			}
		case decompose.KindAdd:
			if err := e.evalAdd(idx, n, k); err != nil {
				return err
			}
		case decompose.KindSub:
			e.evalSub(idx, n, k)
		case decompose.KindMul:
			e.evalMul(idx, n, k)
		case decompose.KindDiv:
			if err := e.evalDiv(idx, n, k); err != nil {
				return err
			}
		case decompose.KindCall:
			if err := e.evalCall(idx, n, k); err != nil {
				return err
			}
		case decompose.KindDeriv:
			src := e.Slab.Row(n.Args[0], k)
			dst := e.Slab.Row(idx, k)
			copy(dst, src)
		default:
			panic("recur: unhandled node kind")
		}
	}
	return nil
}

func (e *Evaluator) errRow(node, k int) []float64 {
	s, ok := e.err[node]
	if !ok {
		s = NewSlab(1, e.Order, e.Slab.Batch)
		e.err[node] = s
	}
	return s.Row(0, k)
}

func (e *Evaluator) childErr(child int, k int) []float64 {
	if s, ok := e.err[child]; ok {
		return s.Row(0, k)
	}
	return nil
}

// evalAdd implements a = b + c (spec §4.3), with Neumaier/Kahan-style
// compensation for nodes the decomposer marked Compensated (a pairwise-sum
// internal node under the CompensatedSums option): each operand is first
// corrected by its own child's running residual (zero if the child isn't
// itself compensated), then the pairwise sum and its new residual are
// computed by Dekker's two-sum.
func (e *Evaluator) evalAdd(idx int, n decompose.Node, k int) error {
	b := e.Slab.Row(n.Args[0], k)
	c := e.Slab.Row(n.Args[1], k)
	row := e.Slab.Row(idx, k)
	if !n.Compensated {
		for l := range row {
			row[l] = b[l] + c[l]
		}
		return nil
	}
	errB := e.childErr(n.Args[0], k)
	errC := e.childErr(n.Args[1], k)
	out := e.errRow(idx, k)
	for l := range row {
		bv := b[l]
		if errB != nil {
			bv += errB[l]
		}
		cv := c[l]
		if errC != nil {
			cv += errC[l]
		}
		s := bv + cv
		var corr float64
		if math.Abs(bv) >= math.Abs(cv) {
			corr = (bv - s) + cv
		} else {
			corr = (cv - s) + bv
		}
		row[l] = s
		out[l] = corr
	}
	return nil
}

func (e *Evaluator) evalSub(idx int, n decompose.Node, k int) {
	b := e.Slab.Row(n.Args[0], k)
	c := e.Slab.Row(n.Args[1], k)
	row := e.Slab.Row(idx, k)
	for l := range row {
		row[l] = b[l] - c[l]
	}
}

// mulConv computes the order-k Taylor convolution Σ_{j=0..k} b^(j) c^(k-j)
// into dst (which may alias neither b nor c's underlying storage, since it
// reads all j before any caller overwrites row idx's own storage — callers
// always pass e.Slab.Row(idx,k), a distinct row from bIdx/cIdx).
func (e *Evaluator) mulConv(dst []float64, bIdx, cIdx, k int) {
	for l := range dst {
		dst[l] = 0
	}
	for j := 0; j <= k; j++ {
		bj := e.Slab.Row(bIdx, j)
		ck := e.Slab.Row(cIdx, k-j)
		for l := range dst {
			dst[l] += bj[l] * ck[l]
		}
	}
}

func (e *Evaluator) evalMul(idx int, n decompose.Node, k int) {
	e.mulConv(e.Slab.Row(idx, k), n.Args[0], n.Args[1], k)
}

// evalDiv implements a = b/c (spec §4.3): a^(0) = b^(0)/c^(0); for k>=1,
// a^(k) = (1/c^(0))*(b^(k) - Σ_{j=0..k-1} a^(j) c^(k-j)). c^(0)==0 surfaces
// SingularDivisor regardless of k, matching spec §4.3's "propagate upward".
func (e *Evaluator) evalDiv(idx int, n decompose.Node, k int) error {
	bIdx, cIdx := n.Args[0], n.Args[1]
	c0 := e.Slab.Row(cIdx, 0)
	row := e.Slab.Row(idx, k)
	b := e.Slab.Row(bIdx, k)
	for l := range row {
		if c0[l] == 0 {
			return xerr.New(xerr.SingularDivisor, "division by zero divisor at node %d, lane %d", idx, l)
		}
		sum := 0.0
		for j := 0; j < k; j++ {
			aj := e.Slab.Row(idx, j)[l]
			ckj := e.Slab.Row(cIdx, k-j)[l]
			sum += aj * ckj
		}
		row[l] = (b[l] - sum) / c0[l]
	}
	return nil
}

func (e *Evaluator) evalCall(idx int, n decompose.Node, k int) error {
	switch n.Name {
	case "pow":
		return e.evalPow(idx, n, k)
	case "square":
		e.mulConv(e.Slab.Row(idx, k), n.Args[0], n.Args[0], k)
		return nil
	case "sqrt":
		return e.evalPowConst(idx, n.Args[0], 0.5, k, xerr.SingularPow)
	case "exp":
		return e.evalExp(idx, n, k)
	case "log":
		return e.evalLog(idx, n, k)
	case "sin":
		return e.evalSinCos(idx, n.Args[0], k, true)
	case "cos":
		return e.evalSinCos(idx, n.Args[0], k, false)
	default:
		panic("recur: unregistered function " + n.Name)
	}
}

// evalPow dispatches pow(b, alpha) to the integer fast path (SPEC_FULL's
// PowInt supplement) when alpha is a small integer constant, and to the
// general real-exponent recurrence otherwise.
func (e *Evaluator) evalPow(idx int, n decompose.Node, k int) error {
	bIdx := n.Args[0]
	alphaNode := e.D.Nodes[n.Args[1]]
	if alphaNode.Kind != decompose.KindConst {
		panic("recur: pow's exponent must be a constant")
	}
	alpha := alphaNode.Const
	if isSmallInt(alpha) {
		return e.evalPowInt(idx, bIdx, int(alpha), k)
	}
	return e.evalPowConst(idx, bIdx, alpha, k, xerr.SingularPow)
}

func isSmallInt(alpha float64) bool {
	r := math.Round(alpha)
	return math.Abs(alpha-r) < 1e-12 && math.Abs(r) <= 8
}

// evalPowInt computes pow(b, n) for a small integer n via repeated
// self-convolution rather than the general division-based recurrence, so
// it stays well-defined at b^(0)=0 for any n>=0 (spec §9's "pow with
// integer fast path" supplement, grounded on heyoka's square/cube
// fast paths). Negative n falls back to 1/b^(-n) via the division
// recurrence once the positive power is materialized.
func (e *Evaluator) evalPowInt(idx, bIdx, n, k int) error {
	row := e.Slab.Row(idx, k)
	if n == 0 {
		for l := range row {
			row[l] = boolToF(k == 0)
		}
		return nil
	}
	if n < 0 {
		posRows := e.selfConvPower(bIdx, -n, k)
		c0 := posRows[0]
		for l := range row {
			if c0[l] == 0 {
				return xerr.New(xerr.SingularPow, "pow: zero base with negative integer exponent at node %d", idx)
			}
		}
		for l := range row {
			sum := 0.0
			for j := 0; j < k; j++ {
				sum += e.Slab.Row(idx, j)[l] * posRows[k-j][l]
			}
			src := boolToF(k == 0)
			row[l] = (src - sum) / c0[l]
		}
		return nil
	}
	copy(row, e.selfConvPower(bIdx, n, k)[k])
	return nil
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// selfConvPower returns the Taylor coefficients, orders 0..k, of bIdx
// raised to the positive integer power m, computed by repeated
// self-convolution (b^m = b^(m-1) * b).
func (e *Evaluator) selfConvPower(bIdx, m, k int) [][]float64 {
	rows := make([][]float64, k+1)
	for order := 0; order <= k; order++ {
		row := make([]float64, e.Slab.Batch)
		copy(row, e.Slab.Row(bIdx, order))
		rows[order] = row
	}
	for step := 2; step <= m; step++ {
		next := make([][]float64, k+1)
		for order := 0; order <= k; order++ {
			dst := make([]float64, e.Slab.Batch)
			for j := 0; j <= order; j++ {
				bj := rows[j]
				ck := e.Slab.Row(bIdx, order-j)
				for l := range dst {
					dst[l] += bj[l] * ck[l]
				}
			}
			next[order] = dst
		}
		rows = next
	}
	return rows
}

// evalPowConst implements the general real-exponent recurrence of spec
// §4.3 for pow(b, alpha) and, via alpha=0.5, sqrt(b).
func (e *Evaluator) evalPowConst(idx, bIdx int, alpha float64, k int, kind xerr.Kind) error {
	row := e.Slab.Row(idx, k)
	b0 := e.Slab.Row(bIdx, 0)
	if k == 0 {
		for l := range row {
			row[l] = math.Pow(b0[l], alpha)
		}
		return nil
	}
	bK := e.Slab.Row(bIdx, k)
	for l := range row {
		if b0[l] == 0 {
			return xerr.New(kind, "pow: zero base with non-integer exponent %g at node %d", alpha, idx)
		}
		sum := 0.0
		for j := 0; j < k; j++ {
			coef := alpha*float64(k-j) - float64(j)
			bkj := e.Slab.Row(bIdx, k-j)[l]
			aj := e.Slab.Row(idx, j)[l]
			sum += coef * bkj * aj
		}
		_ = bK
		row[l] = sum / (float64(k) * b0[l])
	}
	return nil
}

// evalExp implements a = exp(b) (spec §4.3).
func (e *Evaluator) evalExp(idx int, n decompose.Node, k int) error {
	bIdx := n.Args[0]
	row := e.Slab.Row(idx, k)
	if k == 0 {
		b0 := e.Slab.Row(bIdx, 0)
		for l := range row {
			row[l] = math.Exp(b0[l])
		}
		return nil
	}
	for l := range row {
		sum := 0.0
		for j := 0; j < k; j++ {
			bkj := e.Slab.Row(bIdx, k-j)[l]
			aj := e.Slab.Row(idx, j)[l]
			sum += float64(k-j) * bkj * aj
		}
		row[l] = sum / float64(k)
	}
	return nil
}

// evalLog implements a = log(b) (spec §4.3).
func (e *Evaluator) evalLog(idx int, n decompose.Node, k int) error {
	bIdx := n.Args[0]
	row := e.Slab.Row(idx, k)
	b0 := e.Slab.Row(bIdx, 0)
	if k == 0 {
		for l := range row {
			row[l] = math.Log(b0[l])
		}
		return nil
	}
	bK := e.Slab.Row(bIdx, k)
	for l := range row {
		if b0[l] == 0 {
			return xerr.New(xerr.SingularDivisor, "log: zero argument at node %d", idx)
		}
		sum := 0.0
		for j := 1; j < k; j++ {
			bkj := e.Slab.Row(bIdx, k-j)[l]
			aj := e.Slab.Row(idx, j)[l]
			sum += float64(j) * bkj * aj
		}
		row[l] = (bK[l] - sum/float64(k)) / b0[l]
	}
	return nil
}

// evalSinCos implements the paired sin/cos recurrence of spec §4.3. Only
// one of sin(b), cos(b) needs to exist as a decomposition node; the other
// is tracked in e.companions, keyed by this node's own index, and kept in
// lockstep order by order.
func (e *Evaluator) evalSinCos(idx, bIdx, k int, wantSin bool) error {
	comp, ok := e.companions[idx]
	if !ok {
		comp = NewSlab(1, e.Order, e.Slab.Batch)
		e.companions[idx] = comp
	}
	// sinRow/cosRow always refer to this node's own row for the
	// requested function and comp's row for the companion.
	var sinRow, cosRow []float64
	if wantSin {
		sinRow = e.Slab.Row(idx, k)
		cosRow = comp.Row(0, k)
	} else {
		cosRow = e.Slab.Row(idx, k)
		sinRow = comp.Row(0, k)
	}
	b0 := e.Slab.Row(bIdx, 0)
	if k == 0 {
		for l := range sinRow {
			sinRow[l] = math.Sin(b0[l])
			cosRow[l] = math.Cos(b0[l])
		}
		return nil
	}
	var sinPrev, cosPrev func(j int) []float64
	if wantSin {
		sinPrev = func(j int) []float64 { return e.Slab.Row(idx, j) }
		cosPrev = func(j int) []float64 { return comp.Row(0, j) }
	} else {
		cosPrev = func(j int) []float64 { return e.Slab.Row(idx, j) }
		sinPrev = func(j int) []float64 { return comp.Row(0, j) }
	}
	for l := range sinRow {
		sinSum, cosSum := 0.0, 0.0
		for j := 0; j < k; j++ {
			bkj := e.Slab.Row(bIdx, k-j)[l]
			sinSum += float64(k-j) * bkj * cosPrev(j)[l]
			cosSum += float64(k-j) * bkj * sinPrev(j)[l]
		}
		sinRow[l] = sinSum / float64(k)
		cosRow[l] = -cosSum / float64(k)
	}
	return nil
}
