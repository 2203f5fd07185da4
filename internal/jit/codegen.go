package jit

import (
	"fmt"
	"math"
	"strings"

	"github.com/xyproto/taylorjet/internal/decompose"
	"github.com/xyproto/taylorjet/internal/ir"
)

// codegen emits a Go source file implementing the jet for one
// Decomposition/order/batch, via package ir's Source builder, for the
// PluginHost (plugin_host.go). It deliberately reproduces the same
// arithmetic as package recur's Evaluator — that duality is exactly spec
// §8's "compact-mode equivalence" / cross-host equivalence property, and
// is exercised by codegen_test.go comparing emitted-source structure
// rather than executing it (executing it needs a second `go build`, which
// this module's own test suite must not invoke).
//
// Open-coded mode unrolls every Σ_{j=0..k} at *generation* time: since k
// is a concrete Go int while this generator runs, the j-loop below is a
// loop in the generator, not in the emitted program — spec §4.3's "emits
// inline IR ... unrolls the sums fully". Compact mode instead emits one
// subroutine per (Kind) signature and a runtime loop over a node table, as
// spec §4.3 describes, bounding emitted code size to O(distinct ops)
// rather than O(|D|*order).
type codegen struct {
	d      *decompose.Decomposition
	order  int
	batch  int
	src    *ir.Source
	compan map[int]string   // sin/cos node index -> its companion buffer name
	powBuf map[int][]string // integer-pow node index -> self-convolution stage buffers, stage 2 first
}

// GenerateOpenCoded renders a complete Go source file (package main) with
// an exported Jet function, fully unrolled across orders and operand
// sums.
func GenerateOpenCoded(d *decompose.Decomposition, order, batch int) (string, error) {
	cg := &codegen{d: d, order: order, batch: batch, src: ir.NewSource(), compan: map[int]string{}, powBuf: map[int][]string{}}
	cg.src.Comment("open-coded jet for |D|=%d order=%d batch=%d", d.Len(), order, batch)
	cg.declareAuxBuffers()
	cg.src.Loop(0, batch, func(lane ir.Value) {
		cg.src.SetLane(fmt.Sprintf("%v", lane))
		cg.emitRows(0)
		for k := 1; k <= order; k++ {
			cg.emitOrder(k)
		}
	})
	return wrapFile(cg.preamble() + cg.src.Body()), nil
}

// declareAuxBuffers scans the decomposition once, ahead of the lane loop,
// for nodes whose recurrence needs bookkeeping outside the main slab: a
// sin/cos node needs its companion function's rows (recur.Evaluator's
// companions map, see recur.go); an integer-exponent pow node needs the
// intermediate self-convolution powers of its base (recur.go's
// selfConvPower). Declaring these once, by name, before the lane loop lets
// emitSinCos/emitPowInt address them with plain VLoad/VStore the same way
// they address the slab.
func (cg *codegen) declareAuxBuffers() {
	size := (cg.order + 1) * cg.batch
	for idx, n := range cg.d.Nodes {
		if n.Kind != decompose.KindCall {
			continue
		}
		switch n.Name {
		case "sin", "cos":
			name := fmt.Sprintf("companion%d", idx)
			cg.src.DeclareBuffer(name, size)
			cg.compan[idx] = name
		case "pow":
			alphaNode := cg.d.Nodes[n.Args[1]]
			m, ok := smallInt(alphaNode.Const)
			if !ok {
				continue
			}
			posM := m
			if posM < 0 {
				posM = -posM
			}
			if posM < 2 {
				continue // pow(b,0)/pow(b,1) need no self-convolution stage
			}
			bufs := make([]string, posM-1)
			for i := range bufs {
				bufs[i] = fmt.Sprintf("powstage%d_%d", idx, i+2)
				cg.src.DeclareBuffer(bufs[i], size)
			}
			cg.powBuf[idx] = bufs
		}
	}
}

// smallInt reports whether alpha is within rounding error of an integer in
// [-8, 8] — the same fast-path window recur.go's isSmallInt uses.
func smallInt(alpha float64) (int, bool) {
	r := math.Round(alpha)
	if math.Abs(alpha-r) > 1e-12 || math.Abs(r) > 8 {
		return 0, false
	}
	return int(r), true
}

// HasSinCos reports whether d contains any sin/cos call node. Compact
// mode's applyCall has no companion-buffer scratch for the paired
// recurrence (codegen.go's compact-mode sin/cos case always fails at
// runtime; see emitSinCos's companion-buffer technique for what a
// table-driven equivalent would need) — callers use this to keep such a
// decomposition out of ModeCompact instead of letting it compile
// successfully and fail on first use.
func HasSinCos(d *decompose.Decomposition) bool {
	for _, n := range d.Nodes {
		if n.Kind == decompose.KindCall && (n.Name == "sin" || n.Name == "cos") {
			return true
		}
	}
	return false
}

// GenerateCompact renders a complete Go source file using the indirection
// table of spec §4.3's compact mode: a small fixed set of subroutines, one
// per Kind, and a runtime loop over a []nodeDesc table plus a runtime
// k-loop, so emitted code size does not grow with |D|*order.
func GenerateCompact(d *decompose.Decomposition, order, batch int) (string, error) {
	if HasSinCos(d) {
		return "", fmt.Errorf("jit: compact mode does not support sin/cos; use ModeOpenCoded or ModeAuto")
	}
	var b strings.Builder
	b.WriteString(compactPreamble)
	writeNodeTable(&b, d)
	fmt.Fprintf(&b, "\nfunc Jet(slab []float64, pars []float64) error {\n")
	fmt.Fprintf(&b, "\tconst nNodes = %d\n\tconst batch = %d\n\tconst order = %d\n", d.Len(), batch, order)
	fmt.Fprintf(&b, "\tconst s = %d\n", d.S())
	// Order 0 must be computed before the k=1 state-row seed below reads
	// the derivative rows' order-0 values — the same EvaluateOrder0-then-
	// EvaluateOrder(k) sequencing recur.Evaluator.Run follows.
	b.WriteString("\tfor lane := 0; lane < batch; lane++ {\n")
	b.WriteString("\t\tfor idx := s; idx < nNodes; idx++ {\n")
	b.WriteString("\t\t\tif err := applyNode(slab, pars, idx, 0, nNodes, batch, lane); err != nil {\n")
	b.WriteString("\t\t\t\treturn err\n")
	b.WriteString("\t\t\t}\n")
	b.WriteString("\t\t}\n")
	b.WriteString("\t}\n")
	b.WriteString("\tfor k := 1; k <= order; k++ {\n")
	b.WriteString("\t\tfor lane := 0; lane < batch; lane++ {\n")
	fmt.Fprintf(&b, "\t\t\tfor i := 0; i < s; i++ {\n\t\t\t\tslab[(k*nNodes+i)*batch+lane] = slab[((k-1)*nNodes+nodeTable[derivRows[i]].args0)*batch+lane] / float64(k)\n\t\t\t}\n")
	b.WriteString("\t\t\tfor idx := s; idx < nNodes; idx++ {\n")
	b.WriteString("\t\t\t\tif err := applyNode(slab, pars, idx, k, nNodes, batch, lane); err != nil {\n")
	b.WriteString("\t\t\t\t\treturn err\n")
	b.WriteString("\t\t\t\t}\n")
	b.WriteString("\t\t\t}\n")
	b.WriteString("\t\t}\n")
	b.WriteString("\t}\n")
	b.WriteString("\treturn nil\n}\n")
	return b.String(), nil
}

func (cg *codegen) preamble() string {
	return fmt.Sprintf(`package main

import (
	"fmt"
	"math"
)

func Jet(slab []float64, pars []float64) error {
	const nNodes = %d
	const batch = %d
	const order = %d
	_ = order
`, cg.d.Len(), cg.batch, cg.order)
}

func wrapFile(body string) string {
	return body + "\treturn nil\n}\n"
}

func (cg *codegen) rowOffset(node, k int) ir.Value {
	return cg.src.Const(float64(k*cg.d.Len() + node))
}

// emitOrder emits order k for the state rows (via the derivative-row
// division-by-k identity, see package recur's doc comment) and then every
// non-state row, mirroring recur.Evaluator.EvaluateOrder exactly.
func (cg *codegen) emitOrder(k int) {
	for i := 0; i < cg.d.S(); i++ {
		derivNode := cg.d.DerivRows[i]
		f := cg.src.VLoad("slab", cg.rowOffset(derivNode, k-1))
		kk := cg.src.Const(float64(k))
		state := cg.src.VDiv(f, kk)
		cg.src.VStore("slab", cg.rowOffset(i, k), state)
	}
	cg.emitRows(k)
}

func (cg *codegen) emitRows(k int) {
	for idx, n := range cg.d.Nodes {
		switch n.Kind {
		case decompose.KindState:
			continue
		case decompose.KindConst:
			if k == 0 {
				cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.Broadcast(cg.src.Const(n.Const)))
			} else {
				cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.Const(0))
			}
		case decompose.KindParam:
			if k == 0 {
				pv := cg.src.ScalarLoad("pars", cg.src.Const(float64(n.Param)))
				cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.Broadcast(pv))
			} else {
				cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.Const(0))
			}
		case decompose.KindAdd:
			b := cg.src.VLoad("slab", cg.rowOffset(n.Args[0], k))
			c := cg.src.VLoad("slab", cg.rowOffset(n.Args[1], k))
			cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.VAdd(b, c))
		case decompose.KindSub:
			b := cg.src.VLoad("slab", cg.rowOffset(n.Args[0], k))
			c := cg.src.VLoad("slab", cg.rowOffset(n.Args[1], k))
			cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.VSub(b, c))
		case decompose.KindMul:
			cg.emitConv(idx, n.Args[0], n.Args[1], k)
		case decompose.KindDiv:
			cg.emitDiv(idx, n, k)
		case decompose.KindCall:
			cg.emitCall(idx, n, k)
		case decompose.KindDeriv:
			v := cg.src.VLoad("slab", cg.rowOffset(n.Args[0], k))
			cg.src.VStore("slab", cg.rowOffset(idx, k), v)
		}
	}
}

// emitConv unrolls Σ_{j=0..k} b^(j) c^(k-j) at generation time.
func (cg *codegen) emitConv(dst, b, c, k int) {
	acc := cg.src.Const(0)
	for j := 0; j <= k; j++ {
		bj := cg.src.VLoad("slab", cg.rowOffset(b, j))
		ck := cg.src.VLoad("slab", cg.rowOffset(c, k-j))
		acc = cg.src.VFMAdd(bj, ck, acc)
	}
	cg.src.VStore("slab", cg.rowOffset(dst, k), acc)
}

// emitDiv implements a = b/c (spec §4.3), surfacing SingularDivisor the
// same way recur.go's evalDiv does instead of silently substituting zero.
func (cg *codegen) emitDiv(idx int, n decompose.Node, k int) {
	c0 := cg.src.VLoad("slab", cg.rowOffset(n.Args[1], 0))
	isZero := cg.src.VIsZero(c0)
	b := cg.src.VLoad("slab", cg.rowOffset(n.Args[0], k))
	sum := cg.src.Const(0)
	for j := 0; j < k; j++ {
		aj := cg.src.VLoad("slab", cg.rowOffset(idx, j))
		ckj := cg.src.VLoad("slab", cg.rowOffset(n.Args[1], k-j))
		sum = cg.src.VFMAdd(aj, ckj, sum)
	}
	num := cg.src.VSub(b, sum)
	result := cg.src.IfThenElse(isZero, func() ir.Value {
		return cg.src.Fail("jit: singular divisor at node %d", cg.src.Const(float64(idx)))
	}, func() ir.Value {
		return cg.src.VDiv(num, c0)
	})
	cg.src.VStore("slab", cg.rowOffset(idx, k), result)
}

func (cg *codegen) emitCall(idx int, n decompose.Node, k int) {
	switch n.Name {
	case "square":
		cg.emitConv(idx, n.Args[0], n.Args[0], k)
	case "exp":
		cg.emitExp(idx, n, k)
	case "log":
		cg.emitLog(idx, n, k)
	case "sin", "cos":
		cg.emitSinCos(idx, n, k)
	case "sqrt":
		cg.emitPowConst(idx, n.Args[0], 0.5, k)
	case "pow":
		cg.emitPow(idx, n, k)
	default:
		cg.src.Comment("unsupported function %s at node %d (no code emitted for it)", n.Name, idx)
	}
}

func (cg *codegen) emitExp(idx int, n decompose.Node, k int) {
	if k == 0 {
		b0 := cg.src.VLoad("slab", cg.rowOffset(n.Args[0], 0))
		cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.VCall("Exp", b0))
		return
	}
	sum := cg.src.Const(0)
	for j := 0; j < k; j++ {
		bkj := cg.src.VLoad("slab", cg.rowOffset(n.Args[0], k-j))
		aj := cg.src.VLoad("slab", cg.rowOffset(idx, j))
		term := cg.src.VMul(bkj, aj)
		weighted := cg.src.VMul(term, cg.src.Const(float64(k-j)))
		sum = cg.src.VAdd(sum, weighted)
	}
	cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.VDiv(sum, cg.src.Const(float64(k))))
}

// emitLog implements a = log(b) (spec §4.3), surfacing SingularDivisor at
// a zero argument like recur.go's evalLog rather than dividing by zero.
func (cg *codegen) emitLog(idx int, n decompose.Node, k int) {
	b0 := cg.src.VLoad("slab", cg.rowOffset(n.Args[0], 0))
	if k == 0 {
		cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.VCall("Log", b0))
		return
	}
	isZero := cg.src.VIsZero(b0)
	bK := cg.src.VLoad("slab", cg.rowOffset(n.Args[0], k))
	sum := cg.src.Const(0)
	for j := 1; j < k; j++ {
		bkj := cg.src.VLoad("slab", cg.rowOffset(n.Args[0], k-j))
		aj := cg.src.VLoad("slab", cg.rowOffset(idx, j))
		term := cg.src.VMul(bkj, aj)
		weighted := cg.src.VMul(term, cg.src.Const(float64(j)))
		sum = cg.src.VAdd(sum, weighted)
	}
	rhs := cg.src.VSub(bK, cg.src.VDiv(sum, cg.src.Const(float64(k))))
	result := cg.src.IfThenElse(isZero, func() ir.Value {
		return cg.src.Fail("jit: log singularity at node %d", cg.src.Const(float64(idx)))
	}, func() ir.Value {
		return cg.src.VDiv(rhs, b0)
	})
	cg.src.VStore("slab", cg.rowOffset(idx, k), result)
}

// emitSinCos implements the paired sin/cos recurrence of spec §4.3,
// mirroring recur.go's evalSinCos: whichever of sin(b)/cos(b) this node
// is NOT is tracked in its companion buffer (declareAuxBuffers), updated
// order by order in lockstep with this node's own slab row.
func (cg *codegen) emitSinCos(idx int, n decompose.Node, k int) {
	companion := cg.compan[idx]
	wantSin := n.Name == "sin"
	bIdx := n.Args[0]
	if k == 0 {
		b0 := cg.src.VLoad("slab", cg.rowOffset(bIdx, 0))
		sinVal := cg.src.VCall("Sin", b0)
		cosVal := cg.src.VCall("Cos", b0)
		if wantSin {
			cg.src.VStore("slab", cg.rowOffset(idx, 0), sinVal)
			cg.src.VStore(companion, cg.src.Const(0), cosVal)
		} else {
			cg.src.VStore("slab", cg.rowOffset(idx, 0), cosVal)
			cg.src.VStore(companion, cg.src.Const(0), sinVal)
		}
		return
	}
	sinSum := cg.src.Const(0)
	cosSum := cg.src.Const(0)
	for j := 0; j < k; j++ {
		bkj := cg.src.VLoad("slab", cg.rowOffset(bIdx, k-j))
		weighted := cg.src.VMul(bkj, cg.src.Const(float64(k-j)))
		var sinPrev, cosPrev ir.Value
		if wantSin {
			sinPrev = cg.src.VLoad("slab", cg.rowOffset(idx, j))
			cosPrev = cg.src.VLoad(companion, cg.src.Const(float64(j)))
		} else {
			cosPrev = cg.src.VLoad("slab", cg.rowOffset(idx, j))
			sinPrev = cg.src.VLoad(companion, cg.src.Const(float64(j)))
		}
		sinSum = cg.src.VAdd(sinSum, cg.src.VMul(weighted, cosPrev))
		cosSum = cg.src.VAdd(cosSum, cg.src.VMul(weighted, sinPrev))
	}
	kk := cg.src.Const(float64(k))
	sinVal := cg.src.VDiv(sinSum, kk)
	cosVal := cg.src.VDiv(cg.src.VMul(cosSum, cg.src.Const(-1)), kk)
	if wantSin {
		cg.src.VStore("slab", cg.rowOffset(idx, k), sinVal)
		cg.src.VStore(companion, cg.src.Const(float64(k)), cosVal)
	} else {
		cg.src.VStore("slab", cg.rowOffset(idx, k), cosVal)
		cg.src.VStore(companion, cg.src.Const(float64(k)), sinVal)
	}
}

// emitPow dispatches pow(b, alpha) to the integer self-convolution fast
// path when alpha is a small integer constant, and to the general
// real-exponent recurrence otherwise — mirroring recur.go's evalPow.
func (cg *codegen) emitPow(idx int, n decompose.Node, k int) {
	bIdx := n.Args[0]
	alphaNode := cg.d.Nodes[n.Args[1]]
	if m, ok := smallInt(alphaNode.Const); ok {
		cg.emitPowInt(idx, bIdx, m, k)
		return
	}
	cg.emitPowConst(idx, bIdx, alphaNode.Const, k)
}

// emitPowConst implements the general real-exponent recurrence of spec
// §4.3 for pow(b, alpha) and, via alpha=0.5, sqrt(b), surfacing
// SingularPow at a zero base like recur.go's evalPowConst.
func (cg *codegen) emitPowConst(idx, bIdx int, alpha float64, k int) {
	b0 := cg.src.VLoad("slab", cg.rowOffset(bIdx, 0))
	if k == 0 {
		cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.VCall("Pow", b0, cg.src.Const(alpha)))
		return
	}
	isZero := cg.src.VIsZero(b0)
	sum := cg.src.Const(0)
	for j := 0; j < k; j++ {
		coef := alpha*float64(k-j) - float64(j)
		bkj := cg.src.VLoad("slab", cg.rowOffset(bIdx, k-j))
		aj := cg.src.VLoad("slab", cg.rowOffset(idx, j))
		term := cg.src.VMul(bkj, aj)
		weighted := cg.src.VMul(term, cg.src.Const(coef))
		sum = cg.src.VAdd(sum, weighted)
	}
	denom := cg.src.VMul(cg.src.Const(float64(k)), b0)
	result := cg.src.IfThenElse(isZero, func() ir.Value {
		return cg.src.Fail("jit: singular pow at node %d", cg.src.Const(float64(idx)))
	}, func() ir.Value {
		return cg.src.VDiv(sum, denom)
	})
	cg.src.VStore("slab", cg.rowOffset(idx, k), result)
}

// emitPowInt computes pow(b, m) for a small integer m via repeated
// self-convolution (recur.go's evalPowInt/selfConvPower), staying
// well-defined at b^(0)=0 for m>=0 instead of routing through a division
// that recur.go never takes for these exponents either. Negative m falls
// back to a division against the positive power's own coefficients,
// guarded the same way emitPowConst guards its general division.
func (cg *codegen) emitPowInt(idx, bIdx, m, k int) {
	if m == 0 {
		v := 0.0
		if k == 0 {
			v = 1
		}
		cg.src.VStore("slab", cg.rowOffset(idx, k), cg.src.Const(v))
		return
	}
	posM := m
	if posM < 0 {
		posM = -posM
	}
	posRowAtK := cg.emitSelfConvPower(idx, bIdx, posM, k)
	if m > 0 {
		cg.src.VStore("slab", cg.rowOffset(idx, k), posRowAtK)
		return
	}
	cg.emitPowIntNegative(idx, bIdx, posM, k)
}

// emitSelfConvPower emits the order-k coefficient of b^posM, writing every
// intermediate stage's order-k row into its declared buffer (powBuf) along
// the way, and returns that coefficient as a Value. Stages persist across
// orders within a lane, so by the time this runs for order k every stage's
// rows 0..k-1 are already populated from previous calls at smaller k.
func (cg *codegen) emitSelfConvPower(idx, bIdx, posM, k int) ir.Value {
	if posM == 1 {
		return cg.src.VLoad("slab", cg.rowOffset(bIdx, k))
	}
	bufs := cg.powBuf[idx]
	cg.convSelfInto(bufs[0], bIdx, k)
	for stage := 3; stage <= posM; stage++ {
		cg.convBufInto(bufs[stage-2], bufs[stage-3], bIdx, k)
	}
	return cg.src.VLoad(bufs[posM-2], cg.src.Const(float64(k)))
}

// convSelfInto writes Σ_{j=0..k} b^(j) b^(k-j) — the order-k coefficient
// of b^2 — into dst's row k.
func (cg *codegen) convSelfInto(dst string, bIdx, k int) {
	acc := cg.src.Const(0)
	for j := 0; j <= k; j++ {
		bj := cg.src.VLoad("slab", cg.rowOffset(bIdx, j))
		bkj := cg.src.VLoad("slab", cg.rowOffset(bIdx, k-j))
		acc = cg.src.VFMAdd(bj, bkj, acc)
	}
	cg.src.VStore(dst, cg.src.Const(float64(k)), acc)
}

// convBufInto writes Σ_{j=0..k} src^(j) b^(k-j) — one more self-convolution
// step toward a higher integer power — into dst's row k.
func (cg *codegen) convBufInto(dst, src string, bIdx, k int) {
	acc := cg.src.Const(0)
	for j := 0; j <= k; j++ {
		sj := cg.src.VLoad(src, cg.src.Const(float64(j)))
		bkj := cg.src.VLoad("slab", cg.rowOffset(bIdx, k-j))
		acc = cg.src.VFMAdd(sj, bkj, acc)
	}
	cg.src.VStore(dst, cg.src.Const(float64(k)), acc)
}

// emitPowIntNegative implements pow(b, -posM) = 1/b^posM via the division
// recurrence against b^posM's own coefficients (already written into its
// buffer/slab row by emitSelfConvPower just before this runs), guarded
// against a zero positive-power base like recur.go's evalPowInt.
func (cg *codegen) emitPowIntNegative(idx, bIdx, posM, k int) {
	posRow := func(t int) ir.Value {
		if posM == 1 {
			return cg.src.VLoad("slab", cg.rowOffset(bIdx, t))
		}
		return cg.src.VLoad(cg.powBuf[idx][posM-2], cg.src.Const(float64(t)))
	}
	c0 := posRow(0)
	isZero := cg.src.VIsZero(c0)
	srcVal := 0.0
	if k == 0 {
		srcVal = 1
	}
	sum := cg.src.Const(0)
	for j := 0; j < k; j++ {
		aj := cg.src.VLoad("slab", cg.rowOffset(idx, j))
		ckj := posRow(k - j)
		sum = cg.src.VFMAdd(aj, ckj, sum)
	}
	num := cg.src.VSub(cg.src.Const(srcVal), sum)
	result := cg.src.IfThenElse(isZero, func() ir.Value {
		return cg.src.Fail("jit: singular pow at node %d", cg.src.Const(float64(idx)))
	}, func() ir.Value {
		return cg.src.VDiv(num, c0)
	})
	cg.src.VStore("slab", cg.rowOffset(idx, k), result)
}

const compactPreamble = `package main

import (
	"fmt"
	"math"
)

type nodeDesc struct {
	kind  int
	args0 int
	args1 int
	name  string
	cval  float64
	pidx  int
}

var derivRows []int
`

// writeNodeTable emits the []nodeDesc table and the shared applyNode
// dispatcher that spec §4.3's compact mode describes: one subroutine body
// per Kind, selected by a runtime switch instead of being replicated once
// per decomposition row.
func writeNodeTable(b *strings.Builder, d *decompose.Decomposition) {
	fmt.Fprintf(b, "\nvar nodeTable = []nodeDesc{\n")
	for _, n := range d.Nodes {
		a0, a1 := -1, -1
		if len(n.Args) > 0 {
			a0 = n.Args[0]
		}
		if len(n.Args) > 1 {
			a1 = n.Args[1]
		}
		// pow's exponent lives in Args[1]'s own constant node (recur.go's
		// evalPow resolves it the same way), not in this node's Const,
		// which KindCall leaves zero.
		cval := n.Const
		if n.Kind == decompose.KindCall && n.Name == "pow" {
			cval = d.Nodes[a1].Const
		}
		fmt.Fprintf(b, "\t{kind: %d, args0: %d, args1: %d, name: %q, cval: %g, pidx: %d},\n", n.Kind, a0, a1, n.Name, cval, n.Param)
	}
	b.WriteString("}\n")
	fmt.Fprintf(b, "\nfunc init() {\n\tderivRows = []int{")
	for i, r := range d.DerivRows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%d", r)
	}
	b.WriteString("}\n}\n")
	b.WriteString(applyNodeSource)
}

// applyNodeSource is the fixed, decomposition-independent body of
// spec §4.3's compact-mode subroutine table: one case per Kind, each
// reproducing the same recurrence as package recur's Evaluator.
const applyNodeSource = `
func applyNode(slab []float64, pars []float64, idx, k, nNodes, batch, lane int) error {
	n := nodeTable[idx]
	row := idx*batch + lane
	switch n.kind {
	case 1: // KindConst
		if k == 0 {
			slab[k*nNodes*batch+row] = n.cval
		} else {
			slab[k*nNodes*batch+row] = 0
		}
	case 2: // KindParam
		if k == 0 {
			slab[k*nNodes*batch+row] = pars[n.pidx]
		} else {
			slab[k*nNodes*batch+row] = 0
		}
	case 3: // KindAdd
		slab[k*nNodes*batch+row] = slab[(k*nNodes+n.args0)*batch+lane] + slab[(k*nNodes+n.args1)*batch+lane]
	case 4: // KindSub
		slab[k*nNodes*batch+row] = slab[(k*nNodes+n.args0)*batch+lane] - slab[(k*nNodes+n.args1)*batch+lane]
	case 5: // KindMul
		sum := 0.0
		for j := 0; j <= k; j++ {
			sum += slab[(j*nNodes+n.args0)*batch+lane] * slab[((k-j)*nNodes+n.args1)*batch+lane]
		}
		slab[k*nNodes*batch+row] = sum
	case 6: // KindDiv
		c0 := slab[n.args1*batch+lane]
		if c0 == 0 {
			return fmt.Errorf("jit: singular divisor at node %d", idx)
		}
		sum := 0.0
		for j := 0; j < k; j++ {
			sum += slab[(j*nNodes+idx)*batch+lane] * slab[((k-j)*nNodes+n.args1)*batch+lane]
		}
		slab[k*nNodes*batch+row] = (slab[(k*nNodes+n.args0)*batch+lane] - sum) / c0
	case 7: // KindCall
		return applyCall(slab, n, idx, k, nNodes, batch, lane)
	case 8: // KindDeriv
		slab[k*nNodes*batch+row] = slab[(k*nNodes+n.args0)*batch+lane]
	}
	return nil
}

func applyCall(slab []float64, n nodeDesc, idx, k, nNodes, batch, lane int) error {
	row := idx*batch + lane
	b0 := slab[n.args0*batch+lane]
	switch n.name {
	case "exp":
		if k == 0 {
			slab[row] = math.Exp(b0)
			return nil
		}
		sum := 0.0
		for j := 0; j < k; j++ {
			sum += float64(k-j) * slab[((k-j)*nNodes+n.args0)*batch+lane] * slab[(j*nNodes+idx)*batch+lane]
		}
		slab[k*nNodes*batch+row] = sum / float64(k)
	case "log":
		if k == 0 {
			slab[row] = math.Log(b0)
			return nil
		}
		if b0 == 0 {
			return fmt.Errorf("jit: log singularity at node %d", idx)
		}
		sum := 0.0
		for j := 1; j < k; j++ {
			sum += float64(j) * slab[((k-j)*nNodes+n.args0)*batch+lane] * slab[(j*nNodes+idx)*batch+lane]
		}
		slab[k*nNodes*batch+row] = (slab[(k*nNodes+n.args0)*batch+lane] - sum/float64(k)) / b0
	case "square":
		sum := 0.0
		for j := 0; j <= k; j++ {
			sum += slab[(j*nNodes+n.args0)*batch+lane] * slab[((k-j)*nNodes+n.args0)*batch+lane]
		}
		slab[k*nNodes*batch+row] = sum
	case "sqrt", "pow":
		// Unlike InterpretedHost and GenerateOpenCoded, compact mode does
		// not special-case small integer exponents: pow(b,3) at b=0
		// raises SingularPow here even though it is well-defined (0).
		// Fixing that needs per-node self-convolution scratch the way
		// emitPowInt allocates via DeclareBuffer, which compact mode's
		// shared, size-independent node table does not have room for.
		alpha := n.cval
		if n.name == "sqrt" {
			alpha = 0.5
		}
		if k == 0 {
			slab[row] = math.Pow(b0, alpha)
			return nil
		}
		if b0 == 0 {
			return fmt.Errorf("jit: singular pow at node %d", idx)
		}
		sum := 0.0
		for j := 0; j < k; j++ {
			coef := alpha*float64(k-j) - float64(j)
			sum += coef * slab[((k-j)*nNodes+n.args0)*batch+lane] * slab[(j*nNodes+idx)*batch+lane]
		}
		slab[k*nNodes*batch+row] = sum / (float64(k) * b0)
	case "sin", "cos":
		// Unreachable in practice: GenerateCompact's HasSinCos guard
		// refuses to emit this template at all for a decomposition
		// containing sin/cos, so no built plugin's node table ever
		// dispatches here. Kept as a defensive fallback, not a gap.
		return fmt.Errorf("jit: compact-mode sin/cos not supported for node %d; recompile with ModeOpenCoded or use InterpretedHost", idx)
	default:
		return fmt.Errorf("jit: unregistered function %q at node %d", n.name, idx)
	}
	return nil
}
`
