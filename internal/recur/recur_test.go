package recur

import (
	"math"
	"testing"

	"github.com/xyproto/taylorjet/internal/decompose"
	"github.com/xyproto/taylorjet/internal/expr"
)

func build(t *testing.T, eqs []expr.Equation) *decompose.Decomposition {
	t.Helper()
	d, err := decompose.Decompose(eqs, decompose.Options{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	return d
}

// TestLinearSystemMatchesAnalytic checks spec §8 invariant 4 for x'=v,
// v'=-x: the jet at order k should match the analytic derivative of
// cos/sin divided by k!.
func TestLinearSystemMatchesAnalytic(t *testing.T) {
	x, v := expr.NewVar("x"), expr.NewVar("v")
	d := build(t, []expr.Equation{
		expr.Prime("x", v),
		expr.Prime("v", expr.Mul2(expr.Num(-1), x)),
	})

	const order = 6
	const batch = 1
	slab := NewSlab(d.Len(), order, batch)
	slab.Row(0, 0)[0] = 1 // x(0) = 1
	slab.Row(1, 0)[0] = 0 // v(0) = 0

	ev := NewEvaluator(d, slab, nil, ParamScalar, order)
	if err := ev.EvaluateOrder0(); err != nil {
		t.Fatalf("order 0: %v", err)
	}
	for k := 1; k <= order; k++ {
		if err := ev.EvaluateOrder(k); err != nil {
			t.Fatalf("order %d: %v", k, err)
		}
	}

	// x(t)=cos(t) => x^(k) = cos^(k)(0)/k!.
	want := []float64{1, 0, -0.5, 0, 1.0 / 24, 0, -1.0 / 720}
	for k := 0; k <= order; k++ {
		got := slab.Row(0, k)[0]
		if math.Abs(got-want[k]) > 1e-12 {
			t.Errorf("x^(%d) = %.12f, want %.12f", k, got, want[k])
		}
	}
}

func TestDivisionSingularityDetected(t *testing.T) {
	x := expr.NewVar("x")
	d := build(t, []expr.Equation{
		expr.Prime("x", expr.Div2(expr.Num(1), x)),
	})
	slab := NewSlab(d.Len(), 2, 1)
	slab.Row(0, 0)[0] = 0 // x(0) = 0 -> divisor starts at zero
	ev := NewEvaluator(d, slab, nil, ParamScalar, 2)
	if err := ev.EvaluateOrder0(); err == nil {
		t.Fatalf("expected a SingularDivisor error, got nil")
	}
}

func TestSquareMatchesMulSelf(t *testing.T) {
	x := expr.NewVar("x")
	dSquare := build(t, []expr.Equation{expr.Prime("x", expr.Pow(x, 2))})
	dMul := build(t, []expr.Equation{expr.Prime("x", expr.Mul2(x, x))})

	const order = 4
	run := func(d *decompose.Decomposition) []float64 {
		slab := NewSlab(d.Len(), order, 1)
		slab.Row(0, 0)[0] = 2
		ev := NewEvaluator(d, slab, nil, ParamScalar, order)
		if err := ev.EvaluateOrder0(); err != nil {
			t.Fatalf("order0: %v", err)
		}
		for k := 1; k <= order; k++ {
			if err := ev.EvaluateOrder(k); err != nil {
				t.Fatalf("order %d: %v", k, err)
			}
		}
		out := make([]float64, order+1)
		for k := range out {
			out[k] = slab.Row(d.DerivRows[0], k)[0]
		}
		return out
	}
	a, b := run(dSquare), run(dMul)
	for k := range a {
		if math.Abs(a[k]-b[k]) > 1e-12 {
			t.Errorf("order %d: square()=%v mul(x,x)=%v differ", k, a[k], b[k])
		}
	}
}

func TestSinCosPairedRecurrence(t *testing.T) {
	x := expr.NewVar("x")
	d := build(t, []expr.Equation{
		expr.Prime("x", expr.Sin(x)),
	})
	const order = 5
	slab := NewSlab(d.Len(), order, 1)
	slab.Row(0, 0)[0] = 0.3
	ev := NewEvaluator(d, slab, nil, ParamScalar, order)
	if err := ev.EvaluateOrder0(); err != nil {
		t.Fatalf("order0: %v", err)
	}
	for k := 1; k <= order; k++ {
		if err := ev.EvaluateOrder(k); err != nil {
			t.Fatalf("order %d: %v", k, err)
		}
	}
	// The sin node's coefficients are those of sin(x(t)) along the
	// solution of x'=sin(x), x(0)=0.3, whose closed form is
	// tan(x(t)/2) = tan(0.15)*e^t; they should reconstruct sin(x(h)) to
	// within truncation error for small h.
	h := 0.01
	approx := 0.0
	hp := 1.0
	sinNodeIdx := len(d.Nodes) - d.S() - 1 // the sole intermediate call node, right before the deriv tail
	for k := 0; k <= order; k++ {
		approx += slab.Row(sinNodeIdx, k)[0] * hp
		hp *= h
	}
	want := math.Sin(2 * math.Atan(math.Tan(0.15)*math.Exp(h)))
	if math.Abs(approx-want) > 1e-10 {
		t.Errorf("sin taylor reconstruction = %.12f, want %.12f", approx, want)
	}
}

func TestPowIntFastPathMatchesGeneralRecurrenceAtZeroBase(t *testing.T) {
	x := expr.NewVar("x")
	d := build(t, []expr.Equation{
		expr.Prime("x", expr.NewCall("pow", x, expr.Num(3))),
	})
	const order = 3
	slab := NewSlab(d.Len(), order, 1)
	slab.Row(0, 0)[0] = 0 // base is zero; general recurrence would be singular, PowInt must not be
	ev := NewEvaluator(d, slab, nil, ParamScalar, order)
	if err := ev.EvaluateOrder0(); err != nil {
		t.Fatalf("order0: %v", err)
	}
	for k := 1; k <= order; k++ {
		if err := ev.EvaluateOrder(k); err != nil {
			t.Fatalf("order %d: %v", k, err)
		}
	}
}

func TestCompensatedAddsStayConsistent(t *testing.T) {
	x := expr.NewVar("x")
	terms := make([]expr.Expr, 6)
	for i := range terms {
		terms[i] = x
	}
	d, err := decompose.Decompose([]expr.Equation{expr.Prime("x", expr.Sum(terms...))}, decompose.Options{CompensatedSums: true})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	slab := NewSlab(d.Len(), 1, 1)
	slab.Row(0, 0)[0] = 1
	ev := NewEvaluator(d, slab, nil, ParamScalar, 1)
	if err := ev.EvaluateOrder0(); err != nil {
		t.Fatalf("order0: %v", err)
	}
	got := slab.Row(d.DerivRows[0], 0)[0]
	if math.Abs(got-6) > 1e-12 {
		t.Errorf("sum of 6 copies of x=1 = %v, want 6", got)
	}
}
