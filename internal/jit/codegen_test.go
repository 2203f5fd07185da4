package jit

import (
	"strings"
	"testing"

	"github.com/xyproto/taylorjet/internal/decompose"
	"github.com/xyproto/taylorjet/internal/expr"
)

func harmonicDecomp(t *testing.T) *decompose.Decomposition {
	t.Helper()
	x, v := expr.NewVar("x"), expr.NewVar("v")
	d, err := decompose.Decompose([]expr.Equation{
		expr.Prime("x", v),
		expr.Prime("v", expr.Mul2(expr.Num(-1), x)),
	}, decompose.Options{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	return d
}

func TestGenerateOpenCodedProducesCompilableShape(t *testing.T) {
	d := harmonicDecomp(t)
	src, err := GenerateOpenCoded(d, 4, 2)
	if err != nil {
		t.Fatalf("GenerateOpenCoded: %v", err)
	}
	for _, want := range []string{"package main", "func Jet(slab []float64, pars []float64) error", "return nil"} {
		if !strings.Contains(src, want) {
			t.Errorf("generated source missing %q:\n%s", want, src)
		}
	}
}

func TestGenerateCompactBoundsCodeSize(t *testing.T) {
	d := harmonicDecomp(t)
	small, err := GenerateCompact(d, 4, 2)
	if err != nil {
		t.Fatalf("GenerateCompact: %v", err)
	}
	large, err := GenerateCompact(d, 40, 2)
	if err != nil {
		t.Fatalf("GenerateCompact order=40: %v", err)
	}
	// Compact mode's size depends on |D| and the fixed subroutine table,
	// not on order (spec §4.3) — unlike GenerateOpenCoded, whose body
	// grows linearly with order.
	if len(large)-len(small) > 200 {
		t.Errorf("compact source grew by %d bytes when only order changed; expected near-constant size", len(large)-len(small))
	}
	if !strings.Contains(small, "var nodeTable = []nodeDesc{") {
		t.Errorf("expected a node table in compact output")
	}
}

func TestGenerateOpenCodedGrowsWithOrder(t *testing.T) {
	d := harmonicDecomp(t)
	small, _ := GenerateOpenCoded(d, 2, 1)
	large, _ := GenerateOpenCoded(d, 20, 1)
	if len(large) <= len(small) {
		t.Errorf("expected open-coded source to grow with order: len(2)=%d len(20)=%d", len(small), len(large))
	}
}

func pendulumDecomp(t *testing.T) *decompose.Decomposition {
	t.Helper()
	theta, omega := expr.NewVar("theta"), expr.NewVar("omega")
	d, err := decompose.Decompose([]expr.Equation{
		expr.Prime("theta", omega),
		expr.Prime("omega", expr.Mul2(expr.Num(-1), expr.Sin(theta))),
	}, decompose.Options{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	return d
}

// TestGenerateCompactRejectsSinCos is the regression test for the gap a
// review caught: a decomposition containing sin/cos must fail at
// generation time with an explicit error, not compile successfully into a
// plugin whose Jet.Run then fails on every call (applyCall's "sin","cos"
// case in the compact-mode subroutine table has no companion-buffer
// scratch and always errors).
func TestGenerateCompactRejectsSinCos(t *testing.T) {
	d := pendulumDecomp(t)
	if _, err := GenerateCompact(d, 4, 1); err == nil {
		t.Fatalf("expected GenerateCompact to reject a sin/cos decomposition instead of emitting a jet doomed to fail at runtime")
	}
}

// TestHasSinCosDetectsCallNodes exercises the helper PluginHost.Compile's
// ModeAuto uses to keep a sin/cos decomposition out of ModeCompact
// regardless of |D| crossing CompactThreshold.
func TestHasSinCosDetectsCallNodes(t *testing.T) {
	if HasSinCos(harmonicDecomp(t)) {
		t.Errorf("harmonic oscillator decomposition has no sin/cos nodes")
	}
	if !HasSinCos(pendulumDecomp(t)) {
		t.Errorf("pendulum decomposition calls sin and should be detected")
	}
}

// TestGenerateCompactAndOpenCodedBothAcceptTheSameOpMix is the
// compact-vs-open-coded equivalence check spec §8 names: for an op mix
// both emitters actually support (sin/cos excluded, per the rejection
// above), both must successfully emit a well-shaped Jet source for the
// same decomposition/order/batch rather than one silently diverging from
// the other's supported surface.
func TestGenerateCompactAndOpenCodedBothAcceptTheSameOpMix(t *testing.T) {
	x := expr.NewVar("x")
	d, err := decompose.Decompose([]expr.Equation{
		expr.Prime("x", expr.Div2(expr.Exp(x), expr.Pow(x, 3))),
	}, decompose.Options{})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	open, err := GenerateOpenCoded(d, 6, 2)
	if err != nil {
		t.Fatalf("GenerateOpenCoded: %v", err)
	}
	compact, err := GenerateCompact(d, 6, 2)
	if err != nil {
		t.Fatalf("GenerateCompact: %v", err)
	}
	for _, src := range []string{open, compact} {
		for _, want := range []string{"package main", "func Jet(slab []float64, pars []float64) error", "return nil"} {
			if !strings.Contains(src, want) {
				t.Errorf("generated source missing %q:\n%s", want, src)
			}
		}
	}
}
