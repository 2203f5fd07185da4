package taylorjet

import (
	"math"
	"testing"
)

// TestHarmonicOscillatorFaçade drives the full façade (spec §8's
// harmonic-oscillator scenario) the way cmd/taylorjet does, but with the
// interpreted host so the test stays hermetic.
func TestHarmonicOscillatorFaçade(t *testing.T) {
	x, v := Var("x"), Var("v")
	in, err := New([]Equation{
		Prime("x", v),
		Prime("v", Mul(Num(-1), x)),
	}, []float64{1, 0}, nil, Options{
		Tolerance:        1e-14,
		Batch:            1,
		ForceInterpreted: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer in.Close()

	status, err := in.PropagateUntil(2 * math.Pi)
	if err != nil {
		t.Fatalf("PropagateUntil: %v", err)
	}
	if status != TimeLimitReached {
		t.Fatalf("status = %v, want TimeLimitReached", status)
	}
	state := in.State()
	if math.Abs(state[0]-1) > 1e-9 || math.Abs(state[1]-0) > 1e-9 {
		t.Errorf("state = %v, want ≈(1, 0)", state)
	}
}

// TestTwoBodyKeplerFaçade drives spec §8's two-body Kepler scenario: a
// unit-radius circular orbit under GM=1 should return to (r≈1) after one
// full period.
func TestTwoBodyKeplerFaçade(t *testing.T) {
	x, y, vx, vy := Var("x"), Var("y"), Var("vx"), Var("vy")
	r2 := Add(Mul(x, x), Mul(y, y))
	r3 := Pow(r2, 1.5)
	accelX := Div(Mul(Num(-1), x), r3)
	accelY := Div(Mul(Num(-1), y), r3)

	in, err := New([]Equation{
		Prime("x", vx),
		Prime("y", vy),
		Prime("vx", accelX),
		Prime("vy", accelY),
	}, []float64{1, 0, 0, 1}, nil, Options{
		Tolerance:        1e-13,
		Batch:            1,
		ForceInterpreted: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer in.Close()

	status, err := in.PropagateUntil(2 * math.Pi)
	if err != nil {
		t.Fatalf("PropagateUntil: %v", err)
	}
	if status != TimeLimitReached {
		t.Fatalf("status = %v, want TimeLimitReached", status)
	}
	state := in.State()
	radius := math.Hypot(state[0], state[1])
	if math.Abs(radius-1) > 1e-7 {
		t.Errorf("r(2π) = %v, want ≈1", radius)
	}
}

// TestEnergyConservationOnHarmonicOscillator exercises spec §8 invariant 5:
// over a bounded propagation window, relative energy drift on an autonomous
// Hamiltonian system (H = (x²+v²)/2 for the harmonic oscillator) stays
// below the documented 10·ε multiple for a well-conditioned system.
func TestEnergyConservationOnHarmonicOscillator(t *testing.T) {
	const tol = 1e-13
	x, v := Var("x"), Var("v")
	in, err := New([]Equation{
		Prime("x", v),
		Prime("v", Mul(Num(-1), x)),
	}, []float64{1, 0}, nil, Options{
		Tolerance:        tol,
		Batch:            1,
		ForceInterpreted: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer in.Close()

	energy := func() float64 {
		s := in.State()
		return 0.5 * (s[0]*s[0] + s[1]*s[1])
	}
	e0 := energy()

	for i := 0; i < 20; i++ {
		if _, err := in.PropagateFor(math.Pi / 3); err != nil {
			t.Fatalf("PropagateFor: %v", err)
		}
		drift := math.Abs(energy()-e0) / e0
		if drift > 10*tol {
			t.Errorf("relative energy drift %v exceeds 10·ε=%v after step %d", drift, 10*tol, i)
		}
	}
}

// TestRestrictedThreeBodyMasslessBodiesFeelNoMutualPull exercises spec §8's
// stiff-free restricted three-body scenario: masses [1, 0, 0]. Because the
// two trailing bodies are massless, their equations of motion include an
// acceleration term sourced from the massive body only — there is no term
// referencing the distance between the two massless bodies at all, so
// placing them exactly coincident never divides by a zero distance.
func TestRestrictedThreeBodyMasslessBodiesFeelNoMutualPull(t *testing.T) {
	x0, y0, vx0, vy0 := Var("x0"), Var("y0"), Var("vx0"), Var("vy0")
	x1, y1, vx1, vy1 := Var("x1"), Var("y1"), Var("vx1"), Var("vy1")
	x2, y2, vx2, vy2 := Var("x2"), Var("y2"), Var("vx2"), Var("vy2")

	pullFrom := func(sx, sy, bx, by Expr) (Expr, Expr) {
		dx, dy := Sub(sx, bx), Sub(sy, by)
		r2 := Add(Mul(dx, dx), Mul(dy, dy))
		r3 := Pow(r2, 1.5)
		return Div(dx, r3), Div(dy, r3)
	}
	ax1, ay1 := pullFrom(x0, y0, x1, y1)
	ax2, ay2 := pullFrom(x0, y0, x2, y2)

	in, err := New([]Equation{
		Prime("x0", vx0), Prime("y0", vy0),
		// Body 0 is the only mass; nothing pulls on it, so its velocity
		// equations are flat zero rather than a sum with zero-weighted
		// terms for bodies 1 and 2.
		Prime("vx0", Num(0)), Prime("vy0", Num(0)),
		Prime("x1", vx1), Prime("y1", vy1),
		Prime("vx1", ax1), Prime("vy1", ay1),
		Prime("x2", vx2), Prime("y2", vy2),
		Prime("vx2", ax2), Prime("vy2", ay2),
	}, []float64{
		0, 0, 0, 0, // body 0: at origin, at rest
		1, 0, 0, 0, // body 1: coincident with body 2
		1, 0, 0, 0, // body 2: coincident with body 1
	}, nil, Options{
		Tolerance:        1e-13,
		Batch:            1,
		ForceInterpreted: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer in.Close()

	if _, err := in.PropagateFor(1.0); err != nil {
		t.Fatalf("PropagateFor: %v (coincident massless bodies should not raise a singularity)", err)
	}
	state := in.State()
	for i, name := range []string{"x", "y", "vx", "vy"} {
		b1, b2 := state[4+i], state[8+i]
		if b1 != b2 {
			t.Errorf("%s1=%v != %s2=%v; identical massless bodies under only the massive body's pull must stay coincident", name, b1, name, b2)
		}
	}
}

// TestBatchedIntegratorKeepsLanesIndependent exercises parameter batch
// broadcasting (the supplemented feature) alongside two differently
// scaled harmonic oscillators sharing one Integrator.
func TestBatchedIntegratorKeepsLanesIndependent(t *testing.T) {
	x, v, omega := Var("x"), Var("v"), Param(0)
	in, err := New([]Equation{
		Prime("x", v),
		Prime("v", Mul(Mul(Num(-1), Mul(omega, omega)), x)),
	}, []float64{1, 1, 0, 0}, []float64{1, 2}, Options{
		Tolerance:        1e-12,
		Batch:            2,
		ParamKind:        ParamPerLane,
		ForceInterpreted: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer in.Close()

	if _, err := in.PropagateFor(0.01); err != nil {
		t.Fatalf("PropagateFor: %v", err)
	}
	state := in.State()
	if state[0*2+0] == state[0*2+1] {
		t.Errorf("lanes with different omega evolved identically: %v", state)
	}
}
