// Command taylorjet drives the public façade over the two concrete
// scenarios of spec §8: the harmonic oscillator and the two-body Kepler
// problem. It is a demo binary, not the library — see the root taylorjet
// package for the API this exercises.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/xyproto/taylorjet"
)

func main() {
	var (
		scenario     = flag.String("scenario", "both", "scenario to run: harmonic, kepler, or both")
		tolerance    = flag.Float64("tolerance", 1e-14, "integrator tolerance ε")
		batch        = flag.Int("batch", 1, "SIMD lane count")
		highAccuracy = flag.Bool("high-accuracy", false, "use compensated Horner evaluation of the polynomial step")
		compact      = flag.Bool("compact", false, "force compact JIT emission")
		interpreted  = flag.Bool("interpreted", false, "skip the native plugin host and use the interpreted one")
		verbose      = flag.Bool("v", false, "enable diagnostic logging")
	)
	flag.Parse()

	opts := taylorjet.Options{
		Tolerance:        *tolerance,
		Batch:            *batch,
		HighAccuracy:     *highAccuracy,
		CompactMode:      *compact,
		ForceInterpreted: *interpreted,
		Verbose:          *verbose,
	}

	switch *scenario {
	case "harmonic":
		exitOnErr(runHarmonic(opts))
	case "kepler":
		exitOnErr(runKepler(opts))
	case "both":
		exitOnErr(runHarmonic(opts))
		exitOnErr(runKepler(opts))
	default:
		fmt.Fprintf(os.Stderr, "taylorjet: unknown scenario %q (want harmonic, kepler, or both)\n", *scenario)
		os.Exit(1)
	}
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "taylorjet: %v\n", err)
		os.Exit(1)
	}
}

// runHarmonic integrates x'=v, v'=-x from (1,0) for one full period 2π —
// spec §8's harmonic-oscillator scenario.
func runHarmonic(opts taylorjet.Options) error {
	x, v := taylorjet.Var("x"), taylorjet.Var("v")
	equations := []taylorjet.Equation{
		taylorjet.Prime("x", v),
		taylorjet.Prime("v", taylorjet.Mul(taylorjet.Num(-1), x)),
	}
	initial := repeatState([]float64{1, 0}, opts.Batch)

	in, err := taylorjet.New(equations, initial, nil, opts)
	if err != nil {
		return fmt.Errorf("harmonic: construct: %w", err)
	}
	defer in.Close()

	status, err := in.PropagateUntil(2 * math.Pi)
	if err != nil {
		return fmt.Errorf("harmonic: propagate: %w", err)
	}
	state := in.State()
	fmt.Printf("harmonic oscillator: status=%v order=%d t=%v\n", status, in.Order(), in.Time()[0])
	for l := 0; l < max(1, opts.Batch); l++ {
		fmt.Printf("  lane %d: x=%.15g v=%.15g (want ≈1, ≈0)\n", l, laneValue(state, 0, l, opts.Batch), laneValue(state, 1, l, opts.Batch))
	}
	return nil
}

// runKepler integrates the planar circular two-body problem with GM=1
// from a unit-radius circular orbit, for one full period 2π — spec §8's
// two-body Kepler scenario.
func runKepler(opts taylorjet.Options) error {
	const gm = 1.0
	x, y, vx, vy := taylorjet.Var("x"), taylorjet.Var("y"), taylorjet.Var("vx"), taylorjet.Var("vy")
	r2 := taylorjet.Add(taylorjet.Mul(x, x), taylorjet.Mul(y, y))
	r3 := taylorjet.Pow(r2, 1.5)
	accelX := taylorjet.Div(taylorjet.Mul(taylorjet.Num(-gm), x), r3)
	accelY := taylorjet.Div(taylorjet.Mul(taylorjet.Num(-gm), y), r3)

	equations := []taylorjet.Equation{
		taylorjet.Prime("x", vx),
		taylorjet.Prime("y", vy),
		taylorjet.Prime("vx", accelX),
		taylorjet.Prime("vy", accelY),
	}
	initial := repeatState([]float64{1, 0, 0, 1}, opts.Batch)

	in, err := taylorjet.New(equations, initial, nil, opts)
	if err != nil {
		return fmt.Errorf("kepler: construct: %w", err)
	}
	defer in.Close()

	status, err := in.PropagateUntil(2 * math.Pi)
	if err != nil {
		return fmt.Errorf("kepler: propagate: %w", err)
	}
	state := in.State()
	fmt.Printf("two-body Kepler: status=%v order=%d t=%v\n", status, in.Order(), in.Time()[0])
	for l := 0; l < max(1, opts.Batch); l++ {
		px, py := laneValue(state, 0, l, opts.Batch), laneValue(state, 1, l, opts.Batch)
		radius := math.Hypot(px, py)
		angle := math.Atan2(py, px)
		fmt.Printf("  lane %d: x=%.15g y=%.15g r=%.15g θ=%.15g (want r≈1, θ≈0 mod 2π)\n", l, px, py, radius, angle)
	}
	return nil
}

func repeatState(coords []float64, batch int) []float64 {
	if batch < 1 {
		batch = 1
	}
	out := make([]float64, len(coords)*batch)
	for i, v := range coords {
		for l := 0; l < batch; l++ {
			out[i*batch+l] = v
		}
	}
	return out
}

func laneValue(state []float64, coord, lane, batch int) float64 {
	if batch < 1 {
		batch = 1
	}
	return state[coord*batch+lane]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
