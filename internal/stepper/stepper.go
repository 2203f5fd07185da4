// Package stepper implements spec component C5: it drives a compiled
// jit.Jet through repeated order-p Taylor expansions, deduces a step size
// from the last two coefficient blocks of the state rows, advances state
// by Horner evaluation of the truncated series, and reports a status code
// per step — the adaptive-order, adaptive-step control loop described in
// spec §4.5, grounded on the teacher's own "assemble, run, inspect result,
// decide next action" driver loop in run.go's compileAndRun.
package stepper

import (
	"math"

	"github.com/xyproto/taylorjet/internal/decompose"
	"github.com/xyproto/taylorjet/internal/diag"
	"github.com/xyproto/taylorjet/internal/jit"
	"github.com/xyproto/taylorjet/internal/recur"
	"github.com/xyproto/taylorjet/internal/xerr"
)

// Status is one of the step outcomes of spec §6.
type Status int

const (
	Success Status = iota
	TimeLimitReached
	ErrNonfiniteState
	ErrMaxIters
	ErrMinStep
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case TimeLimitReached:
		return "time_limit_reached"
	case ErrNonfiniteState:
		return "err_nonfinite_state"
	case ErrMaxIters:
		return "err_max_iters"
	case ErrMinStep:
		return "err_min_step"
	default:
		return "unknown"
	}
}

// DefaultRho is spec §4.5's documented safety factor, ρ = exp(-7/10).
var DefaultRho = math.Exp(-0.7)

// DefaultOrder implements spec §4.5's default order selection,
// p = ceil(-log(ε)/2) + 1.
func DefaultOrder(tolerance float64) int {
	p := int(math.Ceil(-math.Log(tolerance)/2)) + 1
	if p < 1 {
		return 1
	}
	return p
}

// Options configures a Stepper at construction. Order, Rho, MinStep and
// MaxStep all carry defensible defaults (spec §4.5) that New fills in when
// left zero.
type Options struct {
	Order        int
	Batch        int
	Tolerance    float64
	Rho          float64
	MinStep      float64
	MaxStep      float64
	MaxIters     int
	HighAccuracy bool
	ParamKind    recur.ParamKind
}

func (o Options) withDefaults() Options {
	if o.Order <= 0 {
		o.Order = DefaultOrder(o.Tolerance)
	}
	if o.Rho <= 0 {
		o.Rho = DefaultRho
	}
	if o.MinStep <= 0 {
		o.MinStep = 1e-300
	}
	if o.MaxStep <= 0 {
		o.MaxStep = 1e300
	}
	if o.MaxIters <= 0 {
		o.MaxIters = 1_000_000
	}
	return o
}

// Stepper is spec §3's integrator state plus the compiled jet that fills
// it. It is not safe for concurrent use (spec §5): callers must serialize
// Step, PropagateUntil, PropagateFor and parameter updates themselves.
type Stepper struct {
	d    *decompose.Decomposition
	jet  jit.Jet
	slab *recur.Slab
	pars []float64

	opts Options

	t         []float64 // one per lane
	active    []bool    // false once a lane has reached its propagate_until target
	direction float64   // sign of the last requested propagation; +1 by default
}

// New constructs a Stepper over an already-compiled Jet. initialState is
// length S*Batch, coordinate-major outer, lane-minor (spec §6). pars is
// the parameter vector/buffer; its interpretation depends on
// opts.ParamKind, and New rejects it with InvalidInput when it is shorter
// than the highest parameter index d references requires.
func New(d *decompose.Decomposition, j jit.Jet, initialState []float64, pars []float64, opts Options) (*Stepper, error) {
	opts = opts.withDefaults()
	if opts.Batch < 1 {
		return nil, xerr.New(xerr.InvalidInput, "stepper: batch must be >= 1, got %d", opts.Batch)
	}
	if opts.Tolerance <= 0 || math.IsNaN(opts.Tolerance) || math.IsInf(opts.Tolerance, 0) {
		return nil, xerr.New(xerr.InvalidInput, "stepper: tolerance must be a positive finite real, got %v", opts.Tolerance)
	}
	if len(initialState) != d.S()*opts.Batch {
		return nil, xerr.New(xerr.InvalidInput, "stepper: initial state has length %d, want S*batch = %d", len(initialState), d.S()*opts.Batch)
	}
	needPars := 0
	for _, n := range d.Nodes {
		if n.Kind == decompose.KindParam && n.Param+1 > needPars {
			needPars = n.Param + 1
		}
	}
	if opts.ParamKind == recur.ParamPerLane {
		needPars *= opts.Batch
	}
	if len(pars) < needPars {
		return nil, xerr.New(xerr.InvalidInput, "stepper: parameter buffer has length %d, the equations need at least %d", len(pars), needPars)
	}

	slab := recur.NewSlab(d.Len(), opts.Order, opts.Batch)
	for i := 0; i < d.S(); i++ {
		row := slab.Row(i, 0)
		for l := 0; l < opts.Batch; l++ {
			row[l] = initialState[i*opts.Batch+l]
		}
	}

	t := make([]float64, opts.Batch)
	active := make([]bool, opts.Batch)
	for l := range active {
		active[l] = true
	}

	diag.Logf("stepper", "constructed order=%d batch=%d tolerance=%g high_accuracy=%v", opts.Order, opts.Batch, opts.Tolerance, opts.HighAccuracy)
	return &Stepper{d: d, jet: j, slab: slab, pars: pars, opts: opts, t: t, active: active, direction: 1}, nil
}

// State returns a copy of the current state, S*Batch, coordinate-major
// outer, lane-minor — matching the layout New accepts.
func (s *Stepper) State() []float64 {
	out := make([]float64, s.d.S()*s.opts.Batch)
	for i := 0; i < s.d.S(); i++ {
		row := s.slab.Row(i, 0)
		copy(out[i*s.opts.Batch:(i+1)*s.opts.Batch], row)
	}
	return out
}

// Time returns a copy of the per-lane simulation time.
func (s *Stepper) Time() []float64 {
	out := make([]float64, len(s.t))
	copy(out, s.t)
	return out
}

// Params returns the stepper's current parameter buffer. Mutating the
// returned slice does not affect the stepper; use SetParams.
func (s *Stepper) Params() []float64 {
	out := make([]float64, len(s.pars))
	copy(out, s.pars)
	return out
}

// SetParams replaces the parameter buffer between steps (spec §4.6's
// "updatable between steps" slot).
func (s *Stepper) SetParams(pars []float64) {
	s.pars = append(s.pars[:0], pars...)
}

// Order reports the fixed Taylor order this Stepper was constructed with.
func (s *Stepper) Order() int { return s.opts.Order }

// Step evaluates one jet, deduces a step size, advances every active lane
// and reports the outcome.
func (s *Stepper) Step() (Status, float64, error) {
	return s.advance(nil)
}

// PropagateUntil repeatedly steps until every lane's time has reached
// tf, clamping each lane's final step so it lands exactly on tf (spec
// §4.5's termination rule). Lanes that reach tf before others are masked
// out of further updates.
func (s *Stepper) PropagateUntil(tf float64) (Status, error) {
	for l := range s.active {
		s.active[l] = true
	}
	s.direction = sign(tf - s.t[0])
	for iter := 0; ; iter++ {
		if iter >= s.opts.MaxIters {
			return ErrMaxIters, nil
		}
		allDone := true
		for l, active := range s.active {
			if active && s.t[l] != tf {
				allDone = false
				break
			}
		}
		if allDone {
			return TimeLimitReached, nil
		}
		status, _, err := s.advance(&tf)
		if err != nil {
			return status, err
		}
		if status != Success && status != TimeLimitReached {
			return status, nil
		}
	}
}

// PropagateFor is propagate_until(t + Δ), evaluated against lane 0's
// current time per spec §4.5 (batch lanes share one control loop and thus
// one target).
func (s *Stepper) PropagateFor(delta float64) (Status, error) {
	return s.PropagateUntil(s.t[0] + delta)
}

// advance runs one jet evaluation and one adaptive step. When target is
// non-nil, each lane's step is clamped so it does not overshoot *target,
// and a lane that lands exactly on it is masked out of further advances.
func (s *Stepper) advance(target *float64) (Status, float64, error) {
	if err := s.jet.Run(s.slab, s.pars); err != nil {
		// Both singular recurrences and JIT-side compilation/runtime
		// faults surface as non-finite state here: the caller's only
		// recourse per spec §7 is lowering tolerance/order or restarting
		// from a perturbed state, same as for an actual NaN.
		return ErrNonfiniteState, 0, err
	}

	hStar := s.stepSizes()
	hCommon := math.Inf(1)
	any := false
	for l, active := range s.active {
		if !active {
			continue
		}
		any = true
		if hStar[l] < hCommon {
			hCommon = hStar[l]
		}
	}
	if !any {
		return TimeLimitReached, 0, nil
	}
	if math.IsInf(hCommon, 1) {
		hCommon = s.opts.MaxStep
	}
	if hCommon < s.opts.MinStep {
		return ErrMinStep, 0, nil
	}

	taken := make([]float64, s.opts.Batch)
	for l, active := range s.active {
		if !active {
			taken[l] = 0
			continue
		}
		h := s.direction * hCommon
		if target != nil {
			remaining := *target - s.t[l]
			if math.Abs(remaining) <= math.Abs(h) {
				h = remaining
				s.active[l] = false
			}
		}
		taken[l] = h
	}

	newState := s.horner(taken)
	for i := 0; i < s.d.S(); i++ {
		row := s.slab.Row(i, 0)
		for l := range row {
			v := newState[i][l]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ErrNonfiniteState, 0, xerr.New(xerr.NonFiniteState, "stepper: state coordinate %d went non-finite on lane %d", i, l)
			}
			row[l] = v
		}
	}
	for l := range s.t {
		s.t[l] += taken[l]
	}

	minTaken := math.Inf(1)
	for _, h := range taken {
		if math.Abs(h) > 0 && math.Abs(h) < minTaken {
			minTaken = math.Abs(h)
		}
	}
	if math.IsInf(minTaken, 1) {
		minTaken = 0
	}

	if target != nil {
		allDone := true
		for _, active := range s.active {
			if active {
				allDone = false
			}
		}
		if allDone {
			return TimeLimitReached, minTaken, nil
		}
	}
	return Success, minTaken, nil
}

// stepSizes implements spec §4.5's h* formula per lane, using the ∞-norms
// of the state rows at orders p and p-1.
func (s *Stepper) stepSizes() []float64 {
	p := s.opts.Order
	out := make([]float64, s.opts.Batch)
	for l := 0; l < s.opts.Batch; l++ {
		mp := infNorm(s.slab, s.d.S(), p, l)
		var mp1 float64
		if p >= 1 {
			mp1 = infNorm(s.slab, s.d.S(), p-1, l)
		}
		hp := math.Inf(1)
		if mp > 0 && !math.IsInf(mp, 0) && !math.IsNaN(mp) {
			hp = s.opts.Rho * math.Pow(s.opts.Tolerance/mp, 1.0/float64(p))
		}
		hp1 := math.Inf(1)
		if p > 1 && mp1 > 0 && !math.IsInf(mp1, 0) && !math.IsNaN(mp1) {
			hp1 = s.opts.Rho * math.Pow(s.opts.Tolerance/mp1, 1.0/float64(p-1))
		}
		h := math.Min(hp, hp1)
		if math.IsInf(h, 1) {
			h = s.opts.MaxStep
		}
		out[l] = h
	}
	return out
}

func infNorm(slab *recur.Slab, s, k, lane int) float64 {
	m := 0.0
	for i := 0; i < s; i++ {
		v := math.Abs(slab.Row(i, k)[lane])
		if v > m {
			m = v
		}
	}
	return m
}

// horner evaluates x(t+h) = x(t) + h*(d1 + h*(d2 + ...)) per lane, either
// plainly or — when Options.HighAccuracy is set — with a Neumaier-style
// running compensation on each addition (spec §9's "compensated Horner",
// the scheme the source names but does not pin down), mirroring package
// recur's evalAdd two-sum.
func (s *Stepper) horner(h []float64) [][]float64 {
	out := make([][]float64, s.d.S())
	for i := 0; i < s.d.S(); i++ {
		out[i] = make([]float64, s.opts.Batch)
		for l := 0; l < s.opts.Batch; l++ {
			if s.opts.HighAccuracy {
				out[i][l] = s.compensatedHorner(i, l, h[l])
			} else {
				out[i][l] = s.plainHorner(i, l, h[l])
			}
		}
	}
	return out
}

func (s *Stepper) plainHorner(stateIdx, lane int, h float64) float64 {
	acc := s.slab.Row(stateIdx, s.opts.Order)[lane]
	for k := s.opts.Order - 1; k >= 0; k-- {
		acc = acc*h + s.slab.Row(stateIdx, k)[lane]
	}
	return acc
}

func (s *Stepper) compensatedHorner(stateIdx, lane int, h float64) float64 {
	acc := s.slab.Row(stateIdx, s.opts.Order)[lane]
	corr := 0.0
	for k := s.opts.Order - 1; k >= 0; k-- {
		prod := acc*h + corr*h
		term := s.slab.Row(stateIdx, k)[lane]
		sum := prod + term
		if math.Abs(prod) >= math.Abs(term) {
			corr = (prod - sum) + term
		} else {
			corr = (term - sum) + prod
		}
		acc = sum
	}
	return acc + corr
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
