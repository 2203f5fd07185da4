// Package taylorjet is the public façade of spec component C6: it binds a
// user ODE (a list of named equations), an initial state, a tolerance, a
// working precision and a batch width to a compiled internal/stepper
// instance, and exposes the step/propagate operations spec §4.6 names.
//
// The teacher (xyproto/vibe67) exposes its own pipeline the same way:
// run.go's compileAndRun takes source text plus options and hands back a
// single handle a caller drives to completion. Integrator follows that
// shape — construct once from Expr/Equation values, then drive it.
package taylorjet

import (
	"github.com/xyproto/taylorjet/internal/config"
	"github.com/xyproto/taylorjet/internal/decompose"
	"github.com/xyproto/taylorjet/internal/diag"
	"github.com/xyproto/taylorjet/internal/expr"
	"github.com/xyproto/taylorjet/internal/jit"
	"github.com/xyproto/taylorjet/internal/recur"
	"github.com/xyproto/taylorjet/internal/stepper"
	"github.com/xyproto/taylorjet/internal/xerr"
)

// Expr and Equation are package expr's types, re-exported so callers never
// need to import internal/expr directly.
type (
	Expr     = expr.Expr
	Equation = expr.Equation
)

// Expression constructors, re-exported from internal/expr (spec §4.1).
var (
	Num      = expr.Num
	Var      = expr.NewVar
	Param    = expr.NewParam
	Add      = expr.Add2
	Sub      = expr.Sub2
	Mul      = expr.Mul2
	Div      = expr.Div2
	Sum      = expr.Sum
	Pow      = expr.Pow
	Sqrt     = expr.Sqrt
	Exp      = expr.Exp
	Log      = expr.Log
	Sin      = expr.Sin
	Cos      = expr.Cos
	Prime    = expr.Prime
	NewCall  = expr.NewCall
)

// ParamKind selects whether the parameter buffer is shared across lanes or
// carries one value per lane (SPEC_FULL's parameter batch-broadcasting
// supplement).
type ParamKind = recur.ParamKind

const (
	ParamScalar  = recur.ParamScalar
	ParamPerLane = recur.ParamPerLane
)

// Status is one of the step outcomes of spec §6, re-exported from
// internal/stepper.
type Status = stepper.Status

const (
	Success           = stepper.Success
	TimeLimitReached  = stepper.TimeLimitReached
	ErrNonfiniteState = stepper.ErrNonfiniteState
	ErrMaxIters       = stepper.ErrMaxIters
	ErrMinStep        = stepper.ErrMinStep
)

// Error and Kind are re-exported from internal/xerr, generalized from the
// teacher's CompilerError/ErrorLevel/ErrorCategory (see error.go).
type (
	Error = xerr.Error
	Kind  = xerr.Kind
)

const (
	InvalidInput        = xerr.InvalidInput
	CompilationFailure  = xerr.CompilationFailure
	SingularDivisor     = xerr.SingularDivisor
	SingularPow         = xerr.SingularPow
	NonFiniteState      = xerr.NonFiniteState
	StepUnderflow       = xerr.StepUnderflow
	Overflow            = xerr.Overflow
)

// Precision is the working floating type of spec §4.4. Only Float64 has a
// working host today; the others are accepted at the API boundary and
// rejected at Compile time with CompilationFailure (see internal/jit).
type Precision = jit.Precision

const (
	Float32  = jit.Float32
	Float64  = jit.Float64
	Float80  = jit.Float80
	Float128 = jit.Float128
)

// Options configures New. Only Tolerance is required; Batch defaults to 1
// and every other field carries the spec's documented default when left
// zero.
type Options struct {
	Tolerance    float64
	Precision    Precision
	Batch        int
	Order        int  // 0 selects spec §4.5's default: ceil(-log(ε)/2)+1
	CompactMode  bool // force internal/jit's compact emission
	HighAccuracy bool // compensated Horner evaluation of the polynomial step
	ParamKind    ParamKind

	// CompensatedSums marks the decomposer's pairwise-sum tree nodes for
	// Kahan-compensated emission, independent of HighAccuracy.
	CompensatedSums bool

	// ForceInterpreted skips the native plugin host even when the
	// platform supports it. The interpreted host never shells out to a
	// second `go build`, which matters for callers (including this
	// module's own tests) that must stay hermetic.
	ForceInterpreted bool

	// Verbose turns diagnostic logging on, as TAYLORJET_VERBOSE does;
	// New enables it when either is set. Logging is process-wide, and
	// leaving Verbose false does not turn it off.
	Verbose bool
}

// Integrator is spec §3's integrator state: a compiled stepper plus the
// JIT host that produced it, and the decomposition that host compiled.
// Close releases the host's resources; a plugin the native host has loaded
// stays mapped for the rest of the process, since Go cannot unload one.
type Integrator struct {
	d    *decompose.Decomposition
	host jit.Host
	s    *stepper.Stepper
}

// New constructs an Integrator from a user ODE (spec §4.6): validates
// dimensions, decomposes the equations, compiles a jet, and allocates the
// Taylor slab.
func New(equations []Equation, initialState, pars []float64, opts Options) (*Integrator, error) {
	if opts.Verbose || config.Verbose() {
		diag.SetEnabled(true)
	}
	if len(equations) == 0 {
		return nil, xerr.New(xerr.InvalidInput, "taylorjet: equations must not be empty")
	}
	if opts.Batch < 1 {
		opts.Batch = 1
	}

	d, err := decompose.Decompose(equations, decompose.Options{CompensatedSums: opts.CompensatedSums})
	if err != nil {
		return nil, err
	}

	order := opts.Order
	if order <= 0 {
		order = stepper.DefaultOrder(opts.Tolerance)
	}

	host, err := selectHost(opts)
	if err != nil {
		return nil, err
	}

	mode := jit.ModeAuto
	if opts.CompactMode {
		mode = jit.ModeCompact
	}
	j, err := host.Compile(d, jit.Options{
		Order:     order,
		Batch:     opts.Batch,
		Precision: opts.Precision,
		Mode:      mode,
		ParamKind: opts.ParamKind,
	})
	if err != nil {
		_ = host.Close()
		return nil, err
	}

	s, err := stepper.New(d, j, initialState, pars, stepper.Options{
		Order:        order,
		Batch:        opts.Batch,
		Tolerance:    opts.Tolerance,
		HighAccuracy: opts.HighAccuracy,
		ParamKind:    opts.ParamKind,
	})
	if err != nil {
		_ = host.Close()
		return nil, err
	}

	return &Integrator{d: d, host: host, s: s}, nil
}

// selectHost implements spec §9's "JIT host as capability": prefer the
// native plugin host, falling back to the interpreted one when the
// platform cannot host it or the caller asked to skip it.
func selectHost(opts Options) (jit.Host, error) {
	if opts.ForceInterpreted {
		return jit.NewInterpretedHost(), nil
	}
	if h, err := jit.NewPluginHost(); err == nil {
		return h, nil
	}
	diag.Logf("taylorjet", "native JIT host unavailable, falling back to interpreted host")
	return jit.NewInterpretedHost(), nil
}

// Step evaluates one jet, advances every active lane by the adaptively
// chosen step, and reports the outcome and the step size actually taken.
func (in *Integrator) Step() (Status, float64, error) { return in.s.Step() }

// PropagateUntil advances until every lane's time reaches tf (spec §4.5).
func (in *Integrator) PropagateUntil(tf float64) (Status, error) { return in.s.PropagateUntil(tf) }

// PropagateFor is PropagateUntil(currentTime + delta).
func (in *Integrator) PropagateFor(delta float64) (Status, error) { return in.s.PropagateFor(delta) }

// State returns a copy of the current state, S*Batch, coordinate-major
// outer, lane-minor.
func (in *Integrator) State() []float64 { return in.s.State() }

// Time returns a copy of the per-lane simulation time.
func (in *Integrator) Time() []float64 { return in.s.Time() }

// Params returns the current parameter buffer.
func (in *Integrator) Params() []float64 { return in.s.Params() }

// SetParams replaces the parameter buffer between steps.
func (in *Integrator) SetParams(pars []float64) { in.s.SetParams(pars) }

// Order reports the fixed Taylor order this Integrator was compiled with.
func (in *Integrator) Order() int { return in.s.Order() }

// Close releases the JIT host's resources (for the plugin host, its scratch
// build directory; the loaded plugin itself is not unloaded). The
// Integrator must not be used afterward.
func (in *Integrator) Close() error { return in.host.Close() }
