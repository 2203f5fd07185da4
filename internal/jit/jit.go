// Package jit implements spec component C4: given a Decomposition it
// assembles a per-order driver and exposes it as a callable Jet. Two hosts
// are provided — Interpreted (no external toolchain; taylorjet.New falls
// back to it when the plugin host is unavailable or skipped) and
// Plugin (native: emits Go source, builds it with -buildmode=plugin, and
// loads the resulting function pointer, mirroring the teacher's
// compile-then-exec idiom in run.go and its dynamic-symbol-resolution
// idiom in dynlib.go/cffi_manager.go). Both satisfy the same Host/Jet
// interfaces so internal/stepper and the façade never know which one is
// behind a given instance (spec §9, "JIT host as capability").
package jit

import (
	"github.com/xyproto/taylorjet/internal/decompose"
	"github.com/xyproto/taylorjet/internal/recur"
)

// Mode selects the emission strategy of spec §4.3.
type Mode int

const (
	// ModeAuto picks compact once |D| crosses internal/config's
	// threshold and the decomposition has no sin/cos node (see
	// HasSinCos), open-coded otherwise.
	ModeAuto Mode = iota
	ModeOpenCoded
	ModeCompact
)

// Precision is the working floating type. The teacher's own backends only
// ever touch binary32/binary64 registers; binary80/binary128 are modeled
// here (spec §4.4 lists all four) but every Host.Compile reports
// CompilationFailure for any precision it can't materialize — both hosts
// today only materialize Float64 (interpreted_host.go, plugin_host.go).
type Precision int

// Float64 is Precision's zero value: it's the only precision every host
// actually supports today, so an Options{} left unspecified still compiles.
const (
	Float64 Precision = iota
	Float32
	Float80
	Float128
)

// Options configures a single Compile call.
type Options struct {
	Order     int
	Batch     int
	Precision Precision
	Mode      Mode
	ParamKind recur.ParamKind
}

// Jet is a compiled Taylor-recurrence evaluator for one Decomposition,
// order, batch width and precision. Run expects slab's state rows
// (0..S-1) at order 0 already seeded from the caller's current state; it
// fills every other row of every order up to Options.Order.
type Jet interface {
	Run(slab *recur.Slab, pars []float64) error
}

// Host compiles decompositions into Jets and owns whatever process-wide or
// per-instance resources that requires (a loaded plugin module, a
// temporary build directory, ...). Close releases them; per spec §5 a host
// must serialize its own compilation internally but multiple Jets it
// produced may run concurrently from different stepper instances.
type Host interface {
	Compile(d *decompose.Decomposition, opts Options) (Jet, error)
	Close() error
}
