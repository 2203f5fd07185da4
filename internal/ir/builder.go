// Package ir defines the IR builder capability that internal/jit's code
// generator depends on, and nothing else. Per spec §1/§9, the low-level
// native-code assembler is out of scope for this core: the generator only
// ever calls through this interface, which exposes scalar loads/stores,
// vector (lane-parallel) arithmetic, lane broadcast, a bounded integer
// loop, and a value-yielding if/then/else — the exact capability list of
// spec §4.4.
//
// The vector-op method names echo the teacher's AVX-512 instruction files
// (vaddpd.go, vsubpd.go, vmulpd.go, vdivpd.go, vsqrt.go, vfmadd.go) even
// though this builder's only implementation (Source, in source.go) lowers
// them to a software lane loop rather than a real vector instruction: Go
// has no portable vector-intrinsic surface, so "batch width" here is a
// runtime loop dimension instead of a hardware register width. A future
// builder that lowers straight to machine code (the teacher's own
// arm64_codegen.go / x86_64 encoders, kept out of this module per §1) would
// implement the same interface and swap in without touching internal/jit.
package ir

// Value is an opaque handle to a previously emitted computation. Builders
// are free to represent it however suits their backend; callers never
// inspect it, only pass it to further Builder calls.
type Value interface{}

// Builder is the capability surface spec §4.4 requires of the code
// generator's dependency.
type Builder interface {
	// Const materializes a scalar floating-point literal.
	Const(v float64) Value

	// ScalarLoad/ScalarStore address a flat float64 buffer by name and
	// index expression (both builder-defined identifiers, not Go
	// values) — used for the handful of per-node, per-k scalar
	// quantities the generator needs outside the per-lane vectors
	// (e.g. reading a constant or a parameter).
	ScalarLoad(buf string, index Value) Value
	ScalarStore(buf string, index Value, v Value)

	// VLoad/VStore address batch-width (B-lane) slices of a flat buffer
	// at a given row offset.
	VLoad(buf string, rowOffset Value) Value
	VStore(buf string, rowOffset Value, v Value)

	// Broadcast replicates a scalar across all B lanes.
	Broadcast(v Value) Value

	// VAdd, VSub, VMul, VDiv are lane-parallel arithmetic.
	VAdd(a, b Value) Value
	VSub(a, b Value) Value
	VMul(a, b Value) Value
	VDiv(a, b Value) Value
	// VFMAdd is a fused a*b+c, named after the teacher's vfmadd.go.
	VFMAdd(a, b, c Value) Value
	// VSqrt, VRecip are the transcendental/reciprocal primitives the
	// recurrence library needs directly (spec §4.4's "built-in
	// transcendental intrinsics when available").
	VSqrt(a Value) Value
	VRecip(a Value) Value
	VCall(fn string, args ...Value) Value

	// Loop emits a bounded integer loop over [lo, hi) and calls body
	// with an index Value for each iteration; body emits its statements
	// through further Builder calls.
	Loop(lo, hi int, body func(i Value))

	// IfThenElse emits a value-yielding conditional: cond is a Value
	// produced by a comparison helper (see VIsZero/VIsFinite), then/els
	// each build and return the Value for their branch.
	IfThenElse(cond Value, then, els func() Value) Value

	// VIsZero and VIsFinite are the predicates the recurrence library's
	// singular-divisor / singular-pow / non-finite-state checks need.
	VIsZero(a Value) Value
	VIsFinite(a Value) Value

	// Comment emits a builder-defined annotation with no semantic
	// effect, used by the generator to keep emitted code traceable back
	// to the decomposition row it came from.
	Comment(format string, args ...any)

	// Fail emits a statement that aborts the generated call with an
	// error built from format and args the way fmt.Errorf would. It
	// returns nil, signaling to IfThenElse that this branch diverges and
	// has no value of its own to yield — spec §7's error kinds
	// (SingularDivisor, SingularPow) surface through here from the
	// generated code the same way recur.Evaluator returns them directly.
	Fail(format string, args ...Value) Value

	// DeclareBuffer allocates a zeroed, row-addressable scalar buffer of
	// size elements, laid out like the main slab (VLoad/VStore index it
	// the same way) for per-node bookkeeping the slab itself has no room
	// for: the paired trig companion rows and integer-power
	// self-convolution stages of spec §4.3's recurrences.
	DeclareBuffer(name string, size int)
}
