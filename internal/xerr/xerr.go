// Package xerr is the shared error-kind vocabulary of spec §7, generalized
// from the teacher's errors.go (CompilerError / ErrorLevel / ErrorCategory).
// Every package below the façade returns *Error rather than bare fmt.Errorf
// so that taylorjet.New and taylorjet.Integrator.Step can classify a failure
// without string matching.
package xerr

import "fmt"

// Kind is one of the error kinds enumerated in spec §7.
type Kind int

const (
	// InvalidInput covers dimension mismatches, empty equations, and
	// non-finite bounds caught at the façade boundary.
	InvalidInput Kind = iota
	// CompilationFailure means the IR builder or the Go toolchain behind
	// it rejected the emitted program.
	CompilationFailure
	// SingularDivisor means a division recurrence was evaluated with a
	// zero leading coefficient on the divisor.
	SingularDivisor
	// SingularPow means pow() or sqrt() was evaluated with a zero base
	// and a non-integer or negative integer exponent.
	SingularPow
	// NonFiniteState means a step produced NaN or ±Inf in a state row.
	NonFiniteState
	// StepUnderflow means the chosen step size fell below the minimum
	// representable step.
	StepUnderflow
	// Overflow means a size or range computation overflowed.
	Overflow
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case CompilationFailure:
		return "CompilationFailure"
	case SingularDivisor:
		return "SingularDivisor"
	case SingularPow:
		return "SingularPow"
	case NonFiniteState:
		return "NonFiniteState"
	case StepUnderflow:
		return "StepUnderflow"
	case Overflow:
		return "Overflow"
	default:
		return "Unknown"
	}
}

// Error is the structured error value returned across package boundaries in
// this module. It deliberately carries no source location the way the
// teacher's CompilerError does (there is no source text here, only
// expression trees), but keeps the same Kind + message + optional-cause
// shape.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around an existing cause.
func Wrap(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}
