package ir

import (
	"fmt"
	"strings"
)

// exprValue is the only Value representation Source produces: a Go
// expression (or a bound local-variable name), valid in the context of the
// current lane, wrapped so callers can't accidentally treat it as a plain
// string.
type exprValue string

// Source is the Builder implementation internal/jit uses to assemble a Go
// source file for -buildmode=plugin compilation (spec §9's "JIT host as
// capability": the builder here is strictly scoped to construction time,
// and the caller owns nothing but the resulting Value handles and, once
// done, the emitted text). Vector ops lower to scalar Go arithmetic
// evaluated once per lane — see the package doc in builder.go for why.
type Source struct {
	body   strings.Builder
	tmp    int
	indent int
	lane   string // current lane-index expression; set by the generator before emitting a lane's body
}

// NewSource returns an empty Source builder.
func NewSource() *Source { return &Source{lane: "0"} }

var _ Builder = (*Source)(nil)

// SetLane tells the builder which Go expression currently identifies the
// active SIMD lane; VLoad/VStore use it to compute a row*batch+lane offset.
// The generator calls this once per iteration of its own lane loop.
func (s *Source) SetLane(expr string) { s.lane = expr }

// Body returns the accumulated Go statements emitted so far.
func (s *Source) Body() string { return s.body.String() }

func (s *Source) line(format string, args ...any) {
	s.body.WriteString(strings.Repeat("\t", s.indent))
	fmt.Fprintf(&s.body, format, args...)
	s.body.WriteByte('\n')
}

func (s *Source) asExpr(v Value) string { return string(v.(exprValue)) }

// bind assigns expr to a fresh local so later references don't
// re-evaluate it (important once expr has side-effecting array indexing in
// it and matters for readability of the emitted source, which a human may
// need to read when CompilationFailure points at a line).
func (s *Source) bind(expr string) Value {
	name := fmt.Sprintf("t%d", s.tmp)
	s.tmp++
	s.line("%s := %s", name, expr)
	return exprValue(name)
}

func (s *Source) Const(v float64) Value {
	return exprValue(fmt.Sprintf("%g", v))
}

func (s *Source) ScalarLoad(buf string, index Value) Value {
	return exprValue(fmt.Sprintf("%s[%s]", buf, s.asExpr(index)))
}

func (s *Source) ScalarStore(buf string, index Value, v Value) {
	s.line("%s[%s] = %s", buf, s.asExpr(index), s.asExpr(v))
}

func (s *Source) VLoad(buf string, rowOffset Value) Value {
	return exprValue(fmt.Sprintf("%s[(%s)*batch+%s]", buf, s.asExpr(rowOffset), s.lane))
}

func (s *Source) VStore(buf string, rowOffset Value, v Value) {
	s.line("%s[(%s)*batch+%s] = %s", buf, s.asExpr(rowOffset), s.lane, s.asExpr(v))
}

func (s *Source) Broadcast(v Value) Value { return v }

func (s *Source) VAdd(a, b Value) Value {
	return s.bind(fmt.Sprintf("%s + %s", s.asExpr(a), s.asExpr(b)))
}

func (s *Source) VSub(a, b Value) Value {
	return s.bind(fmt.Sprintf("%s - %s", s.asExpr(a), s.asExpr(b)))
}

func (s *Source) VMul(a, b Value) Value {
	return s.bind(fmt.Sprintf("%s * %s", s.asExpr(a), s.asExpr(b)))
}

func (s *Source) VDiv(a, b Value) Value {
	return s.bind(fmt.Sprintf("%s / %s", s.asExpr(a), s.asExpr(b)))
}

func (s *Source) VFMAdd(a, b, c Value) Value {
	return s.bind(fmt.Sprintf("%s*%s + %s", s.asExpr(a), s.asExpr(b), s.asExpr(c)))
}

func (s *Source) VSqrt(a Value) Value {
	return s.bind(fmt.Sprintf("math.Sqrt(%s)", s.asExpr(a)))
}

func (s *Source) VRecip(a Value) Value {
	return s.bind(fmt.Sprintf("1.0 / %s", s.asExpr(a)))
}

func (s *Source) VCall(fn string, args ...Value) Value {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = s.asExpr(a)
	}
	return s.bind(fmt.Sprintf("math.%s(%s)", fn, strings.Join(parts, ", ")))
}

func (s *Source) VIsZero(a Value) Value {
	return exprValue(fmt.Sprintf("(%s == 0)", s.asExpr(a)))
}

func (s *Source) VIsFinite(a Value) Value {
	e := s.asExpr(a)
	return exprValue(fmt.Sprintf("(!math.IsNaN(%s) && !math.IsInf(%s, 0))", e, e))
}

func (s *Source) Loop(lo, hi int, body func(i Value)) {
	idx := fmt.Sprintf("i%d", s.tmp)
	s.tmp++
	s.line("for %s := %d; %s < %d; %s++ {", idx, lo, idx, hi, idx)
	s.indent++
	body(exprValue(idx))
	s.indent--
	s.line("}")
}

func (s *Source) IfThenElse(cond Value, then, els func() Value) Value {
	name := fmt.Sprintf("t%d", s.tmp)
	s.tmp++
	s.line("var %s float64", name)
	s.line("if %s {", s.asExpr(cond))
	s.indent++
	if v := then(); v != nil {
		s.line("%s = %s", name, s.asExpr(v))
	}
	s.indent--
	s.line("} else {")
	s.indent++
	if v := els(); v != nil {
		s.line("%s = %s", name, s.asExpr(v))
	}
	s.indent--
	s.line("}")
	return exprValue(name)
}

func (s *Source) Comment(format string, args ...any) {
	s.line("// "+format, args...)
}

func (s *Source) Fail(format string, args ...Value) Value {
	if len(args) == 0 {
		s.line("return fmt.Errorf(%q)", format)
		return nil
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = s.asExpr(a)
	}
	s.line("return fmt.Errorf(%q, %s)", format, strings.Join(parts, ", "))
	return nil
}

func (s *Source) DeclareBuffer(name string, size int) {
	s.line("var %s [%d]float64", name, size)
}
