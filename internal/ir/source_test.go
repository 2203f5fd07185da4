package ir

import (
	"strings"
	"testing"
)

func TestSourceEmitsArithmetic(t *testing.T) {
	s := NewSource()
	s.SetLane("lane")
	a := s.VLoad("slab", s.Const(0))
	b := s.VLoad("slab", s.Const(1))
	sum := s.VAdd(a, b)
	s.VStore("slab", s.Const(2), sum)

	body := s.Body()
	if !strings.Contains(body, "slab[(0)*batch+lane]") {
		t.Fatalf("expected a lane-addressed load, got:\n%s", body)
	}
	if !strings.Contains(body, "slab[(2)*batch+lane] =") {
		t.Fatalf("expected a lane-addressed store, got:\n%s", body)
	}
}

func TestSourceIfThenElse(t *testing.T) {
	s := NewSource()
	cond := s.VIsZero(s.Const(0))
	v := s.IfThenElse(cond, func() Value { return s.Const(1) }, func() Value { return s.Const(2) })
	if v == nil {
		t.Fatalf("IfThenElse returned nil Value")
	}
	body := s.Body()
	if !strings.Contains(body, "if ") || !strings.Contains(body, "} else {") {
		t.Fatalf("expected an if/else block, got:\n%s", body)
	}
}

func TestSourceLoopNesting(t *testing.T) {
	s := NewSource()
	s.Loop(0, 4, func(i Value) {
		s.Comment("lane %v", i)
	})
	body := s.Body()
	if !strings.Contains(body, "for i") {
		t.Fatalf("expected a for loop, got:\n%s", body)
	}
}

func TestSourceFailDivergesIfThenElse(t *testing.T) {
	s := NewSource()
	cond := s.VIsZero(s.Const(0))
	v := s.IfThenElse(cond, func() Value {
		return s.Fail("singular at node %d", s.Const(3))
	}, func() Value {
		return s.Const(2)
	})
	if v == nil {
		t.Fatalf("IfThenElse itself must still yield a Value even when a branch diverges")
	}
	body := s.Body()
	if !strings.Contains(body, `return fmt.Errorf("singular at node %d", 3)`) {
		t.Fatalf("expected a diverging Errorf return, got:\n%s", body)
	}
	if strings.Contains(body, "= 3\n") {
		t.Fatalf("Fail's nil Value must not produce a dead assignment, got:\n%s", body)
	}
}

func TestSourceDeclareBuffer(t *testing.T) {
	s := NewSource()
	s.DeclareBuffer("companion0", 40)
	if !strings.Contains(s.Body(), "var companion0 [40]float64") {
		t.Fatalf("expected a declared buffer, got:\n%s", s.Body())
	}
}
