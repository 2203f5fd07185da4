package expr

import "testing"

func TestBinopFoldsConstants(t *testing.T) {
	got := Add2(Num(2), Num(3))
	n, ok := got.(*Number)
	if !ok || n.Value != 5 {
		t.Fatalf("Add2(2,3) = %v, want Number(5)", got)
	}
}

func TestBinopIdentityReductions(t *testing.T) {
	x := NewVar("x")

	if got := Add2(x, Num(0)); !got.Equal(x) {
		t.Errorf("x+0 = %v, want x", got)
	}
	if got := Mul2(x, Num(1)); !got.Equal(x) {
		t.Errorf("x*1 = %v, want x", got)
	}
	if got := Mul2(x, Num(0)); !got.Equal(Num(0)) {
		t.Errorf("x*0 = %v, want 0", got)
	}
	if got := Div2(x, Num(1)); !got.Equal(x) {
		t.Errorf("x/1 = %v, want x", got)
	}
}

func TestStructuralEqualityAndHash(t *testing.T) {
	a := Add2(NewVar("x"), NewParam(0))
	b := Add2(NewVar("x"), NewParam(0))
	c := Add2(NewParam(0), NewVar("x"))

	if !a.Equal(b) {
		t.Fatalf("identically-built expressions are not Equal")
	}
	if a.Hash() != b.Hash() {
		t.Fatalf("identically-built expressions hash differently")
	}
	if a.Equal(c) {
		t.Fatalf("operand order must matter for raw structural equality (CSE normalizes separately)")
	}
}

func TestCallArityValidation(t *testing.T) {
	good := NewCall("sin", NewVar("x")).(*Call)
	if err := CheckArity(good); err != nil {
		t.Fatalf("sin(x) should validate: %v", err)
	}

	bad := NewCall("sin", NewVar("x"), NewVar("y")).(*Call)
	if err := CheckArity(bad); err == nil {
		t.Fatalf("sin/2 should fail arity check")
	}

	unknown := NewCall("frobnicate", NewVar("x")).(*Call)
	if err := CheckArity(unknown); err == nil {
		t.Fatalf("unknown function should fail")
	}
}

func TestPowDispatchesSquareAndIdentity(t *testing.T) {
	if _, ok := Pow(NewVar("x"), 2).(*Call); !ok {
		t.Fatalf("Pow(x,2) should build a Call")
	}
	call := Pow(NewVar("x"), 2).(*Call)
	if call.Name != "square" {
		t.Errorf("Pow(x,2).Name = %q, want square", call.Name)
	}
	if Pow(NewVar("x"), 1).(*Var) == nil {
		t.Errorf("Pow(x,1) should reduce to x")
	}
}
