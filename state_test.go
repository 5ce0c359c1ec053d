package symbex_test

import (
	"strings"
	"testing"

	"github.com/arcbound/symbex"
)

func TestProgramStatePut(t *testing.T) {
	cm := symbex.NewConstraintManager()
	sym := &fakeSymbol{name: "x"}
	sv := cm.NewSymbolicValue(nil)

	empty := symbex.NewProgramState()
	ps := empty.Put(sym, sv)

	if got, ok := ps.ValueOf(sym); !ok || got != sv {
		t.Fatalf("unexpected binding: %v", got)
	}
	if _, ok := empty.ValueOf(sym); ok {
		t.Fatal("mutation leaked into the original state")
	}

	// Rebinding replaces, not accumulates.
	sv2 := cm.NewSymbolicValue(nil)
	ps2 := ps.Put(sym, sv2)
	if got, _ := ps2.ValueOf(sym); got != sv2 {
		t.Fatalf("unexpected binding after rebind: %v", got)
	}
	if got, _ := ps.ValueOf(sym); got != sv {
		t.Fatal("rebind leaked into the original state")
	}
}

func TestProgramStateStack(t *testing.T) {
	cm := symbex.NewConstraintManager()
	a, b, c := cm.NewSymbolicValue(nil), cm.NewSymbolicValue(nil), cm.NewSymbolicValue(nil)

	ps := symbex.NewProgramState().StackValue(a).StackValue(b).StackValue(c)
	if ps.StackSize() != 3 {
		t.Fatalf("unexpected stack size: %d", ps.StackSize())
	}

	rest, popped := ps.Unstack(2)
	if len(popped) != 2 || popped[0] != b || popped[1] != c {
		// popped values are ordered deepest first
		t.Fatalf("unexpected popped values: %v", popped)
	}
	if rest.StackSize() != 1 {
		t.Fatalf("unexpected remaining stack size: %d", rest.StackSize())
	}
	if ps.StackSize() != 3 {
		t.Fatal("unstack leaked into the original state")
	}

	// Pushing onto a shared base must not clobber sibling states.
	left := rest.StackValue(b)
	right := rest.StackValue(c)
	_, lp := left.Unstack(1)
	_, rp := right.Unstack(1)
	if lp[0] != b || rp[0] != c {
		t.Fatalf("sibling stacks interfered: %v %v", lp, rp)
	}
}

func TestProgramStateVisited(t *testing.T) {
	block := &symbex.Block{ID: 7}
	pp := symbex.ProgramPoint{Block: block, Index: 1}

	ps := symbex.NewProgramState()
	if n := ps.NumberOfTimesVisited(pp); n != 0 {
		t.Fatalf("unexpected initial count: %d", n)
	}
	ps2 := ps.WithVisited(pp, 2)
	if n := ps2.NumberOfTimesVisited(pp); n != 2 {
		t.Fatalf("unexpected count: %d", n)
	}
	if n := ps.NumberOfTimesVisited(pp); n != 0 {
		t.Fatal("visit count leaked into the original state")
	}
}

func TestProgramStateEqual(t *testing.T) {
	cm := symbex.NewConstraintManager()
	x, y := &fakeSymbol{name: "x"}, &fakeSymbol{name: "y"}
	sv1, sv2 := cm.NewSymbolicValue(nil), cm.NewSymbolicValue(nil)
	pp := symbex.ProgramPoint{Block: &symbex.Block{ID: 1}, Index: 0}

	build := func(order bool) symbex.ProgramState {
		ps := symbex.NewProgramState()
		if order {
			ps = ps.Put(x, sv1).Put(y, sv2)
		} else {
			ps = ps.Put(y, sv2).Put(x, sv1)
		}
		ps = cm.SetSingleConstraint(sv1, ps, symbex.NotNullConstraint)
		return ps.WithVisited(pp, 1).StackValue(sv2)
	}

	a, b := build(true), build(false)
	if !a.Equal(b) {
		t.Fatal("expected states with identical contents to be equal")
	}
	if a.Equal(b.StackValue(sv1)) {
		t.Fatal("expected states with different stacks to differ")
	}
	if a.Equal(b.Put(x, sv2)) {
		t.Fatal("expected states with different bindings to differ")
	}
	if a.Equal(cm.SetSingleConstraint(sv2, b, symbex.NullConstraint)) {
		t.Fatal("expected states with different constraints to differ")
	}
	if a.Equal(b.WithVisited(pp, 2)) {
		t.Fatal("expected states with different visit counts to differ")
	}
}

func TestProgramStateDump(t *testing.T) {
	cm := symbex.NewConstraintManager()
	sym := &fakeSymbol{name: "x"}
	sv := cm.NewSymbolicValue(nil)
	ps := symbex.NewProgramState().Put(sym, sv)
	ps = cm.SetSingleConstraint(sv, ps, symbex.NotNullConstraint)

	dump := ps.Dump()
	if !strings.Contains(dump, "x=") {
		t.Fatalf("missing binding in dump:\n%s", dump)
	}
	if !strings.Contains(dump, "NOT_NULL") {
		t.Fatalf("missing constraint in dump:\n%s", dump)
	}
}
