package gocfg_test

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"github.com/arcbound/symbex"
	"github.com/arcbound/symbex/internal/gocfg"
	"github.com/arcbound/symbex/internal/gotypes"
)

// MustBuild type-checks src and builds the CFG for the named function.
// Fatal on error.
func MustBuild(tb testing.TB, src, name string) *symbex.CFG {
	tb.Helper()

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "src.go", src, parser.ParseComments)
	if err != nil {
		tb.Fatal(err)
	}
	info := &types.Info{
		Types:      make(map[ast.Expr]types.TypeAndValue),
		Defs:       make(map[*ast.Ident]types.Object),
		Uses:       make(map[*ast.Ident]types.Object),
		Selections: make(map[*ast.SelectorExpr]*types.Selection),
	}
	if _, err := (&types.Config{}).Check("p", fset, []*ast.File{file}, info); err != nil {
		tb.Fatal(err)
	}
	oracle := gotypes.NewOracle(fset, info, []*ast.File{file})

	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == name {
			cfg, err := gocfg.Build(fn, oracle)
			if err != nil {
				tb.Fatal(err)
			}
			return cfg
		}
	}
	tb.Fatalf("function not found: %s", name)
	return nil
}

// elementKinds renders a block's element node types for comparison.
func elementKinds(b *symbex.Block) []string {
	var kinds []string
	for _, e := range b.Elements {
		kinds = append(kinds, fmt.Sprintf("%T", e.Node))
	}
	return kinds
}

func TestBuildLinear(t *testing.T) {
	cfg := MustBuild(t, `package p

func g(int) {}

func f() {
	x := 1
	g(x)
}
`, "f")

	want := []string{
		"*ast.BasicLit",   // 1
		"*ast.AssignStmt", // x := 1
		"*ast.Ident",      // g
		"*ast.Ident",      // x
		"*ast.CallExpr",   // g(x)
		"*ast.ReturnStmt", // implicit return
	}
	got := elementKinds(cfg.Entry)
	if len(got) != len(want) {
		t.Fatalf("unexpected elements: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected element %d: got %s, want %s", i, got[i], want[i])
		}
	}

	// Statement-ending elements clear the stack.
	if !cfg.Entry.Elements[1].ExprStmtRoot || !cfg.Entry.Elements[4].ExprStmtRoot {
		t.Fatal("expected statement roots to be flagged")
	}
	if cfg.Entry.Elements[3].ExprStmtRoot {
		t.Fatal("unexpected root flag on an operand element")
	}

	// The return block is routed through the synthetic exit so its
	// elements still execute.
	if len(cfg.Entry.Succs) != 1 {
		t.Fatalf("unexpected successor count: %d", len(cfg.Entry.Succs))
	}
	if exit := cfg.Entry.Succs[0]; len(exit.Succs) != 0 || len(exit.Elements) != 0 {
		t.Fatal("expected an empty exit block")
	}
}

func TestBuildIf(t *testing.T) {
	cfg := MustBuild(t, `package p

func f(a bool) int {
	if a {
		return 1
	}
	return 2
}
`, "f")

	entry := cfg.Entry
	if entry.Terminator == nil || entry.Terminator.Kind != symbex.TermIf {
		t.Fatalf("unexpected terminator: %+v", entry.Terminator)
	}
	if _, ok := entry.Terminator.Condition.(*ast.Ident); !ok {
		t.Fatalf("unexpected condition: %T", entry.Terminator.Condition)
	}
	if entry.TrueSucc == nil || entry.FalseSucc == nil || entry.TrueSucc == entry.FalseSucc {
		t.Fatal("expected distinct true/false successors")
	}
	if got := elementKinds(entry); got[len(got)-1] != "*ast.Ident" {
		t.Fatalf("expected the condition's value on top of the stack, got %v", got)
	}
}

func TestBuildShortCircuit(t *testing.T) {
	cfg := MustBuild(t, `package p

func f(a, b bool) int {
	if a && b {
		return 1
	}
	return 2
}
`, "f")

	entry := cfg.Entry
	if entry.Terminator == nil || entry.Terminator.Kind != symbex.TermCondAnd {
		t.Fatalf("unexpected terminator: %+v", entry.Terminator)
	}

	// The right operand is evaluated inside the true successor, which
	// branches for the enclosing if.
	rhs := entry.TrueSucc
	if rhs.Terminator == nil || rhs.Terminator.Kind != symbex.TermIf {
		t.Fatalf("unexpected right-operand terminator: %+v", rhs.Terminator)
	}
	if got := elementKinds(rhs); len(got) != 1 || got[0] != "*ast.Ident" {
		t.Fatalf("unexpected right-operand elements: %v", got)
	}

	// Both failing paths join at the same else target.
	if entry.FalseSucc != rhs.FalseSucc {
		t.Fatal("expected both false edges to join")
	}
}

func TestBuildLoops(t *testing.T) {
	t.Run("While", func(t *testing.T) {
		cfg := MustBuild(t, `package p

func f(a bool) {
	for a {
	}
}
`, "f")
		if !hasTerminator(cfg, symbex.TermWhile) {
			t.Fatal("expected a while terminator")
		}
	})

	t.Run("For", func(t *testing.T) {
		cfg := MustBuild(t, `package p

func f() int {
	s := 0
	for i := 0; i < 3; i++ {
		s += i
	}
	return s
}
`, "f")
		if !hasTerminator(cfg, symbex.TermFor) {
			t.Fatal("expected a for terminator")
		}
	})

	t.Run("Range", func(t *testing.T) {
		cfg := MustBuild(t, `package p

func f(xs []int) int {
	s := 0
	for _, v := range xs {
		s += v
	}
	return s
}
`, "f")
		if !hasTerminator(cfg, symbex.TermRange) {
			t.Fatal("expected a range terminator")
		}
	})
}

func hasTerminator(cfg *symbex.CFG, kind symbex.TerminatorKind) bool {
	for _, b := range cfg.Blocks {
		if b.Terminator != nil && b.Terminator.Kind == kind {
			return true
		}
	}
	return false
}

func TestBuildConversion(t *testing.T) {
	cfg := MustBuild(t, `package p

func f(x int) int64 {
	return int64(x)
}
`, "f")

	// The conversion's type expression is not an operand: only the
	// converted value is evaluated.
	for _, e := range cfg.Entry.Elements {
		if id, ok := e.Node.(*ast.Ident); ok && id.Name == "int64" {
			t.Fatal("unexpected element for the conversion's type")
		}
	}
	want := []string{"*ast.Ident", "*ast.CallExpr", "*ast.ReturnStmt"}
	got := elementKinds(cfg.Entry)
	if len(got) != len(want) {
		t.Fatalf("unexpected elements: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected element %d: got %s, want %s", i, got[i], want[i])
		}
	}
}
