package gotypes_test

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"github.com/arcbound/symbex/internal/gotypes"
)

// MustCheck type-checks src and returns the oracle plus the parsed file.
// Fatal on error.
func MustCheck(tb testing.TB, src string) (*gotypes.Oracle, *ast.File) {
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
	conf := types.Config{Importer: importer.ForCompiler(fset, "source", nil)}
	if _, err := conf.Check("p", fset, []*ast.File{file}, info); err != nil {
		tb.Fatal(err)
	}
	return gotypes.NewOracle(fset, info, []*ast.File{file}), file
}

// findIdents returns every identifier in file with the given name, in
// source order.
func findIdents(file *ast.File, name string) []*ast.Ident {
	var ids []*ast.Ident
	ast.Inspect(file, func(n ast.Node) bool {
		if id, ok := n.(*ast.Ident); ok && id.Name == name {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

func findSelectors(file *ast.File) []*ast.SelectorExpr {
	var sels []*ast.SelectorExpr
	ast.Inspect(file, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			sels = append(sels, sel)
		}
		return true
	})
	return sels
}

func findCalls(file *ast.File) []*ast.CallExpr {
	var calls []*ast.CallExpr
	ast.Inspect(file, func(n ast.Node) bool {
		if call, ok := n.(*ast.CallExpr); ok {
			calls = append(calls, call)
		}
		return true
	})
	return calls
}

func TestOracleSymbolOf(t *testing.T) {
	oracle, file := MustCheck(t, `package p

type T struct{}

func f(x int) int {
	y := len([]T{})
	return x + y
}
`)

	t.Run("Interned", func(t *testing.T) {
		xs := findIdents(file, "x")
		if len(xs) != 2 {
			t.Fatalf("unexpected ident count: %d", len(xs))
		}
		def, use := oracle.SymbolOf(xs[0]), oracle.SymbolOf(xs[1])
		if def == nil || def != use {
			t.Fatalf("expected one interned symbol, got %v and %v", def, use)
		}
		if def.Name() != "x" || !def.IsVariable() || !def.OwnerIsFunc() {
			t.Fatalf("unexpected symbol: %+v", def)
		}
	})

	t.Run("TypeName", func(t *testing.T) {
		ts := findIdents(file, "T")
		if sym := oracle.SymbolOf(ts[len(ts)-1]); sym != nil {
			t.Fatalf("expected nil for a type name, got %v", sym)
		}
	})

	t.Run("Builtin", func(t *testing.T) {
		lens := findIdents(file, "len")
		if sym := oracle.SymbolOf(lens[0]); sym != nil {
			t.Fatalf("expected nil for a builtin, got %v", sym)
		}
	})
}

func TestOracleNullableDirective(t *testing.T) {
	oracle, file := MustCheck(t, `package p

//symbex:nullable a
func f(a, b *int) {}
`)

	a := oracle.SymbolOf(findIdents(file, "a")[0])
	if a == nil || !a.HasAnnotation("Nullable") {
		t.Fatal("expected parameter a to carry the Nullable annotation")
	}
	b := oracle.SymbolOf(findIdents(file, "b")[0])
	if b == nil || b.HasAnnotation("Nullable") {
		t.Fatal("expected parameter b to carry no annotation")
	}
}

func TestOracleClassify(t *testing.T) {
	oracle, file := MustCheck(t, `package p

type S struct{ n int }

func f(i int, b bool, ptr *S, xs []int, s S) {}
`)

	param := func(name string) *ast.Ident { return findIdents(file, name)[0] }

	if !oracle.IsPrimitive(param("i")) || !oracle.IsPrimitive(param("s")) {
		t.Fatal("expected int and struct values to classify as primitive")
	}
	if oracle.IsPrimitive(param("ptr")) || oracle.IsPrimitive(param("xs")) {
		t.Fatal("expected pointer and slice values to classify as reference")
	}
	if !oracle.IsBoolean(param("b")) || oracle.IsBoolean(param("i")) {
		t.Fatal("unexpected boolean classification")
	}
}

func TestOracleIsConversion(t *testing.T) {
	oracle, file := MustCheck(t, `package p

func g(x int) int { return x }

func f(x int) int64 {
	return int64(g(x))
}
`)

	for _, call := range findCalls(file) {
		fun, ok := call.Fun.(*ast.Ident)
		if !ok {
			continue
		}
		switch fun.Name {
		case "int64":
			if !oracle.IsConversion(call) {
				t.Fatal("expected int64(...) to classify as a conversion")
			}
		case "g":
			if oracle.IsConversion(call) {
				t.Fatal("expected g(...) to classify as an invocation")
			}
		}
	}
}

func TestOracleFieldOf(t *testing.T) {
	oracle, file := MustCheck(t, `package p

type T struct{ n int }

func (t *T) m(u *T) int {
	return t.n + u.n
}
`)

	sels := findSelectors(file)
	if len(sels) != 2 {
		t.Fatalf("unexpected selector count: %d", len(sels))
	}

	// t.n is receiver-qualified; u.n is not.
	recv := oracle.FieldOf(sels[0])
	if recv == nil || !recv.IsVariable() || recv.OwnerIsFunc() {
		t.Fatalf("unexpected field symbol: %+v", recv)
	}
	if other := oracle.FieldOf(sels[1]); other != nil {
		t.Fatalf("expected nil for a non-receiver selection, got %v", other)
	}
}

func TestOracleIsPackageSelector(t *testing.T) {
	oracle, file := MustCheck(t, `package p

import "strings"

func f(s string) string {
	return strings.TrimSpace(s)
}
`)

	sels := findSelectors(file)
	if len(sels) != 1 {
		t.Fatalf("unexpected selector count: %d", len(sels))
	}
	if !oracle.IsPackageSelector(sels[0]) {
		t.Fatal("expected strings.TrimSpace to classify as a package selector")
	}
}
