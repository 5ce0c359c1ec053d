// Package gotypes implements the symbex symbol, type, and annotation
// oracles over go/types information.
//
// Go has no parameter annotations, so nullable parameters are marked with
// a doc-comment directive on the enclosing function:
//
//	//symbex:nullable a b
//	func f(a, b *T) { ... }
//
// Each named parameter carries the "Nullable" annotation, which is in the
// walker's default recognised set.
package gotypes

import (
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"github.com/arcbound/symbex"
)

// NullableDirective is the doc-comment prefix marking parameters nullable.
const NullableDirective = "//symbex:nullable"

// Oracle resolves identifiers and classifies types for one type-checked
// package. Implements symbex.SymbolOracle.
type Oracle struct {
	fset *token.FileSet
	info *types.Info

	syms     map[types.Object]*symbol
	nullable map[types.Object]bool
	recvs    map[types.Object]bool
}

// NewOracle returns an oracle over the given type-checked files. files is
// scanned once for nullable directives and method receivers.
func NewOracle(fset *token.FileSet, info *types.Info, files []*ast.File) *Oracle {
	o := &Oracle{
		fset:     fset,
		info:     info,
		syms:     make(map[types.Object]*symbol),
		nullable: make(map[types.Object]bool),
		recvs:    make(map[types.Object]bool),
	}
	for _, file := range files {
		for _, decl := range file.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			o.scanDirectives(fd)
			if fd.Recv == nil {
				continue
			}
			for _, field := range fd.Recv.List {
				for _, name := range field.Names {
					if obj := info.Defs[name]; obj != nil {
						o.recvs[obj] = true
					}
				}
			}
		}
	}
	return o
}

func (o *Oracle) scanDirectives(fd *ast.FuncDecl) {
	if fd.Doc == nil || fd.Type.Params == nil {
		return
	}
	for _, c := range fd.Doc.List {
		rest, ok := strings.CutPrefix(c.Text, NullableDirective)
		if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
			continue
		}
		for _, name := range strings.Fields(rest) {
			for _, field := range fd.Type.Params.List {
				for _, id := range field.Names {
					if id.Name != name {
						continue
					}
					if obj := o.info.Defs[id]; obj != nil {
						o.nullable[obj] = true
					}
				}
			}
		}
	}
}

// SymbolOf resolves id to its symbol. Types, package names, builtins, and
// the universe identifiers resolve to nil: the engine does not track them.
func (o *Oracle) SymbolOf(id *ast.Ident) symbex.Symbol {
	obj := o.info.Defs[id]
	if obj == nil {
		obj = o.info.Uses[id]
	}
	if obj != nil && obj.Parent() == types.Universe {
		return nil
	}
	switch obj.(type) {
	case *types.Var, *types.Func, *types.Const:
		return o.symbolFor(obj, id)
	default:
		return nil
	}
}

// FieldOf resolves a receiver-qualified field selection to the field's
// symbol, or nil if sel is not one.
func (o *Oracle) FieldOf(sel *ast.SelectorExpr) symbex.Symbol {
	x, ok := sel.X.(*ast.Ident)
	if !ok {
		return nil
	}
	if obj := o.info.Uses[x]; obj == nil || !o.recvs[obj] {
		return nil
	}
	selection, ok := o.info.Selections[sel]
	if !ok || selection.Kind() != types.FieldVal {
		return nil
	}
	return o.symbolFor(selection.Obj(), sel.Sel)
}

// IsPackageSelector reports whether sel's qualifier is a package name.
func (o *Oracle) IsPackageSelector(sel *ast.SelectorExpr) bool {
	x, ok := sel.X.(*ast.Ident)
	if !ok {
		return false
	}
	_, ok = o.info.Uses[x].(*types.PkgName)
	return ok
}

// IsConversion reports whether call is a type conversion.
func (o *Oracle) IsConversion(call *ast.CallExpr) bool {
	tv, ok := o.info.Types[call.Fun]
	return ok && tv.IsType()
}

// IsPrimitive reports whether e's static type cannot be nil: basic types,
// structs, and arrays. Pointers, interfaces, slices, maps, channels, and
// functions are reference types.
func (o *Oracle) IsPrimitive(e ast.Expr) bool {
	t := o.info.TypeOf(e)
	if t == nil {
		return false
	}
	switch t.Underlying().(type) {
	case *types.Basic, *types.Struct, *types.Array:
		return true
	default:
		return false
	}
}

// IsBoolean reports whether e's static type is exactly bool.
func (o *Oracle) IsBoolean(e ast.Expr) bool {
	t := o.info.TypeOf(e)
	if t == nil {
		return false
	}
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsBoolean != 0
}

// symbolFor interns one symbol per object, so every reference to the same
// program entity sees the same Symbol identity.
func (o *Oracle) symbolFor(obj types.Object, ref *ast.Ident) *symbol {
	if s, ok := o.syms[obj]; ok {
		return s
	}
	s := &symbol{obj: obj, decl: ref}
	if o.nullable[obj] {
		s.annotations = []string{"Nullable"}
	}
	o.syms[obj] = s
	return s
}

// symbol adapts a types.Object to symbex.Symbol.
type symbol struct {
	obj         types.Object
	decl        ast.Node
	annotations []string
}

func (s *symbol) Name() string { return s.obj.Name() }

func (s *symbol) IsVariable() bool {
	_, ok := s.obj.(*types.Var)
	return ok
}

func (s *symbol) OwnerIsFunc() bool {
	if v, ok := s.obj.(*types.Var); ok && v.IsField() {
		return false
	}
	return true
}

func (s *symbol) DeclNode() ast.Node { return s.decl }

func (s *symbol) HasAnnotation(name string) bool {
	for _, a := range s.annotations {
		if a == name {
			return true
		}
	}
	return false
}

func (s *symbol) String() string { return s.obj.Name() }
