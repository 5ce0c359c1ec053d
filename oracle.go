package symbex

import "go/ast"

// Symbol is a resolved program symbol: a parameter, local variable, field,
// function, or package name. Symbols are produced by a SymbolOracle and
// compared by identity; the oracle must return the same Symbol for every
// reference to the same program entity within one procedure.
type Symbol interface {
	Name() string

	// IsVariable reports whether this is a variable-kind symbol (parameter,
	// local, or field), as opposed to a function, type, or package name.
	IsVariable() bool

	// OwnerIsFunc reports whether the symbol is not owned by a type. It is
	// false only for fields; package-level variables, parameters, and
	// locals all report true. A variable symbol for which it is false is
	// a field; see Walker.reset.
	OwnerIsFunc() bool

	// DeclNode returns the syntactic declaration site, or nil if unknown.
	DeclNode() ast.Node

	// HasAnnotation reports whether the symbol carries the named
	// annotation. Annotation names are matched exactly.
	HasAnnotation(name string) bool
}

// SymbolOracle resolves identifiers to symbols and classifies types. It is
// an external collaborator: the engine never inspects go/types directly and
// asks the oracle instead, so tests can substitute a hand-built table.
type SymbolOracle interface {
	// SymbolOf resolves an identifier to its symbol, or nil if the
	// identifier does not denote a program entity the engine tracks.
	SymbolOf(id *ast.Ident) Symbol

	// FieldOf resolves a receiver-qualified field selection (recv.f inside
	// a method with receiver recv) to the field's symbol, or nil if sel is
	// not such a selection.
	FieldOf(sel *ast.SelectorExpr) Symbol

	// IsPackageSelector reports whether sel's qualifier is a package name
	// (pkg.Name). Such a selection has no receiver value on the stack.
	IsPackageSelector(sel *ast.SelectorExpr) bool

	// IsConversion reports whether call is a type conversion T(x) rather
	// than a function or method invocation.
	IsConversion(call *ast.CallExpr) bool

	// IsPrimitive reports whether e's static type is a primitive
	// (non-nilable) type: a basic numeric, string, bool, struct, or array
	// value type. Pointers, interfaces, slices, maps, channels, and functions
	// are reference types.
	IsPrimitive(e ast.Expr) bool

	// IsBoolean reports whether e's static type is exactly bool.
	IsBoolean(e ast.Expr) bool
}
