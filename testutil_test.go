package symbex_test

import (
	"go/ast"

	"github.com/arcbound/symbex"
)

// fakeSymbol is a hand-built Symbol for driving the engine without a real
// type checker.
type fakeSymbol struct {
	name        string
	field       bool
	decl        ast.Node
	annotations []string
}

func (s *fakeSymbol) Name() string       { return s.name }
func (s *fakeSymbol) IsVariable() bool   { return true }
func (s *fakeSymbol) OwnerIsFunc() bool  { return !s.field }
func (s *fakeSymbol) DeclNode() ast.Node { return s.decl }

func (s *fakeSymbol) HasAnnotation(name string) bool {
	for _, a := range s.annotations {
		if a == name {
			return true
		}
	}
	return false
}

// fakeOracle resolves from explicit tables; everything absent resolves to
// "unknown", which the engine treats conservatively.
type fakeOracle struct {
	symbols    map[*ast.Ident]symbex.Symbol
	fields     map[*ast.SelectorExpr]symbex.Symbol
	pkgSels    map[*ast.SelectorExpr]bool
	convs      map[*ast.CallExpr]bool
	primitives map[ast.Expr]bool
	booleans   map[ast.Expr]bool
}

func (o *fakeOracle) SymbolOf(id *ast.Ident) symbex.Symbol         { return o.symbols[id] }
func (o *fakeOracle) FieldOf(sel *ast.SelectorExpr) symbex.Symbol  { return o.fields[sel] }
func (o *fakeOracle) IsPackageSelector(sel *ast.SelectorExpr) bool { return o.pkgSels[sel] }
func (o *fakeOracle) IsConversion(call *ast.CallExpr) bool         { return o.convs[call] }
func (o *fakeOracle) IsPrimitive(e ast.Expr) bool                  { return o.primitives[e] }
func (o *fakeOracle) IsBoolean(e ast.Expr) bool                    { return o.booleans[e] }

// funcDecl returns a minimal FuncDecl with the given parameter idents, so
// the walker's starting-state fan-out has parameters to bind.
func funcDecl(name string, params ...*ast.Ident) *ast.FuncDecl {
	fields := make([]*ast.Field, len(params))
	for i, p := range params {
		fields[i] = &ast.Field{Names: []*ast.Ident{p}}
	}
	return &ast.FuncDecl{
		Name: ast.NewIdent(name),
		Type: &ast.FuncType{Params: &ast.FieldList{List: fields}},
		Body: &ast.BlockStmt{},
	}
}

// exitBlock returns a block with no successors: nodes reaching it are
// dropped, ending the path.
func exitBlock(id int) *symbex.Block {
	return &symbex.Block{ID: id}
}

// issueCollector gathers reported issues as "message" strings in order.
type issueCollector struct {
	issues []string
}

func (c *issueCollector) ReportIssue(node ast.Node, message string) {
	c.issues = append(c.issues, message)
}

// recordingChecker invokes the given hooks if set; nil hooks default to
// continue/no-op.
type recordingChecker struct {
	pre  func(tree ast.Node, ctx symbex.EngineContext) bool
	post func(tree ast.Node, ctx symbex.EngineContext)
	end  func(ctx symbex.EngineContext)
}

func (c *recordingChecker) Init() {}

func (c *recordingChecker) PreStatement(tree ast.Node, ctx symbex.EngineContext) bool {
	if c.pre != nil {
		return c.pre(tree, ctx)
	}
	return true
}

func (c *recordingChecker) PostStatement(tree ast.Node, ctx symbex.EngineContext) {
	if c.post != nil {
		c.post(tree, ctx)
	}
}

func (c *recordingChecker) EndOfExecution(ctx symbex.EngineContext) {
	if c.end != nil {
		c.end(ctx)
	}
}
