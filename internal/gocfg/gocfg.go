// Package gocfg builds the expression-granular CFG the symbex engine
// consumes, on top of golang.org/x/tools/go/cfg.
//
// The x/tools package provides the block skeleton (blocks, successor
// edges, conditional exits) at statement granularity, with conditions left
// as whole expressions and no short-circuit expansion. This package
// flattens each block's statements into evaluation-ordered elements, one
// per value-producing node, and compiles short-circuit conditions (&&, ||)
// into chains of condition blocks branching on the left operand, so the
// walker always finds a branch condition's value on top of the operand
// stack.
package gocfg

import (
	"errors"
	"go/ast"
	"go/token"

	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/go/cfg"

	"github.com/arcbound/symbex"
)

// Build returns the CFG for fn. The oracle classifies calls as conversions
// and selections as package-qualified, which changes what the flattener
// emits.
func Build(fn *ast.FuncDecl, oracle symbex.SymbolOracle) (*symbex.CFG, error) {
	if fn.Body == nil {
		return nil, errors.New("gocfg: function has no body")
	}
	g := cfg.New(fn.Body, func(*ast.CallExpr) bool { return true })

	fl := &flattener{
		oracle:  oracle,
		parents: buildParents(fn),
	}

	// One block per go/cfg block, in go/cfg order, so successor ordering
	// and therefore exploration order is stable.
	mapped := make([]*symbex.Block, len(g.Blocks))
	for i := range g.Blocks {
		mapped[i] = fl.newBlock()
	}
	// Return and panic blocks have no successors in go/cfg; route them to
	// a shared synthetic exit so their elements still execute.
	exit := fl.newBlock()

	for i, gb := range g.Blocks {
		fl.current = mapped[i]

		n := len(gb.Nodes)
		cond := conditionOf(gb)
		limit := n
		if cond != nil {
			limit = n - 1
		}
		for _, node := range gb.Nodes[:limit] {
			fl.node(node)
		}

		switch {
		case cond != nil:
			fl.cond(cond, mapped[gb.Succs[0].Index], mapped[gb.Succs[1].Index])
		case len(gb.Succs) == 0:
			fl.current.Succs = []*symbex.Block{exit}
		case len(gb.Succs) == 2:
			// an empty two-successor block is a range loop head
			t, f := mapped[gb.Succs[0].Index], mapped[gb.Succs[1].Index]
			fl.current.Terminator = &symbex.Terminator{Kind: symbex.TermRange}
			fl.current.TrueSucc, fl.current.FalseSucc = t, f
			fl.current.Succs = []*symbex.Block{t, f}
		default:
			for _, s := range gb.Succs {
				fl.current.Succs = append(fl.current.Succs, mapped[s.Index])
			}
		}
	}

	return &symbex.CFG{Entry: mapped[0], Blocks: fl.blocks}, nil
}

// conditionOf returns the branch condition ending gb, or nil if gb does not
// branch on a value.
func conditionOf(gb *cfg.Block) ast.Expr {
	if len(gb.Succs) != 2 || len(gb.Nodes) == 0 {
		return nil
	}
	e, _ := gb.Nodes[len(gb.Nodes)-1].(ast.Expr)
	return e
}

type flattener struct {
	oracle  symbex.SymbolOracle
	parents map[ast.Node]ast.Node
	blocks  []*symbex.Block
	current *symbex.Block
}

func (fl *flattener) newBlock() *symbex.Block {
	b := &symbex.Block{ID: len(fl.blocks)}
	fl.blocks = append(fl.blocks, b)
	return b
}

func (fl *flattener) emit(node ast.Node) {
	fl.current.Elements = append(fl.current.Elements, symbex.Element{Node: node})
}

func (fl *flattener) emitRoot(node ast.Node) {
	fl.current.Elements = append(fl.current.Elements, symbex.Element{Node: node, ExprStmtRoot: true})
}

// markLastRoot flags the most recently emitted element as the end of a
// statement, so the walker clears the operand stack after it.
func (fl *flattener) markLastRoot() {
	if n := len(fl.current.Elements); n > 0 {
		fl.current.Elements[n-1].ExprStmtRoot = true
	}
}

// node dispatches one go/cfg block node: a statement, a ValueSpec, or a
// bare expression (range clause artifacts and switch tags).
func (fl *flattener) node(n ast.Node) {
	switch n := n.(type) {
	case *ast.ValueSpec:
		for _, v := range n.Values {
			fl.expr(v)
		}
		fl.emitRoot(n)
	case ast.Stmt:
		fl.stmt(n)
	case ast.Expr:
		if rs, ok := fl.parents[n].(*ast.RangeStmt); ok {
			// go/cfg surfaces the range clause as bare X, Key, Value
			// expressions; the walker binds the loop variables from the
			// RangeStmt itself, so Key and Value are dropped here
			if rs.X == n {
				fl.expr(n)
				fl.emitRoot(rs)
			}
			return
		}
		// an expression in statement position
		fl.expr(n)
		fl.markLastRoot()
	}
}

func (fl *flattener) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.ExprStmt:
		fl.expr(s.X)
		fl.markLastRoot()
	case *ast.AssignStmt:
		switch {
		case s.Tok == token.ASSIGN && len(s.Lhs) == 1 && len(s.Rhs) == 1:
			// the target reference is evaluated before the value
			fl.expr(s.Lhs[0])
			fl.expr(s.Rhs[0])
		case s.Tok == token.DEFINE:
			for _, r := range s.Rhs {
				fl.expr(r)
			}
		default:
			for _, l := range s.Lhs {
				fl.expr(l)
			}
			for _, r := range s.Rhs {
				fl.expr(r)
			}
		}
		fl.emitRoot(s)
	case *ast.IncDecStmt:
		fl.expr(s.X)
		fl.emitRoot(s)
	case *ast.ReturnStmt:
		for _, r := range s.Results {
			fl.expr(r)
		}
		fl.emitRoot(s)
	case *ast.SendStmt:
		fl.expr(s.Chan)
		fl.expr(s.Value)
		fl.emitRoot(s)
	case *ast.GoStmt:
		fl.expr(s.Call)
		fl.emitRoot(s)
	case *ast.DeferStmt:
		fl.expr(s.Call)
		fl.emitRoot(s)
	case *ast.EmptyStmt, *ast.BadStmt:
		// nothing to evaluate
	default:
		// no state effect, but checker hooks still fire on it
		fl.emitRoot(s)
	}
}

// expr emits the evaluation-ordered elements of e. Every call leaves
// exactly one value on the walker's operand stack.
func (fl *flattener) expr(e ast.Expr) {
	switch e := e.(type) {
	case *ast.ParenExpr:
		fl.expr(e.X)
	case *ast.Ident, *ast.BasicLit, *ast.FuncLit:
		fl.emit(e)
	case *ast.SelectorExpr:
		if fl.oracle.IsPackageSelector(e) {
			// pkg.Name has no receiver to evaluate
			fl.emit(e)
			return
		}
		fl.expr(e.X)
		fl.emit(e)
	case *ast.CallExpr:
		if fl.oracle.IsConversion(e) {
			fl.expr(e.Args[0])
			fl.emit(e)
			return
		}
		fl.expr(e.Fun)
		for _, a := range e.Args {
			fl.expr(a)
		}
		fl.emit(e)
	case *ast.BinaryExpr:
		fl.expr(e.X)
		fl.expr(e.Y)
		fl.emit(e)
	case *ast.UnaryExpr:
		fl.expr(e.X)
		fl.emit(e)
	case *ast.StarExpr:
		fl.expr(e.X)
		fl.emit(e)
	case *ast.IndexExpr:
		fl.expr(e.X)
		fl.expr(e.Index)
		fl.emit(e)
	case *ast.IndexListExpr:
		// generic instantiation: the instantiated function is the value
		fl.expr(e.X)
		fl.emit(e)
	case *ast.SliceExpr:
		fl.expr(e.X)
		for _, index := range []ast.Expr{e.Low, e.High, e.Max} {
			if index != nil {
				fl.expr(index)
			}
		}
		fl.emit(e)
	case *ast.CompositeLit:
		for _, elt := range e.Elts {
			if kv, ok := elt.(*ast.KeyValueExpr); ok {
				fl.expr(kv.Value)
				continue
			}
			fl.expr(elt)
		}
		fl.emit(e)
	case *ast.TypeAssertExpr:
		fl.expr(e.X)
		fl.emit(e)
	case *ast.ArrayType, *ast.MapType, *ast.ChanType, *ast.StructType, *ast.InterfaceType, *ast.FuncType:
		// a type in argument position (make, new)
		fl.emit(e)
	default:
		fl.emit(e)
	}
}

// cond compiles a branch condition, splitting short-circuit operators into
// chains of condition blocks: the left operand branches, the right operand
// is evaluated inside the successor block itself.
func (fl *flattener) cond(c ast.Expr, t, f *symbex.Block) {
	c = astutil.Unparen(c)
	if e, ok := c.(*ast.BinaryExpr); ok {
		switch e.Op {
		case token.LAND:
			rhs := fl.newBlock()
			fl.cond(e.X, rhs, f)
			fl.current = rhs
			fl.cond(e.Y, t, f)
			return
		case token.LOR:
			rhs := fl.newBlock()
			fl.cond(e.X, t, rhs)
			fl.current = rhs
			fl.cond(e.Y, t, f)
			return
		}
	}

	fl.expr(c)
	kind, owner, ok := fl.classify(c)
	if !ok {
		// switch cases and other non-branching owners fan out to every
		// successor with the current state
		fl.current.Succs = []*symbex.Block{t, f}
		return
	}
	fl.current.Terminator = &symbex.Terminator{Kind: kind, Node: owner, Condition: c}
	fl.current.TrueSucc, fl.current.FalseSucc = t, f
	fl.current.Succs = []*symbex.Block{t, f}
}

// classify walks up from condition c to the construct that branches on it.
// A condition that is the left operand of a short-circuit operator belongs
// to that operator; a right operand belongs to whatever encloses the whole
// expression.
func (fl *flattener) classify(c ast.Expr) (symbex.TerminatorKind, ast.Node, bool) {
	n := ast.Node(c)
	for {
		switch p := fl.parents[n].(type) {
		case *ast.ParenExpr:
			n = p
		case *ast.BinaryExpr:
			if p.Op != token.LAND && p.Op != token.LOR {
				return 0, nil, false
			}
			if p.X == n {
				if p.Op == token.LAND {
					return symbex.TermCondAnd, p, true
				}
				return symbex.TermCondOr, p, true
			}
			n = p
		case *ast.IfStmt:
			return symbex.TermIf, p, true
		case *ast.ForStmt:
			if p.Init == nil && p.Post == nil {
				return symbex.TermWhile, p, true
			}
			return symbex.TermFor, p, true
		default:
			return 0, nil, false
		}
	}
}

// buildParents records each node's syntactic parent within fn.
func buildParents(fn *ast.FuncDecl) map[ast.Node]ast.Node {
	parents := make(map[ast.Node]ast.Node)
	var stack []ast.Node
	ast.Inspect(fn, func(n ast.Node) bool {
		if n == nil {
			stack = stack[:len(stack)-1]
			return true
		}
		if len(stack) > 0 {
			parents[n] = stack[len(stack)-1]
		}
		stack = append(stack, n)
		return true
	})
	return parents
}
