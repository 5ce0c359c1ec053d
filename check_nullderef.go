package symbex

import (
	"fmt"
	"go/ast"
)

// NullDereferenceCheck splits the receiver of every field or method
// selection on its nullness. The branch where the receiver is null reports
// and sinks; the surviving branch continues constrained NOT_NULL, so a
// second dereference of the same value stays silent.
type NullDereferenceCheck struct {
	reported map[ast.Node]bool
}

// NewNullDereferenceCheck returns a new instance of NullDereferenceCheck.
func NewNullDereferenceCheck() *NullDereferenceCheck {
	c := &NullDereferenceCheck{}
	c.Init()
	return c
}

// Init resets the per-procedure report set.
func (c *NullDereferenceCheck) Init() {
	c.reported = make(map[ast.Node]bool)
}

// PreStatement fires before the member-select transfer, while the
// receiver's value is still on top of the operand stack.
func (c *NullDereferenceCheck) PreStatement(tree ast.Node, ctx EngineContext) bool {
	sel, ok := tree.(*ast.SelectorExpr)
	if !ok {
		return true
	}
	if ctx.Oracle() != nil && ctx.Oracle().IsPackageSelector(sel) {
		// pkg.Name has no receiver value on the stack
		return true
	}
	ps := ctx.ProgramState()
	if ps.StackSize() == 0 {
		return true
	}
	sv := ps.peek()
	if nc, ok := ps.ConstraintOf(sv, NullnessKind); ok && nc == Constraint(NullConstraint) {
		// several null states can reach the same dereference (other
		// values fanning out); report the site once
		if !c.reported[sel] {
			c.reported[sel] = true
			ctx.ReportIssue(sel, fmt.Sprintf("nil dereference: %q may be nil here", receiverLabel(sel.X)))
		}
		return false
	}
	states := ctx.ConstraintManager().SetConstraint(sv, ps, NotNullConstraint)
	if len(states) == 0 {
		return false
	}
	ctx.SetProgramState(states[0])
	return true
}

// PostStatement is a no-op.
func (c *NullDereferenceCheck) PostStatement(ast.Node, EngineContext) {}

// EndOfExecution is a no-op.
func (c *NullDereferenceCheck) EndOfExecution(EngineContext) {}

// receiverLabel names the dereferenced expression for the diagnostic.
func receiverLabel(e ast.Expr) string {
	switch e := e.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return receiverLabel(e.X) + "." + e.Sel.Name
	case *ast.CallExpr:
		return receiverLabel(e.Fun) + "(...)"
	default:
		return "expression"
	}
}
