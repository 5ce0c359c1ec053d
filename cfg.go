package symbex

import "go/ast"

// CFG is the per-procedure control-flow graph the engine walks. It is built
// by an external collaborator (see internal/gocfg for the go/ast-backed
// builder); the engine only reads it.
//
// Blocks hold elements in evaluation order at expression granularity: the
// operands of an expression appear as elements before the expression
// itself, so the transfer function for each element finds its operands on
// top of the operand stack.
type CFG struct {
	Entry  *Block
	Blocks []*Block
}

// Block is a basic block. Elements are executed in order; after the last
// element the block either branches through its Terminator or, if the
// terminator is absent, falls through unconditionally to Succs.
type Block struct {
	ID       int
	Elements []Element

	// Terminator is nil for unconditional blocks.
	Terminator *Terminator

	// Succs is the ordered successor list. Successor ordering must be
	// stable across runs; the depth-first worklist depends on it.
	Succs []*Block

	// TrueSucc and FalseSucc are set only on blocks whose terminator
	// branches on a condition.
	TrueSucc  *Block
	FalseSucc *Block
}

// Element is one evaluation step within a block.
type Element struct {
	Node ast.Node

	// ExprStmtRoot marks the last element of a statement: the outermost
	// node of an expression statement, or the statement node itself for
	// other statements. After processing such an element the walker
	// discards every operand remaining on the stack.
	ExprStmtRoot bool
}

// TerminatorKind classifies how a block ends.
type TerminatorKind int

const (
	// TermIf branches on the condition value left on top of the stack.
	TermIf TerminatorKind = iota

	// TermCondAnd and TermCondOr branch on the left operand of a
	// short-circuit operator; the right operand is evaluated inside the
	// successor block itself.
	TermCondAnd
	TermCondOr

	// TermFor is a three-clause for terminator. With a condition it
	// branches like TermIf but never feeds the always-true/false checker;
	// without one it falls through to the unconditional fan-out.
	TermFor

	// TermWhile is a condition-only for terminator. It feeds the
	// always-true/false checker unless the condition is a boolean literal.
	TermWhile

	// TermRange heads a for-each loop. The element count and loop exit are
	// unknown symbolically, so the walker fans out to both successors
	// unconditionally.
	TermRange

	// TermSync guards a critical-section block: the walker performs a
	// field reset and then fans out unconditionally.
	TermSync
)

// Terminator describes a conditional or effectful block exit. Blocks ending
// in plain jumps (return, goto, switch) carry no Terminator at all and fan
// out to Succs unchanged.
type Terminator struct {
	Kind TerminatorKind

	// Node is the statement or expression owning the terminator, for
	// diagnostics.
	Node ast.Node

	// Condition is the branch condition evaluated in this block, nil for
	// TermRange, TermSync and condition-less TermFor.
	Condition ast.Expr
}
