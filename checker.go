package symbex

import "go/ast"

// IssueSink receives checker-reported defects. Issues are data, not errors:
// they never interrupt exploration.
type IssueSink interface {
	ReportIssue(node ast.Node, message string)
}

// IssueSinkFunc adapts a function to the IssueSink interface.
type IssueSinkFunc func(node ast.Node, message string)

func (f IssueSinkFunc) ReportIssue(node ast.Node, message string) { f(node, message) }

// EngineContext is the narrow view of the engine passed to every checker
// hook. Checkers may read and replace the current program state through it;
// they never see the walker itself.
type EngineContext interface {
	// ProgramState returns the state the engine is currently transforming.
	ProgramState() ProgramState

	// SetProgramState replaces the current state. A checker that refines
	// the state (e.g. constraining a dereferenced receiver) installs the
	// refined state here and lets the transfer function continue from it.
	SetProgramState(ps ProgramState)

	// ConstraintManager returns the manager for the current procedure.
	ConstraintManager() *ConstraintManager

	// Node returns the exploded-graph node being processed.
	Node() *Node

	// Oracle returns the symbol oracle for the current procedure.
	Oracle() SymbolOracle

	// ReportIssue sends a defect to the diagnostics sink.
	ReportIssue(node ast.Node, message string)
}

// Checker observes state transitions. PreStatement runs before each
// element's transfer function and returns false to sink the transition:
// the engine halts exploration at this node without enqueueing successors.
// PostStatement has no veto. EndOfExecution fires once per procedure after
// the worklist empties.
//
// Checkers may hold per-procedure accumulators; Init must reset them.
type Checker interface {
	Init()
	PreStatement(tree ast.Node, ctx EngineContext) bool
	PostStatement(tree ast.Node, ctx EngineContext)
	EndOfExecution(ctx EngineContext)
}

// ConditionObserver is implemented by checkers that want to know which way
// branch conditions evaluated. The walker notifies every registered checker
// implementing it from handleBranch, once per feasible polarity, unless the
// branch is exempt (for-loop conditions and boolean-literal while
// conditions).
type ConditionObserver interface {
	EvaluatedToTrue(condition ast.Node)
	EvaluatedToFalse(condition ast.Node)
}

// CheckerDispatcher runs an ordered list of checkers around each element.
// Iteration follows registration order; PreStatement short-circuits on the
// first sink.
type CheckerDispatcher struct {
	checkers []Checker
}

// NewCheckerDispatcher returns a dispatcher over checkers, in order.
func NewCheckerDispatcher(checkers []Checker) *CheckerDispatcher {
	return &CheckerDispatcher{checkers: checkers}
}

// Init resets every checker's per-procedure state.
func (d *CheckerDispatcher) Init() {
	for _, c := range d.checkers {
		c.Init()
	}
}

// ExecutePreStatement runs the pre-statement hooks. It returns false as
// soon as any checker sinks, skipping the remaining checkers.
func (d *CheckerDispatcher) ExecutePreStatement(tree ast.Node, ctx EngineContext) bool {
	for _, c := range d.checkers {
		if !c.PreStatement(tree, ctx) {
			return false
		}
	}
	return true
}

// ExecutePostStatement runs the post-statement hooks.
func (d *CheckerDispatcher) ExecutePostStatement(tree ast.Node, ctx EngineContext) {
	for _, c := range d.checkers {
		c.PostStatement(tree, ctx)
	}
}

// ExecuteEndOfExecution notifies every checker that the procedure's
// exploration is over.
func (d *CheckerDispatcher) ExecuteEndOfExecution(ctx EngineContext) {
	for _, c := range d.checkers {
		c.EndOfExecution(ctx)
	}
}
