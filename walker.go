package symbex

import (
	"fmt"
	"go/ast"
	"go/token"
	"log"
	"sort"
)

// Procedure bundles one function with the collaborators the engine needs to
// explore it: its CFG and the symbol oracle for its identifiers.
type Procedure struct {
	Name   string
	Decl   *ast.FuncDecl
	CFG    *CFG
	Oracle SymbolOracle

	// Fset is optional; when set, debug logging includes source positions.
	Fset *token.FileSet
}

// Walker explores the feasible paths of one procedure at a time, driving a
// depth-first worklist over the exploded graph and running the registered
// checkers around every transfer.
//
// A Walker is reusable across procedures: a bounded abort
// (ErrMaximumStepsReached, ErrExplodedGraphTooBig) terminates one procedure
// without invalidating the walker for the next.
type Walker struct {
	// Logger receives debug output. Defaults to log.Default(); set to nil
	// to silence the walker.
	Logger *log.Logger

	// Hard resource bounds. See the Default* constants.
	MaxSteps            int
	MaxExecProgramPoint int
	ConstraintSizeGate  int

	// NullableAnnotations are the annotation names that mark a parameter
	// as possibly-null; each such parameter fans the starting states out
	// into a null and a non-null variant.
	NullableAnnotations []string

	// Checkers run in registration order around every element.
	Checkers []Checker

	sink IssueSink

	// Engine state, private to one VisitProcedure call.
	proc         *Procedure
	recvName     string
	dispatcher   *CheckerDispatcher
	cm           *ConstraintManager
	graph        *ExplodedGraph
	workList     []*Node
	node         *Node
	programPoint ProgramPoint
	programState ProgramState
	steps        int
}

// NewWalker returns a walker reporting to sink, with the default bounds and
// the two built-in checkers registered.
func NewWalker(sink IssueSink) *Walker {
	return &Walker{
		Logger:              log.Default(),
		MaxSteps:            DefaultMaxSteps,
		MaxExecProgramPoint: DefaultMaxExecProgramPoint,
		ConstraintSizeGate:  DefaultConstraintSizeGate,
		NullableAnnotations: []string{"CheckForNull", "Nullable"},
		Checkers:            []Checker{NewConditionAlwaysTrueOrFalseCheck(), NewNullDereferenceCheck()},
		sink:                sink,
	}
}

// VisitProcedure explores proc. Procedures without a body are skipped.
func (w *Walker) VisitProcedure(proc *Procedure) error {
	if proc.Decl == nil || proc.Decl.Body == nil {
		return nil
	}
	return w.execute(proc)
}

func (w *Walker) execute(proc *Procedure) error {
	w.proc = proc
	w.recvName = receiverName(proc.Decl)
	w.dispatcher = NewCheckerDispatcher(w.Checkers)
	w.dispatcher.Init()
	w.cm = NewConstraintManager()
	w.graph = NewExplodedGraph()
	w.workList = nil
	w.steps = 0
	defer w.release()

	w.logf("[walk] exploring %s at %s", proc.Name, w.position(proc.Decl))

	w.programState = NewProgramState()
	entry := ProgramPoint{Block: proc.CFG.Entry, Index: 0}
	for _, ss := range w.startingStates(proc) {
		if err := w.enqueue(entry, ss); err != nil {
			return err
		}
	}

	for len(w.workList) > 0 {
		w.steps++
		if w.steps > w.MaxSteps {
			return fmt.Errorf("%w: %d steps exploring %s", ErrMaximumStepsReached, w.MaxSteps, proc.Name)
		}
		// LIFO: depth-first
		w.node = w.workList[len(w.workList)-1]
		w.workList = w.workList[:len(w.workList)-1]
		w.programPoint = w.node.Point
		block := w.programPoint.Block
		if len(block.Succs) == 0 {
			// not guaranteed that the last block is reached, e.g. "label: goto label"
			continue
		}
		w.programState = w.node.State

		var err error
		switch {
		case w.programPoint.Index < len(block.Elements):
			err = w.visit(block.Elements[w.programPoint.Index], block.Terminator)
		case block.Terminator == nil:
			// unconditional jump such as a goto or return
			err = w.handleBlockExit()
		default:
			w.dispatcher.ExecutePostStatement(block.Terminator.Node, w)
			err = w.handleBlockExit()
		}
		if err != nil {
			return err
		}
	}

	w.dispatcher.ExecuteEndOfExecution(w)
	return nil
}

// release drops all engine-owned state so nothing outlives the procedure.
func (w *Walker) release() {
	w.proc = nil
	w.dispatcher = nil
	w.cm = nil
	w.graph = nil
	w.workList = nil
	w.node = nil
	w.programState = ProgramState{}
}

// startingStates binds every formal parameter, in declaration order, to a
// fresh symbolic value. Each parameter carrying a nullable annotation fans
// the current states out into a null and a non-null variant, so k nullable
// parameters yield up to 2^k starting states.
func (w *Walker) startingStates(proc *Procedure) []ProgramState {
	states := []ProgramState{NewProgramState()}
	if proc.Decl.Type.Params == nil {
		return states
	}
	for _, field := range proc.Decl.Type.Params.List {
		for _, name := range field.Names {
			sym := proc.Oracle.SymbolOf(name)
			if sym == nil {
				continue
			}
			sv := w.cm.NewSymbolicValue(name)
			for i := range states {
				states[i] = states[i].Put(sym, sv)
			}
			if !w.isNullable(sym) {
				continue
			}
			next := make([]ProgramState, 0, len(states)*2)
			for _, s := range states {
				next = append(next, w.cm.SetConstraint(sv, s, NullConstraint)...)
				next = append(next, w.cm.SetConstraint(sv, s, NotNullConstraint)...)
			}
			states = next
		}
	}
	return states
}

func (w *Walker) isNullable(sym Symbol) bool {
	for _, name := range w.NullableAnnotations {
		if sym.HasAnnotation(name) {
			return true
		}
	}
	return false
}

// visit applies the transfer function for one block element: pre-statement
// hooks, the kind-specific effect, post-statement hooks, stack cleanup, and
// finally the enqueue of the next program point in the block.
func (w *Walker) visit(elem Element, terminator *Terminator) error {
	tree := elem.Node
	w.logf("[visit] %T at %s", tree, w.position(tree))
	if !w.dispatcher.ExecutePreStatement(tree, w) {
		// a pre-statement check sank the execution on this node
		w.logf("[sink] exploration stopped at %s", w.position(tree))
		return nil
	}

	oracle := w.proc.Oracle
	switch tree := tree.(type) {
	case *ast.CallExpr:
		if oracle.IsConversion(tree) {
			// conversion to a primitive type drops reference-level
			// constraints; other conversions leave the operand as-is
			if oracle.IsPrimitive(tree) {
				if _, err := w.unstack(1, tree); err != nil {
					return err
				}
				w.programState = w.programState.StackValue(w.cm.NewSymbolicValue(tree))
			}
			break
		}
		if w.isLocalCall(tree) {
			// any local call may have mutated fields in unknown ways
			w.reset()
		}
		// unstack arguments and the callee slot
		if _, err := w.unstack(len(tree.Args)+1, tree); err != nil {
			return err
		}
		w.programState = w.programState.StackValue(w.cm.NewSymbolicValue(tree))

	case *ast.LabeledStmt, *ast.SwitchStmt, *ast.TypeSwitchStmt, *ast.ExprStmt, *ast.ParenExpr:
		return newInternalError(tree, "cannot appear in CFG: %T", tree)

	case *ast.ValueSpec:
		if err := w.visitValueSpec(tree, terminator); err != nil {
			return err
		}

	case *ast.AssignStmt:
		if err := w.visitAssign(tree); err != nil {
			return err
		}

	case *ast.IndexExpr:
		// unstack expression and index
		if _, err := w.unstack(2, tree); err != nil {
			return err
		}
		w.programState = w.programState.StackValue(w.cm.NewSymbolicValue(tree))

	case *ast.SliceExpr:
		n := 1
		for _, index := range []ast.Expr{tree.Low, tree.High, tree.Max} {
			if index != nil {
				n++
			}
		}
		if _, err := w.unstack(n, tree); err != nil {
			return err
		}
		w.programState = w.programState.StackValue(w.cm.NewSymbolicValue(tree))

	case *ast.CompositeLit:
		if _, err := w.unstack(len(tree.Elts), tree); err != nil {
			return err
		}
		sv := w.cm.NewSymbolicValue(tree)
		w.programState = w.programState.StackValue(sv)
		w.programState = w.cm.SetSingleConstraint(sv, w.programState, NotNullConstraint)

	case *ast.BinaryExpr:
		// consume two and produce one value
		popped, err := w.unstack(2, tree)
		if err != nil {
			return err
		}
		sv := w.cm.NewSymbolicValue(tree)
		sv.ComputedFrom(popped...)
		w.programState = w.programState.StackValue(sv)

	case *ast.UnaryExpr:
		popped, err := w.unstack(1, tree)
		if err != nil {
			return err
		}
		sv := w.cm.NewSymbolicValue(tree)
		sv.ComputedFrom(popped...)
		w.programState = w.programState.StackValue(sv)
		if tree.Op == token.AND {
			// the address of an operand is never nil
			w.programState = w.cm.SetSingleConstraint(sv, w.programState, NotNullConstraint)
		}

	case *ast.StarExpr, *ast.TypeAssertExpr:
		// consume one and produce one
		popped, err := w.unstack(1, tree)
		if err != nil {
			return err
		}
		sv := w.cm.NewSymbolicValue(tree)
		sv.ComputedFrom(popped...)
		w.programState = w.programState.StackValue(sv)

	case *ast.IncDecStmt:
		popped, err := w.unstack(1, tree)
		if err != nil {
			return err
		}
		sv := w.cm.NewSymbolicValue(tree)
		sv.ComputedFrom(popped...)
		w.programState = w.programState.StackValue(sv)

	case *ast.Ident:
		switch tree.Name {
		case "nil", "true", "false":
			w.programState = w.programState.StackValue(w.cm.EvalLiteral(tree))
		default:
			sym := oracle.SymbolOf(tree)
			if sym == nil {
				w.programState = w.programState.StackValue(w.cm.NewSymbolicValue(tree))
				break
			}
			value, ok := w.programState.ValueOf(sym)
			if !ok {
				// free variable seen for the first time
				value = w.cm.NewSymbolicValue(tree)
				w.programState = w.programState.Put(sym, value)
			}
			w.programState = w.programState.StackValue(value)
		}

	case *ast.SelectorExpr:
		if oracle.IsPackageSelector(tree) {
			// a package-qualified name has no receiver on the stack
			w.programState = w.programState.StackValue(w.cm.NewSymbolicValue(tree))
			break
		}
		if _, err := w.unstack(1, tree); err != nil {
			return err
		}
		if fieldSym := oracle.FieldOf(tree); fieldSym != nil {
			// a receiver-qualified field read behaves like an identifier,
			// so the field haircut has bindings to supersede
			value, ok := w.programState.ValueOf(fieldSym)
			if !ok {
				value = w.cm.NewSymbolicValue(tree)
				w.programState = w.programState.Put(fieldSym, value)
			}
			w.programState = w.programState.StackValue(value)
			break
		}
		w.programState = w.programState.StackValue(w.cm.NewSymbolicValue(tree))

	case *ast.BasicLit:
		w.programState = w.programState.StackValue(w.cm.EvalLiteral(tree))

	case *ast.FuncLit:
		w.programState = w.programState.StackValue(w.cm.NewSymbolicValue(tree))

	case *ast.ArrayType, *ast.MapType, *ast.ChanType, *ast.StructType, *ast.InterfaceType, *ast.FuncType:
		// a type in expression position (make, new) evaluates to an opaque
		// value
		w.programState = w.programState.StackValue(w.cm.NewSymbolicValue(tree))

	case *ast.RangeStmt:
		// loop variables are initialised but their values are unknown
		for _, lhs := range []ast.Expr{tree.Key, tree.Value} {
			id, ok := lhs.(*ast.Ident)
			if !ok || id.Name == "_" {
				continue
			}
			if sym := oracle.SymbolOf(id); sym != nil {
				w.programState = w.programState.Put(sym, w.cm.NewSymbolicValue(id))
			}
		}

	default:
		// no state effect, but the hooks above and below still fire
	}

	w.dispatcher.ExecutePostStatement(tree, w)
	if elem.ExprStmtRoot {
		// discard all temporaries of the finished statement
		w.programState, _ = w.programState.Unstack(w.programState.StackSize())
	}
	return w.enqueue(ProgramPoint{Block: w.programPoint.Block, Index: w.programPoint.Index + 1}, w.programState)
}

func (w *Walker) visitValueSpec(spec *ast.ValueSpec, terminator *Terminator) error {
	oracle := w.proc.Oracle
	if len(spec.Values) == 0 {
		for _, name := range spec.Names {
			sym := oracle.SymbolOf(name)
			if sym == nil {
				continue
			}
			var sv *SymbolicValue
			switch {
			case terminator != nil && terminator.Kind == TermRange:
				// a for-each loop variable is initialised but unknown
				sv = w.cm.NewSymbolicValue(name)
			case oracle.IsBoolean(name):
				sv = FalseLiteral
			case !oracle.IsPrimitive(name):
				sv = NullLiteral
			}
			// primitive numeric declarations get no binding
			if sv != nil {
				w.programState = w.programState.Put(sym, sv)
			}
		}
		return nil
	}

	popped, err := w.unstack(len(spec.Values), spec)
	if err != nil {
		return err
	}
	if len(spec.Values) != len(spec.Names) {
		// tuple initialisation: the individual values are unknown
		for _, name := range spec.Names {
			if sym := oracle.SymbolOf(name); sym != nil {
				w.programState = w.programState.Put(sym, w.cm.NewSymbolicValue(name))
			}
		}
		return nil
	}
	for i, name := range spec.Names {
		if sym := oracle.SymbolOf(name); sym != nil {
			w.programState = w.programState.Put(sym, popped[i])
		}
	}
	return nil
}

func (w *Walker) visitAssign(stmt *ast.AssignStmt) error {
	oracle := w.proc.Oracle
	switch {
	case stmt.Tok == token.DEFINE:
		if len(stmt.Lhs) == 1 && len(stmt.Rhs) == 1 {
			popped, err := w.unstack(1, stmt)
			if err != nil {
				return err
			}
			if id, ok := stmt.Lhs[0].(*ast.Ident); ok && id.Name != "_" {
				if sym := oracle.SymbolOf(id); sym != nil {
					w.programState = w.programState.Put(sym, popped[0])
				}
			}
			return nil
		}
		// tuple or multi-assign declaration: the individual values are
		// unknown
		if _, err := w.unstack(len(stmt.Rhs), stmt); err != nil {
			return err
		}
		for _, lhs := range stmt.Lhs {
			id, ok := lhs.(*ast.Ident)
			if !ok || id.Name == "_" {
				continue
			}
			if sym := oracle.SymbolOf(id); sym != nil {
				w.programState = w.programState.Put(sym, w.cm.NewSymbolicValue(id))
			}
		}
		return nil

	case stmt.Tok == token.ASSIGN:
		if len(stmt.Lhs) != 1 || len(stmt.Rhs) != 1 {
			return nil
		}
		id, ok := stmt.Lhs[0].(*ast.Ident)
		if !ok {
			// FIXME restricted to identifier targets for now
			return nil
		}
		// unstack the target reference and the value
		popped, err := w.unstack(2, stmt)
		if err != nil {
			return err
		}
		value := popped[1]
		if id.Name != "_" {
			if sym := oracle.SymbolOf(id); sym != nil {
				w.programState = w.programState.Put(sym, value)
			}
		}
		// assignment is an expression: its value stays on the stack
		w.programState = w.programState.StackValue(value)
		return nil

	default:
		// compound assignments (+=, etc.) track nothing
		return nil
	}
}

// unstack pops n operands from the current state, converting an underflow
// into an internal error at tree.
func (w *Walker) unstack(n int, tree ast.Node) ([]*SymbolicValue, error) {
	if n > w.programState.StackSize() {
		return nil, newInternalError(tree, "operand stack underflow: need %d, have %d", n, w.programState.StackSize())
	}
	ps, popped := w.programState.Unstack(n)
	w.programState = ps
	return popped, nil
}

// isLocalCall reports whether call targets the current instance: an
// unqualified call, or a call qualified by the method's receiver.
func (w *Walker) isLocalCall(call *ast.CallExpr) bool {
	switch fun := call.Fun.(type) {
	case *ast.Ident:
		// builtins cannot touch fields
		return !builtinFuncs[fun.Name]
	case *ast.SelectorExpr:
		if x, ok := fun.X.(*ast.Ident); ok {
			return w.recvName != "" && x.Name == w.recvName
		}
	}
	return false
}

var builtinFuncs = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true,
	"complex": true, "copy": true, "delete": true, "imag": true,
	"len": true, "make": true, "max": true, "min": true, "new": true,
	"panic": true, "print": true, "println": true, "real": true,
	"recover": true,
}

// reset is the field haircut: every bound field with a known declaration
// site is superseded by a fresh, unconstrained value, because the
// interrupted operation may have mutated fields in unknown ways. Fields
// whose DeclNode is nil keep their binding.
func (w *Walker) reset() {
	var fields []Symbol
	for itr := w.programState.values.Iterator(); !itr.Done(); {
		sym, _, _ := itr.Next()
		if isField(sym) && sym.DeclNode() != nil {
			fields = append(fields, sym)
		}
	}
	if len(fields) == 0 {
		return
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name() < fields[j].Name() })
	w.logf("[reset] superseding %d field binding(s)", len(fields))
	for _, sym := range fields {
		w.programState = w.programState.Put(sym, w.cm.SupersedeSymbolicValue(sym))
	}
}

func isField(sym Symbol) bool {
	return sym.IsVariable() && !sym.OwnerIsFunc()
}

// handleBlockExit processes the end of the current block: conditional
// terminators branch through handleBranch, everything else fans out to all
// successors with the current state.
func (w *Walker) handleBlockExit() error {
	block := w.programPoint.Block
	if t := block.Terminator; t != nil {
		switch t.Kind {
		case TermIf, TermCondAnd, TermCondOr:
			return w.handleBranch(block, t.Condition, true)
		case TermWhile:
			return w.handleBranch(block, t.Condition, !isBooleanLiteral(t.Condition))
		case TermFor:
			if t.Condition != nil {
				return w.handleBranch(block, t.Condition, false)
			}
			// a condition-less for falls through to the unconditional
			// fan-out below
		case TermSync:
			w.reset()
		}
	}
	// unconditional jumps, condition-less for, range heads, critical
	// sections
	for _, succ := range block.Succs {
		if err := w.enqueue(ProgramPoint{Block: succ, Index: 0}, w.programState); err != nil {
			return err
		}
	}
	return nil
}

// handleBranch splits the current state on the condition value sitting on
// top of the stack and enqueues the feasible sides. checkPath suppresses
// the always-true/false signal for branches whose one-sidedness is by
// construction (for-loop conditions, boolean-literal while conditions).
func (w *Walker) handleBranch(block *Block, condition ast.Expr, checkPath bool) error {
	falseStates, trueStates := w.cm.AssumeDual(w.programState)
	w.logf("[branch] %s: %d false / %d true", w.position(condition), len(falseStates), len(trueStates))
	for _, s := range falseStates {
		ps := s.StackValue(FalseLiteral)
		if err := w.enqueue(ProgramPoint{Block: block.FalseSucc, Index: 0}, ps); err != nil {
			return err
		}
		if checkPath {
			w.notifyConditionObservers(condition, false)
		}
	}
	for _, s := range trueStates {
		ps := s.StackValue(TrueLiteral)
		if err := w.enqueue(ProgramPoint{Block: block.TrueSucc, Index: 0}, ps); err != nil {
			return err
		}
		if checkPath {
			w.notifyConditionObservers(condition, true)
		}
	}
	return nil
}

func (w *Walker) notifyConditionObservers(condition ast.Expr, value bool) {
	for _, c := range w.Checkers {
		obs, ok := c.(ConditionObserver)
		if !ok {
			continue
		}
		if value {
			obs.EvaluatedToTrue(condition)
		} else {
			obs.EvaluatedToFalse(condition)
		}
	}
}

// enqueue interns (pp, ps) and pushes the node onto the front of the
// worklist unless the loop-unroll bound drops it or the node was already
// explored.
func (w *Walker) enqueue(pp ProgramPoint, ps ProgramState) error {
	k := ps.NumberOfTimesVisited(pp)
	if k > w.MaxExecProgramPoint {
		// loop-unroll bound: fold the back-edge silently
		return nil
	}
	if w.isExplodedGraphTooBig(ps) {
		return fmt.Errorf("%w: %d constraints exploring %s", ErrExplodedGraphTooBig, ps.ConstraintCount(), w.proc.Name)
	}
	node := w.graph.GetNode(pp, ps.WithVisited(pp, k+1))
	if !node.IsNew {
		// has been enqueued earlier
		return nil
	}
	w.workList = append(w.workList, node)
	return nil
}

// isExplodedGraphTooBig flags a state-space explosion only once both the
// frontier and the constraint store are large.
func (w *Walker) isExplodedGraphTooBig(ps ProgramState) bool {
	return w.steps+len(w.workList) > w.MaxSteps/2 && ps.ConstraintCount() > w.ConstraintSizeGate
}

// EngineContext implementation. The checkers only ever see this narrow
// view of the walker.

// ProgramState returns the state the engine is currently transforming.
func (w *Walker) ProgramState() ProgramState { return w.programState }

// SetProgramState replaces the current state.
func (w *Walker) SetProgramState(ps ProgramState) { w.programState = ps }

// ConstraintManager returns the manager for the current procedure.
func (w *Walker) ConstraintManager() *ConstraintManager { return w.cm }

// Node returns the exploded-graph node being processed.
func (w *Walker) Node() *Node { return w.node }

// Oracle returns the symbol oracle for the current procedure.
func (w *Walker) Oracle() SymbolOracle {
	if w.proc == nil {
		return nil
	}
	return w.proc.Oracle
}

// ReportIssue sends a defect to the diagnostics sink.
func (w *Walker) ReportIssue(node ast.Node, message string) {
	w.sink.ReportIssue(node, message)
}

func (w *Walker) logf(format string, args ...interface{}) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
	}
}

func (w *Walker) position(node ast.Node) string {
	if w.proc != nil && w.proc.Fset != nil && node != nil && node.Pos().IsValid() {
		return w.proc.Fset.Position(node.Pos()).String()
	}
	return "-"
}

func isBooleanLiteral(e ast.Expr) bool {
	id, ok := e.(*ast.Ident)
	return ok && (id.Name == "true" || id.Name == "false")
}

func receiverName(decl *ast.FuncDecl) string {
	if decl.Recv == nil || len(decl.Recv.List) == 0 || len(decl.Recv.List[0].Names) == 0 {
		return ""
	}
	return decl.Recv.List[0].Names[0].Name
}
