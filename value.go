package symbex

import "go/ast"

// SymbolicValue is an opaque identity distinguishing one abstract value
// from another. Identity, not structure, determines equality: two
// SymbolicValues are the same value iff they are the same pointer.
//
// Every SymbolicValue is either one of the three distinguished literal
// singletons (TrueLiteral, FalseLiteral, NullLiteral) or was freshly minted
// by a ConstraintManager.
type SymbolicValue struct {
	id      int
	literal string // "" unless this is one of the three singletons

	// origin is the syntactic node that produced this value. Recorded for
	// diagnostics only; it has no semantic effect.
	origin ast.Node

	// computedFrom records the ordered operands this value was computed
	// from, if any. Recorded by ComputedFrom; used by checkers to trace
	// the provenance of a boolean result back to its operands.
	computedFrom []*SymbolicValue
}

// The three distinguished literal singletons. Shared across every
// ConstraintManager; unlike every other SymbolicValue they are never
// freshly minted.
var (
	TrueLiteral  = &SymbolicValue{literal: "true"}
	FalseLiteral = &SymbolicValue{literal: "false"}
	NullLiteral  = &SymbolicValue{literal: "null"}
)

// String returns a short human-readable label for the value, for use in
// logs and Dump output. It is not a serialization format.
func (sv *SymbolicValue) String() string {
	if sv == nil {
		return "<nil>"
	}
	if sv.literal != "" {
		return sv.literal
	}
	return "SV#" + itoa(sv.id)
}

// ComputedFrom records the operands sv was computed from. It has no effect
// on the constraint store; it exists purely for provenance tracing by
// checkers. Callers invoke it once, immediately after minting sv, before
// sv is stored in any ProgramState.
func (sv *SymbolicValue) ComputedFrom(operands ...*SymbolicValue) {
	sv.computedFrom = append(sv.computedFrom[:0:0], operands...)
}

// Operands returns the operands sv was computed from, or nil if none were
// recorded.
func (sv *SymbolicValue) Operands() []*SymbolicValue {
	return sv.computedFrom
}

// Constraint is a tag attached to a SymbolicValue within a given
// ProgramState. Constraints are grouped into kinds (e.g. "nullness"); no
// two constraints of the same kind may both hold for the same value in the
// same state, but constraints of different kinds coexist freely. The
// built-in kinds are NullnessConstraint and truthConstraint (the latter
// used internally by AssumeDual); callers may define further kinds.
type Constraint interface {
	// Kind identifies the mutually-exclusive group this constraint
	// belongs to. Two Constraints with the same Kind() are considered
	// alternatives of one another; constraints with different Kind()
	// values never conflict.
	Kind() string
	String() string
}

// NullnessKind is the constraint kind shared by NullConstraint and
// NotNullConstraint.
const NullnessKind = "nullness"

// NullnessConstraint is the required constraint domain: {NULL, NOT_NULL}.
type NullnessConstraint int

const (
	NullConstraint    NullnessConstraint = iota // NULL
	NotNullConstraint                           // NOT_NULL
)

func (NullnessConstraint) Kind() string { return NullnessKind }

func (c NullnessConstraint) String() string {
	if c == NullConstraint {
		return "NULL"
	}
	return "NOT_NULL"
}

// truthConstraint is an internal constraint kind used by AssumeDual to
// record which way a branch condition's SymbolicValue was previously
// assumed, so that revisiting the same condition along a different path
// (e.g. a loop back-edge) stays consistent. It is not part of the required
// nullness domain, but the constraint-kind mechanism is designed to carry
// exactly this kind of addition.
type truthConstraint bool

const (
	falseTruth truthConstraint = false
	trueTruth  truthConstraint = true
)

func (truthConstraint) Kind() string { return "truth" }

func (c truthConstraint) String() string {
	if bool(c) {
		return "TRUE"
	}
	return "FALSE"
}

// ConstraintManager is the factory for SymbolicValues within a single
// Walker.VisitProcedure call. It encodes literals and performs dual-assume (split
// a state into false/true feasibility branches). A ConstraintManager holds
// no state beyond an identifier sequence; it is created fresh per
// procedure, mirroring ExplodedGraphWalker's per-method constraintManager.
type ConstraintManager struct {
	nextID int
}

// NewConstraintManager returns a new, empty ConstraintManager.
func NewConstraintManager() *ConstraintManager {
	return &ConstraintManager{}
}

// NewSymbolicValue returns a fresh SymbolicValue with no constraints.
// origin is the syntactic node that produced it, recorded for diagnostics
// only.
func (cm *ConstraintManager) NewSymbolicValue(origin ast.Node) *SymbolicValue {
	cm.nextID++
	return &SymbolicValue{id: cm.nextID, origin: origin}
}

// SupersedeSymbolicValue returns a fresh SymbolicValue intended to replace
// an existing binding for variable — semantically "some unknown, non-null
// value". Callers combine the result with NotNullConstraint as needed; see
// Walker.reset.
func (cm *ConstraintManager) SupersedeSymbolicValue(variable Symbol) *SymbolicValue {
	return cm.NewSymbolicValue(variable.DeclNode())
}

// EvalLiteral returns NullLiteral for a nil literal, TrueLiteral/
// FalseLiteral for a boolean literal, and a fresh SymbolicValue for every
// other literal kind (symbex does not track concrete numeric or string
// values; only nullness/boolean constraints are in scope).
func (cm *ConstraintManager) EvalLiteral(lit ast.Expr) *SymbolicValue {
	if id, ok := lit.(*ast.Ident); ok {
		switch id.Name {
		case "nil":
			return NullLiteral
		case "true":
			return TrueLiteral
		case "false":
			return FalseLiteral
		}
	}
	return cm.NewSymbolicValue(lit)
}

// SetConstraint returns the set of successor ProgramStates consistent with
// sv having constraint c in state. If state already implies the opposite
// constraint of c's kind, the result is empty (infeasible). If state
// already implies c, state is returned unchanged. Otherwise state is
// returned with c added.
//
// SetConstraint returns a slice, not a single state, to leave room for
// future constraint kinds with more than two possible tags.
func (cm *ConstraintManager) SetConstraint(sv *SymbolicValue, state ProgramState, c Constraint) []ProgramState {
	existing, ok := state.ConstraintOf(sv, c.Kind())
	if ok {
		if existing == c {
			return []ProgramState{state}
		}
		return nil // opposite constraint already implied: infeasible
	}
	return []ProgramState{state.withConstraint(sv, c)}
}

// SetSingleConstraint is the same as SetConstraint but asserts exactly one
// successor state exists. It panics otherwise, since callers use it only
// where a single outcome is guaranteed (e.g. asserting NOT_NULL on a
// freshly minted value that cannot already carry a conflicting
// constraint).
func (cm *ConstraintManager) SetSingleConstraint(sv *SymbolicValue, state ProgramState, c Constraint) ProgramState {
	states := cm.SetConstraint(sv, state, c)
	assert(len(states) == 1, "SetSingleConstraint: expected exactly one successor state, got %d", len(states))
	return states[0]
}

// AssumeDual inspects the SymbolicValue on top of state's stack — the
// branch condition's result — and splits state into the states consistent
// with that value being "false-like" (boolean false or null) and those
// consistent with it being "true-like". Either list may be empty,
// indicating the corresponding branch is infeasible on this path.
//
// AssumeDual does not pop the top-of-stack value. Walker.handleBranch does
// not pop it either: the value stays beneath the pushed branch literal until
// the next statement end clears the stack.
func (cm *ConstraintManager) AssumeDual(state ProgramState) (falseStates, trueStates []ProgramState) {
	sv := state.peek()
	switch sv {
	case TrueLiteral:
		return nil, []ProgramState{state}
	case FalseLiteral, NullLiteral:
		return []ProgramState{state}, nil
	default:
		if c, ok := state.ConstraintOf(sv, NullnessKind); ok && c == Constraint(NullConstraint) {
			// a value known to be null is false-like
			return []ProgramState{state}, nil
		}
		return cm.SetConstraint(sv, state, falseTruth), cm.SetConstraint(sv, state, trueTruth)
	}
}

// itoa avoids pulling in strconv for the one call site above; kept tiny
// and local since SymbolicValue.String is on a hot path in Dump output.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
