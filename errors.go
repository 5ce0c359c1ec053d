package symbex

import (
	"errors"
	"fmt"
	"go/ast"
)

// Bounded-abort errors. These terminate exploration of a single function
// without invalidating the Walker for the next one; the driver is expected
// to catch and continue.
var (
	ErrMaximumStepsReached = errors.New("symbex: maximum steps reached")
	ErrExplodedGraphTooBig = errors.New("symbex: exploded graph too big")
)

// InternalError wraps an unrecoverable invariant violation: an unexpected
// tree kind reaching the CFG, a stack underflow, or an unknown constraint
// kind. Unlike the bounded-abort errors, an InternalError indicates a bug
// in the engine (or in a CFG/symbol-oracle collaborator), not a
// pathological input.
type InternalError struct {
	Node   ast.Node
	Reason string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("symbex: internal error: %s", e.Reason)
}

// newInternalError returns an *InternalError describing reason at node.
func newInternalError(node ast.Node, format string, args ...interface{}) *InternalError {
	return &InternalError{Node: node, Reason: fmt.Sprintf(format, args...)}
}
