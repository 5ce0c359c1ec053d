package symbex

import "go/ast"

// ConditionAlwaysTrueOrFalseCheck records which way each branch condition
// evaluated across the whole exploration and, at end of execution, reports
// the conditions observed in only one polarity: on every feasible path their
// outcome was fixed.
type ConditionAlwaysTrueOrFalseCheck struct {
	order          []ast.Node
	evaluatedTrue  map[ast.Node]bool
	evaluatedFalse map[ast.Node]bool
}

// NewConditionAlwaysTrueOrFalseCheck returns a new instance of
// ConditionAlwaysTrueOrFalseCheck.
func NewConditionAlwaysTrueOrFalseCheck() *ConditionAlwaysTrueOrFalseCheck {
	c := &ConditionAlwaysTrueOrFalseCheck{}
	c.Init()
	return c
}

// Init resets the per-procedure accumulators.
func (c *ConditionAlwaysTrueOrFalseCheck) Init() {
	c.order = nil
	c.evaluatedTrue = make(map[ast.Node]bool)
	c.evaluatedFalse = make(map[ast.Node]bool)
}

// EvaluatedToTrue records that condition was feasible in its true polarity.
// Implements ConditionObserver.
func (c *ConditionAlwaysTrueOrFalseCheck) EvaluatedToTrue(condition ast.Node) {
	c.record(condition)
	c.evaluatedTrue[condition] = true
}

// EvaluatedToFalse records that condition was feasible in its false
// polarity. Implements ConditionObserver.
func (c *ConditionAlwaysTrueOrFalseCheck) EvaluatedToFalse(condition ast.Node) {
	c.record(condition)
	c.evaluatedFalse[condition] = true
}

func (c *ConditionAlwaysTrueOrFalseCheck) record(condition ast.Node) {
	if !c.evaluatedTrue[condition] && !c.evaluatedFalse[condition] {
		c.order = append(c.order, condition)
	}
}

// PreStatement never sinks.
func (c *ConditionAlwaysTrueOrFalseCheck) PreStatement(ast.Node, EngineContext) bool { return true }

// PostStatement is a no-op.
func (c *ConditionAlwaysTrueOrFalseCheck) PostStatement(ast.Node, EngineContext) {}

// EndOfExecution reports every condition seen in exactly one polarity.
// Conditions are reported in first-observation order so the diagnostic
// stream is deterministic.
func (c *ConditionAlwaysTrueOrFalseCheck) EndOfExecution(ctx EngineContext) {
	for _, condition := range c.order {
		switch {
		case c.evaluatedTrue[condition] && !c.evaluatedFalse[condition]:
			ctx.ReportIssue(condition, "condition always evaluates to true")
		case c.evaluatedFalse[condition] && !c.evaluatedTrue[condition]:
			ctx.ReportIssue(condition, "condition always evaluates to false")
		}
	}
}
