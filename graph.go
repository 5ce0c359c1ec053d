package symbex

// ProgramPoint locates execution within the CFG: the pair of a basic block
// and an element index. Index < len(Block.Elements) points at the element
// to execute next; Index == len(Block.Elements) denotes the block
// terminator / exit.
type ProgramPoint struct {
	Block *Block
	Index int
}

// Node is an interned (program-point, program-state) pair. IsNew is true
// iff the node was created by the GetNode call that returned it rather than
// found in the cache.
type Node struct {
	Point ProgramPoint
	State ProgramState
	IsNew bool
}

// ExplodedGraph interns the set of reachable (program-point, state) nodes.
// Two value-equal states at the same point map to the same node, which is
// what keeps exploration finite: a node seen before is not re-enqueued.
type ExplodedGraph struct {
	nodes map[uint64][]*Node
	size  int
}

// NewExplodedGraph returns an empty graph.
func NewExplodedGraph() *ExplodedGraph {
	return &ExplodedGraph{nodes: make(map[uint64][]*Node)}
}

// GetNode returns the node for (pp, ps), creating and storing it if absent.
// The returned node's IsNew field reports which case occurred.
func (g *ExplodedGraph) GetNode(pp ProgramPoint, ps ProgramState) *Node {
	h := uint64(pointHash(pp))*1099511628211 ^ ps.hash()
	for _, n := range g.nodes[h] {
		if n.Point == pp && n.State.Equal(ps) {
			n.IsNew = false
			return n
		}
	}
	n := &Node{Point: pp, State: ps, IsNew: true}
	g.nodes[h] = append(g.nodes[h], n)
	g.size++
	return n
}

// Size returns the number of interned nodes.
func (g *ExplodedGraph) Size() int { return g.size }
