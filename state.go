package symbex

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/benbjohnson/immutable"
	"github.com/davecgh/go-spew/spew"
)

// ProgramState is an immutable snapshot of one explored path: symbol
// bindings, per-value constraints, the operand stack, and per-program-point
// visit counts. All mutators are pure and return a new state sharing
// structure with the old one.
type ProgramState struct {
	values      *immutable.Map[Symbol, *SymbolicValue]
	constraints *immutable.Map[constraintKey, Constraint]
	visited     *immutable.Map[ProgramPoint, int]
	stack       []*SymbolicValue
}

// constraintKey identifies one constraint slot: a symbolic value plus a
// constraint kind. Each slot holds at most one Constraint, which is how the
// store enforces that no two constraints of the same kind bind the same
// value in the same state.
type constraintKey struct {
	sv   *SymbolicValue
	kind string
}

// NewProgramState returns the empty state.
func NewProgramState() ProgramState {
	return ProgramState{
		values:      immutable.NewMap[Symbol, *SymbolicValue](symbolHasher{}),
		constraints: immutable.NewMap[constraintKey, Constraint](constraintKeyHasher{}),
		visited:     immutable.NewMap[ProgramPoint, int](pointHasher{}),
	}
}

// Put binds sym to sv in values.
func (ps ProgramState) Put(sym Symbol, sv *SymbolicValue) ProgramState {
	ps.values = ps.values.Set(sym, sv)
	return ps
}

// ValueOf returns the symbolic value bound to sym, if any.
func (ps ProgramState) ValueOf(sym Symbol) (*SymbolicValue, bool) {
	return ps.values.Get(sym)
}

// StackValue pushes sv onto the operand stack.
func (ps ProgramState) StackValue(sv *SymbolicValue) ProgramState {
	stack := make([]*SymbolicValue, len(ps.stack)+1)
	copy(stack, ps.stack)
	stack[len(ps.stack)] = sv
	ps.stack = stack
	return ps
}

// Unstack pops n values off the operand stack, returning the shrunk state
// and the popped values ordered deepest first. Popping more values than the
// stack holds is an engine bug and panics.
func (ps ProgramState) Unstack(n int) (ProgramState, []*SymbolicValue) {
	assert(n >= 0 && n <= len(ps.stack), "unstack %d values from a stack of %d", n, len(ps.stack))
	if n == 0 {
		return ps, nil
	}
	popped := make([]*SymbolicValue, n)
	copy(popped, ps.stack[len(ps.stack)-n:])
	ps.stack = ps.stack[:len(ps.stack)-n]
	return ps, popped
}

// StackSize returns the operand stack depth.
func (ps ProgramState) StackSize() int { return len(ps.stack) }

// peek returns the top of the operand stack without popping it.
func (ps ProgramState) peek() *SymbolicValue {
	assert(len(ps.stack) > 0, "peek on an empty stack")
	return ps.stack[len(ps.stack)-1]
}

// NumberOfTimesVisited returns how many times pp has been entered along the
// path that produced this state.
func (ps ProgramState) NumberOfTimesVisited(pp ProgramPoint) int {
	n, _ := ps.visited.Get(pp)
	return n
}

// WithVisited returns ps with the visit count for pp set to n.
func (ps ProgramState) WithVisited(pp ProgramPoint, n int) ProgramState {
	ps.visited = ps.visited.Set(pp, n)
	return ps
}

// ConstraintOf returns the constraint of the given kind attached to sv, if
// any.
func (ps ProgramState) ConstraintOf(sv *SymbolicValue, kind string) (Constraint, bool) {
	return ps.constraints.Get(constraintKey{sv: sv, kind: kind})
}

// ConstraintCount returns the number of constraint entries in the state.
// The walker's size gate reads this.
func (ps ProgramState) ConstraintCount() int { return ps.constraints.Len() }

// withConstraint returns ps with c attached to sv, replacing any previous
// constraint of the same kind.
func (ps ProgramState) withConstraint(sv *SymbolicValue, c Constraint) ProgramState {
	ps.constraints = ps.constraints.Set(constraintKey{sv: sv, kind: c.Kind()}, c)
	return ps
}

// Equal reports whether ps and other are value-equal over all four fields.
// Two value-equal states at the same program point are interchangeable for
// exploration.
func (ps ProgramState) Equal(other ProgramState) bool {
	if len(ps.stack) != len(other.stack) ||
		ps.values.Len() != other.values.Len() ||
		ps.constraints.Len() != other.constraints.Len() ||
		ps.visited.Len() != other.visited.Len() {
		return false
	}
	for i, sv := range ps.stack {
		if other.stack[i] != sv {
			return false
		}
	}
	for itr := ps.values.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		if ov, ok := other.values.Get(k); !ok || ov != v {
			return false
		}
	}
	for itr := ps.constraints.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		if ov, ok := other.constraints.Get(k); !ok || ov != v {
			return false
		}
	}
	for itr := ps.visited.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		if ov, ok := other.visited.Get(k); !ok || ov != v {
			return false
		}
	}
	return true
}

// hash returns a structural digest of the state for exploded-graph
// bucketing. Equal states hash equally; the graph confirms bucket hits with
// Equal before reusing a node.
func (ps ProgramState) hash() uint64 {
	const prime = 1099511628211
	h := uint64(14695981039346656037)
	for _, sv := range ps.stack {
		h = h*prime ^ uint64(svHash(sv))
	}
	// Map entries are combined order-independently so the digest does not
	// depend on trie iteration order.
	var m uint64
	for itr := ps.values.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		m ^= mix(uint64(symbolHash(k)), uint64(svHash(v)))
	}
	for itr := ps.constraints.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		m ^= mix(uint64(svHash(k.sv))^hashString(k.kind), hashString(v.String()))
	}
	for itr := ps.visited.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		m ^= mix(uint64(pointHash(k)), uint64(v))
	}
	return h*prime ^ m
}

// Dump returns the contents of the state as a string.
func (ps ProgramState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "PROGRAM STATE")
	fmt.Fprintln(&buf, "=============")

	fmt.Fprintln(&buf, "== VALUES")
	type binding struct {
		name string
		sv   *SymbolicValue
	}
	bindings := make([]binding, 0, ps.values.Len())
	for itr := ps.values.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		bindings = append(bindings, binding{name: k.Name(), sv: v})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].name < bindings[j].name })
	for _, b := range bindings {
		fmt.Fprintf(&buf, "%s=%s\n", b.name, b.sv)
	}

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	lines := make([]string, 0, ps.constraints.Len())
	for itr := ps.constraints.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		lines = append(lines, fmt.Sprintf("%s %s=%s", k.sv, k.kind, v))
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Fprintln(&buf, line)
	}

	fmt.Fprintln(&buf, "== STACK")
	for i := len(ps.stack) - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "%d. %s\n", len(ps.stack)-1-i, ps.stack[i])
	}

	fmt.Fprintln(&buf, "== VISITED")
	counts := make(map[string]int, ps.visited.Len())
	for itr := ps.visited.Iterator(); !itr.Done(); {
		k, v, _ := itr.Next()
		counts[fmt.Sprintf("B%d.%d", k.Block.ID, k.Index)] = v
	}
	fmt.Fprint(&buf, dumpConfig.Sdump(counts))

	return buf.String()
}

// dumpConfig renders plain map contents with sorted keys so Dump output is
// stable across runs.
var dumpConfig = spew.ConfigState{Indent: "  ", SortKeys: true, DisableMethods: true}

// symbolHasher hashes Symbols by name and compares them by identity.
// Implements immutable.Hasher.
type symbolHasher struct{}

func (symbolHasher) Hash(key Symbol) uint32 { return uint32(hashString(key.Name())) }
func (symbolHasher) Equal(a, b Symbol) bool { return a == b }

// constraintKeyHasher hashes (value, kind) constraint slots.
// Implements immutable.Hasher.
type constraintKeyHasher struct{}

func (constraintKeyHasher) Hash(key constraintKey) uint32 {
	return svHash(key.sv) ^ uint32(hashString(key.kind))
}
func (constraintKeyHasher) Equal(a, b constraintKey) bool { return a == b }

// pointHasher hashes program points by block ID and element index.
// Implements immutable.Hasher.
type pointHasher struct{}

func (pointHasher) Hash(key ProgramPoint) uint32 { return pointHash(key) }
func (pointHasher) Equal(a, b ProgramPoint) bool { return a == b }

func symbolHash(sym Symbol) uint32 { return uint32(hashString(sym.Name())) }

func svHash(sv *SymbolicValue) uint32 {
	if sv.literal != "" {
		return uint32(hashString(sv.literal))
	}
	return uint32(sv.id)*2654435761 + 1
}

func pointHash(pp ProgramPoint) uint32 {
	return uint32(pp.Block.ID)*2654435761 ^ uint32(pp.Index)
}

// hashString is 64-bit FNV-1a.
func hashString(s string) uint64 {
	const prime = 1099511628211
	h := uint64(14695981039346656037)
	for i := 0; i < len(s); i++ {
		h = (h ^ uint64(s[i])) * prime
	}
	return h
}

// mix folds a key/value pair into one 64-bit word.
func mix(k, v uint64) uint64 {
	h := k*0x9e3779b97f4a7c15 + v
	h ^= h >> 32
	return h * 0xbf58476d1ce4e5b9
}
