package regalloc

import (
	"fmt"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

// InterferenceGraph records which values are live at the same time.
// Two values interfere if their intervals overlap.
type InterferenceGraph struct {
	// Nodes are virtual registers
	Nodes VarSet
	// Edges maps each value to its interfering neighbors
	Edges map[ir.VarID]VarSet
	// LiveAcrossCalls tracks values live across a call.
	// These must be assigned to callee-saved registers or spilled
	LiveAcrossCalls VarSet
}

// NewInterferenceGraph creates an empty interference graph
func NewInterferenceGraph() *InterferenceGraph {
	return &InterferenceGraph{
		Nodes:           NewVarSet(),
		Edges:           make(map[ir.VarID]VarSet),
		LiveAcrossCalls: NewVarSet(),
	}
}

// AddNode adds a value to the graph
func (g *InterferenceGraph) AddNode(v ir.VarID) {
	g.Nodes.Add(v)
	if g.Edges[v] == nil {
		g.Edges[v] = NewVarSet()
	}
}

// AddEdge adds an interference edge between two values
func (g *InterferenceGraph) AddEdge(a, b ir.VarID) {
	if a == b {
		return
	}
	g.AddNode(a)
	g.AddNode(b)
	g.Edges[a].Add(b)
	g.Edges[b].Add(a)
}

// HasEdge returns true if there is an interference edge
func (g *InterferenceGraph) HasEdge(a, b ir.VarID) bool {
	if edges, ok := g.Edges[a]; ok {
		return edges.Contains(b)
	}
	return false
}

// Degree returns the number of neighbors of v
func (g *InterferenceGraph) Degree(v ir.VarID) int {
	return len(g.Edges[v])
}

// BuildInterferenceGraph connects every pair of overlapping intervals.
// Intervals must be sorted by start position.
func BuildInterferenceGraph(intervals []Interval) *InterferenceGraph {
	g := NewInterferenceGraph()
	for i, a := range intervals {
		g.AddNode(a.Var.ID)
		if a.SpansCall {
			g.LiveAcrossCalls.Add(a.Var.ID)
		}
		for _, b := range intervals[i+1:] {
			if b.Start > a.End {
				break
			}
			g.AddEdge(a.Var.ID, b.Var.ID)
		}
	}
	return g
}

// Check verifies an allocation: interfering values never share a register,
// values live across a call sit in callee-saved registers or on the stack,
// and every register used is allocatable.
func Check(res *Result, desc *target.Descriptor) error {
	allocatable := make(map[target.Reg]bool)
	for _, r := range desc.Allocatable {
		allocatable[r] = true
	}
	g := BuildInterferenceGraph(res.Intervals)
	for _, v := range g.Nodes.Slice() {
		loc, ok := res.Locs[v]
		if !ok {
			return fmt.Errorf("%s: %%%d has no location", res.Func, v)
		}
		if loc.Spilled {
			continue
		}
		if !allocatable[loc.Reg] {
			return fmt.Errorf("%s: %%%d assigned non-allocatable register %s", res.Func, v, loc.Reg)
		}
		if g.LiveAcrossCalls.Contains(v) && !desc.IsCalleeSaved(loc.Reg) {
			return fmt.Errorf("%s: %%%d is live across a call in caller-saved %s", res.Func, v, loc.Reg)
		}
		for _, n := range g.Edges[v].Slice() {
			if other := res.Locs[n]; !other.Spilled && other.Reg == loc.Reg {
				return fmt.Errorf("%s: %%%d and %%%d interfere but share %s", res.Func, v, n, loc.Reg)
			}
		}
	}
	return nil
}
