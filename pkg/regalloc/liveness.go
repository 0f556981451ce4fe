// Package regalloc assigns every virtual register of a function either a
// physical register or a stack slot, using linear scan over live intervals.
package regalloc

import (
	"sort"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
)

// VarSet is a set of virtual registers
type VarSet map[ir.VarID]bool

// NewVarSet creates an empty set
func NewVarSet() VarSet {
	return make(VarSet)
}

// Add inserts v
func (s VarSet) Add(v ir.VarID) {
	s[v] = true
}

// Remove deletes v
func (s VarSet) Remove(v ir.VarID) {
	delete(s, v)
}

// Contains reports whether v is in the set
func (s VarSet) Contains(v ir.VarID) bool {
	return s[v]
}

// Union returns s ∪ other
func (s VarSet) Union(other VarSet) VarSet {
	result := s.Copy()
	for v := range other {
		result[v] = true
	}
	return result
}

// Minus returns s \ other
func (s VarSet) Minus(other VarSet) VarSet {
	result := NewVarSet()
	for v := range s {
		if !other[v] {
			result[v] = true
		}
	}
	return result
}

// Equal reports whether both sets hold the same elements
func (s VarSet) Equal(other VarSet) bool {
	if len(s) != len(other) {
		return false
	}
	for v := range s {
		if !other[v] {
			return false
		}
	}
	return true
}

// Copy returns a shallow copy
func (s VarSet) Copy() VarSet {
	result := make(VarSet, len(s))
	for v := range s {
		result[v] = true
	}
	return result
}

// Slice returns the elements in ascending order
func (s VarSet) Slice() []ir.VarID {
	result := make([]ir.VarID, 0, len(s))
	for v := range s {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// LivenessInfo holds per-block liveness. Phi results count as defined at the
// top of their block; phi operands count as used at the end of the matching
// predecessor, so they appear in that predecessor's LiveOut.
type LivenessInfo struct {
	Use     map[ir.BlockID]VarSet
	Def     map[ir.BlockID]VarSet
	LiveIn  map[ir.BlockID]VarSet
	LiveOut map[ir.BlockID]VarSet
}

// phiUses returns the values succ's phis read on the edge from pred
func phiUses(succ *ir.Block, pred ir.BlockID) VarSet {
	uses := NewVarSet()
	for _, phi := range succ.Phis() {
		for _, e := range phi.Edges {
			if e.Pred != pred {
				continue
			}
			if v, ok := e.Value.(ir.Var); ok {
				uses.Add(v.ID)
			}
		}
	}
	return uses
}

// AnalyzeLiveness runs the backward dataflow to a fixed point
func AnalyzeLiveness(fn *ir.Function) *LivenessInfo {
	info := &LivenessInfo{
		Use:     make(map[ir.BlockID]VarSet),
		Def:     make(map[ir.BlockID]VarSet),
		LiveIn:  make(map[ir.BlockID]VarSet),
		LiveOut: make(map[ir.BlockID]VarSet),
	}

	for _, b := range fn.Blocks {
		use, def := NewVarSet(), NewVarSet()
		if b.ID == fn.Entry {
			for _, p := range fn.Params {
				def.Add(p.ID)
			}
		}
		for _, instr := range b.Code {
			if _, isPhi := instr.(ir.Phi); !isPhi {
				for _, v := range ir.UsedVars(instr) {
					if !def.Contains(v.ID) {
						use.Add(v.ID)
					}
				}
			}
			if d, ok := ir.Def(instr); ok {
				def.Add(d.ID)
			}
		}
		info.Use[b.ID] = use
		info.Def[b.ID] = def
		info.LiveIn[b.ID] = NewVarSet()
		info.LiveOut[b.ID] = NewVarSet()
	}

	changed := true
	for changed {
		changed = false
		for i := len(fn.Blocks) - 1; i >= 0; i-- {
			b := fn.Blocks[i]
			out := NewVarSet()
			if term := b.Terminator(); term != nil {
				for _, s := range ir.Successors(term) {
					succ := fn.Block(s)
					out = out.Union(info.LiveIn[s]).Union(phiUses(succ, b.ID))
				}
			}
			in := info.Use[b.ID].Union(out.Minus(info.Def[b.ID]))
			if !out.Equal(info.LiveOut[b.ID]) || !in.Equal(info.LiveIn[b.ID]) {
				info.LiveOut[b.ID] = out
				info.LiveIn[b.ID] = in
				changed = true
			}
		}
	}
	return info
}
