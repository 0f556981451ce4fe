package regalloc

import (
	"sort"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
)

// Numbering assigns program positions in layout order. Each block gets a
// start position, where its phis (and, for the entry block, the parameters)
// are defined, followed by one position per remaining instruction; the last
// of those is the block's end position. Positions step by 2.
type Numbering struct {
	BlockStart map[ir.BlockID]int
	BlockEnd   map[ir.BlockID]int
	Instr      map[ir.BlockID][]int // position of each instruction; phis share BlockStart
	Calls      []int
}

// Number computes the positions of fn
func Number(fn *ir.Function) *Numbering {
	n := &Numbering{
		BlockStart: make(map[ir.BlockID]int),
		BlockEnd:   make(map[ir.BlockID]int),
		Instr:      make(map[ir.BlockID][]int),
	}
	pos := 0
	for _, b := range fn.Blocks {
		n.BlockStart[b.ID] = pos
		positions := make([]int, len(b.Code))
		for i, instr := range b.Code {
			if _, isPhi := instr.(ir.Phi); isPhi {
				positions[i] = pos
				continue
			}
			pos += 2
			positions[i] = pos
			if _, isCall := instr.(ir.Call); isCall {
				n.Calls = append(n.Calls, pos)
			}
		}
		n.Instr[b.ID] = positions
		n.BlockEnd[b.ID] = pos
		pos += 2
	}
	return n
}

// Interval is the single live range [Start, End] of a value, inclusive at
// both ends
type Interval struct {
	Var       ir.Var
	Start     int
	End       int
	SpansCall bool // some call position lies strictly inside
}

// Overlaps reports whether two intervals share a position
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start <= other.End && other.Start <= iv.End
}

type hull struct {
	vars   map[ir.VarID]ir.Var
	bounds map[ir.VarID][2]int
}

func (h *hull) extend(id ir.VarID, pos int) {
	b, ok := h.bounds[id]
	if !ok {
		h.bounds[id] = [2]int{pos, pos}
		return
	}
	if pos < b[0] {
		b[0] = pos
	}
	if pos > b[1] {
		b[1] = pos
	}
	h.bounds[id] = b
}

// BuildIntervals computes one interval per value, sorted by (Start, VarID)
func BuildIntervals(fn *ir.Function, num *Numbering, live *LivenessInfo) []Interval {
	h := &hull{vars: make(map[ir.VarID]ir.Var), bounds: make(map[ir.VarID][2]int)}
	for _, v := range fn.Vars() {
		h.vars[v.ID] = v
	}
	for _, p := range fn.Params {
		h.extend(p.ID, num.BlockStart[fn.Entry])
	}
	preds := fn.Predecessors()

	for _, b := range fn.Blocks {
		start, end := num.BlockStart[b.ID], num.BlockEnd[b.ID]
		for v := range live.LiveOut[b.ID] {
			h.extend(v, end)
		}
		for v := range live.LiveIn[b.ID] {
			h.extend(v, start)
		}
		for i, instr := range b.Code {
			pos := num.Instr[b.ID][i]
			if phi, isPhi := instr.(ir.Phi); isPhi {
				h.extend(phi.Dest.ID, start)
				// the phi move writes the result at the end of each predecessor
				for _, p := range preds[b.ID] {
					h.extend(phi.Dest.ID, num.BlockEnd[p])
				}
				continue
			}
			if d, ok := ir.Def(instr); ok {
				h.extend(d.ID, pos)
			}
			for _, v := range ir.UsedVars(instr) {
				h.extend(v.ID, pos)
			}
		}
	}

	intervals := make([]Interval, 0, len(h.bounds))
	for id, b := range h.bounds {
		iv := Interval{Var: h.vars[id], Start: b[0], End: b[1]}
		for _, c := range num.Calls {
			if iv.Start < c && c < iv.End {
				iv.SpansCall = true
				break
			}
		}
		intervals = append(intervals, iv)
	}
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].Start != intervals[j].Start {
			return intervals[i].Start < intervals[j].Start
		}
		return intervals[i].Var.ID < intervals[j].Var.ID
	})
	return intervals
}
