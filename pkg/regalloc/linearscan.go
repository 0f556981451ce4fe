package regalloc

import (
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

// Loc is where a value lives for its whole lifetime
type Loc struct {
	Reg     target.Reg
	Spilled bool
}

func (l Loc) String() string {
	if l.Spilled {
		return "spilled"
	}
	return l.Reg.String()
}

// linearScan holds the state of one allocation run. It is created per
// function and discarded afterwards.
type linearScan struct {
	desc   *target.Descriptor
	active []*Interval
	busy   map[target.Reg]*Interval
	locs   map[ir.VarID]Loc
}

func newLinearScan(desc *target.Descriptor) *linearScan {
	return &linearScan{
		desc: desc,
		busy: make(map[target.Reg]*Interval),
		locs: make(map[ir.VarID]Loc),
	}
}

// candidates returns the registers cur may occupy, in preference order
func (s *linearScan) candidates(cur *Interval) []target.Reg {
	if !cur.SpansCall {
		return s.desc.Allocatable
	}
	var regs []target.Reg
	for _, r := range s.desc.Allocatable {
		if s.desc.IsCalleeSaved(r) {
			regs = append(regs, r)
		}
	}
	return regs
}

// expire releases the registers of intervals that ended before pos
func (s *linearScan) expire(pos int) {
	kept := s.active[:0]
	for _, iv := range s.active {
		if iv.End < pos {
			delete(s.busy, s.locs[iv.Var.ID].Reg)
			continue
		}
		kept = append(kept, iv)
	}
	s.active = kept
}

func (s *linearScan) assign(cur *Interval, r target.Reg) {
	s.locs[cur.Var.ID] = Loc{Reg: r}
	s.busy[r] = cur
	s.active = append(s.active, cur)
}

func (s *linearScan) spill(iv *Interval) {
	s.locs[iv.Var.ID] = Loc{Spilled: true}
}

// farther reports whether a should be spilled in preference to b
func farther(a, b *Interval) bool {
	if a.End != b.End {
		return a.End > b.End
	}
	return a.Var.ID > b.Var.ID
}

func (s *linearScan) allocate(cur *Interval) {
	s.expire(cur.Start)
	regs := s.candidates(cur)
	if len(regs) == 0 {
		s.spill(cur)
		return
	}
	for _, r := range regs {
		if s.busy[r] == nil {
			s.assign(cur, r)
			return
		}
	}

	// Every candidate is taken: spill whichever of cur and the intervals
	// holding a candidate register ends farthest.
	victim := cur
	for _, r := range regs {
		if iv := s.busy[r]; iv != nil && farther(iv, victim) {
			victim = iv
		}
	}
	if victim == cur {
		s.spill(cur)
		return
	}
	r := s.locs[victim.Var.ID].Reg
	s.spill(victim)
	for i, iv := range s.active {
		if iv == victim {
			s.active = append(s.active[:i], s.active[i+1:]...)
			break
		}
	}
	s.assign(cur, r)
}

// run allocates every interval in order; intervals must be sorted by
// (Start, VarID)
func (s *linearScan) run(intervals []Interval) map[ir.VarID]Loc {
	for i := range intervals {
		s.allocate(&intervals[i])
	}
	return s.locs
}
