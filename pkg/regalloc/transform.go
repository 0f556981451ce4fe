package regalloc

import (
	"fmt"
	"sort"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

// Result is the allocation of one function. It is read-only once returned.
type Result struct {
	Func            string
	Locs            map[ir.VarID]Loc
	Intervals       []Interval // sorted by (Start, VarID)
	Spilled         []ir.Var   // sorted by VarID
	UsedRegs        []target.Reg
	UsedCalleeSaved []target.Reg
	Numbering       *Numbering
	Liveness        *LivenessInfo
}

// Loc returns the location of v
func (r *Result) Loc(v ir.Var) Loc {
	loc, ok := r.Locs[v.ID]
	if !ok {
		panic(fmt.Sprintf("regalloc: %s has no location for %s", r.Func, v))
	}
	return loc
}

// IsSpilled reports whether v lives in a stack slot
func (r *Result) IsSpilled(v ir.Var) bool {
	return r.Loc(v).Spilled
}

// CapacityError reports an instruction that needs more scratch registers
// than the target reserves
type CapacityError struct {
	Func  string
	Block string
	Instr string
	Need  int
	Have  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: block %s: %s needs %d scratch registers, target has %d",
		e.Func, e.Block, e.Instr, e.Need, e.Have)
}

// Allocate computes liveness and intervals for fn, runs linear scan and
// checks that every instruction can be emitted with the target's scratch
// registers
func Allocate(fn *ir.Function, desc *target.Descriptor) (*Result, error) {
	live := AnalyzeLiveness(fn)
	num := Number(fn)
	intervals := BuildIntervals(fn, num, live)
	locs := newLinearScan(desc).run(intervals)

	res := &Result{
		Func:      fn.Name,
		Locs:      locs,
		Intervals: intervals,
		Numbering: num,
		Liveness:  live,
	}
	used := make(map[target.Reg]bool)
	for _, iv := range intervals {
		loc := locs[iv.Var.ID]
		if loc.Spilled {
			res.Spilled = append(res.Spilled, iv.Var)
			continue
		}
		if !used[loc.Reg] {
			used[loc.Reg] = true
			res.UsedRegs = append(res.UsedRegs, loc.Reg)
			if desc.IsCalleeSaved(loc.Reg) {
				res.UsedCalleeSaved = append(res.UsedCalleeSaved, loc.Reg)
			}
		}
	}
	sort.Slice(res.Spilled, func(i, j int) bool { return res.Spilled[i].ID < res.Spilled[j].ID })
	sortRegs(res.UsedRegs)
	sortRegs(res.UsedCalleeSaved)

	have := len(desc.Scratch)
	if need := EntryDemand(fn, res, desc); need > have {
		return nil, &CapacityError{Func: fn.Name, Block: fn.Blocks[fn.Entry].Label, Instr: "parameter moves", Need: need, Have: have}
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Code {
			if need := ScratchDemand(fn, b, instr, res, desc); need > have {
				return nil, &CapacityError{
					Func:  fn.Name,
					Block: b.Label,
					Instr: ir.FormatInstruction(fn, instr),
					Need:  need,
					Have:  have,
				}
			}
		}
	}
	return res, nil
}

func sortRegs(regs []target.Reg) {
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
}

// operandCost is the scratch registers needed to get op into a register
func operandCost(op ir.Operand, res *Result) int {
	switch o := op.(type) {
	case ir.Imm:
		return 1
	case ir.Var:
		if res.IsSpilled(o) {
			return 1
		}
	}
	return 0
}

// secondCost is operandCost for a second ALU operand, where immediates are
// encoded in the instruction
func secondCost(op ir.Operand, res *Result) int {
	if _, ok := op.(ir.Imm); ok {
		return 0
	}
	return operandCost(op, res)
}

func addrCost(m ir.MemRef, res *Result) int {
	switch r := m.(type) {
	case ir.SlotRef:
		if _, dynamic := r.Index.(ir.Var); dynamic {
			return 1
		}
	case ir.PtrRef:
		return operandCost(r.Ptr, res)
	}
	return 0
}

func destCost(n int, d ir.Var, res *Result) int {
	if res.IsSpilled(d) {
		return max(n, 1)
	}
	return n
}

// moveCost is the scratch demand of a parallel move: one register to break
// cycles and one to carry memory-to-memory copies
func moveCost(nontrivial bool) int {
	if nontrivial {
		return 2
	}
	return 0
}

func sameLoc(src ir.Operand, dst Loc, res *Result) bool {
	v, ok := src.(ir.Var)
	if !ok {
		return false
	}
	loc := res.Loc(v)
	return loc == dst && !loc.Spilled
}

func phiMovesNontrivial(fn *ir.Function, pred ir.BlockID, succ ir.BlockID, res *Result) bool {
	for _, m := range fn.Block(succ).PhiMoves(pred) {
		if src, ok := m.Src.(ir.Var); ok && src.ID == m.Dest.ID {
			continue
		}
		if !sameLoc(m.Src, res.Loc(m.Dest), res) {
			return true
		}
	}
	return false
}

// TakenSuccessors returns the successors a terminator can actually reach,
// folding branches on constants
func TakenSuccessors(instr ir.Instruction) []ir.BlockID {
	if br, ok := instr.(ir.Branch); ok {
		if c, isImm := br.Cond.(ir.Imm); isImm {
			if c.Val != 0 {
				return []ir.BlockID{br.Then}
			}
			return []ir.BlockID{br.Else}
		}
	}
	return ir.Successors(instr)
}

// ScratchDemand returns how many scratch registers the emitter needs for
// instr under the allocation res. Spilled operands are reloaded into scratch
// registers and a spilled result is produced in one before being stored.
func ScratchDemand(fn *ir.Function, b *ir.Block, instr ir.Instruction, res *Result, desc *target.Descriptor) int {
	switch i := instr.(type) {
	case ir.Binop:
		return destCost(operandCost(i.X, res)+secondCost(i.Y, res), i.Dest, res)
	case ir.Cmp:
		return destCost(operandCost(i.X, res)+secondCost(i.Y, res), i.Dest, res)
	case ir.Cast:
		return destCost(operandCost(i.Src, res), i.Dest, res)
	case ir.Load:
		return destCost(addrCost(i.Mem, res), i.Dest, res)
	case ir.Store:
		return operandCost(i.Src, res) + addrCost(i.Mem, res)
	case ir.SlotAddr:
		n := 0
		if v, ok := i.Mem.Index.(ir.Var); ok && res.IsSpilled(v) {
			n = 1
		}
		return destCost(n, i.Dest, res)
	case ir.Call:
		need := 0
		nontrivial := false
		for k, a := range i.Args {
			if k >= len(desc.ArgRegs) {
				need = max(need, operandCost(a, res))
				continue
			}
			if !sameLoc(a, Loc{Reg: desc.ArgRegs[k]}, res) {
				nontrivial = true
			}
		}
		return max(need, moveCost(nontrivial))
	case ir.Jump:
		return moveCost(phiMovesNontrivial(fn, b.ID, i.Target, res))
	case ir.Branch:
		need := 0
		if v, ok := i.Cond.(ir.Var); ok && res.IsSpilled(v) {
			need = 1
		}
		for _, s := range TakenSuccessors(i) {
			need = max(need, moveCost(phiMovesNontrivial(fn, b.ID, s, res)))
		}
		return need
	}
	return 0
}

// EntryDemand is the scratch demand of the parameter moves at function entry
func EntryDemand(fn *ir.Function, res *Result, desc *target.Descriptor) int {
	for k, p := range fn.Params {
		if k >= len(desc.ArgRegs) {
			return moveCost(true)
		}
		if loc := res.Loc(p); loc.Spilled || loc.Reg != desc.ArgRegs[k] {
			return moveCost(true)
		}
	}
	return 0
}
