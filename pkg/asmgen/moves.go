package asmgen

import (
	"github.com/raymyers/llvm-to-shasm/pkg/asm"
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

type locKind int

const (
	inReg locKind = iota
	inFrame
	isImm
)

// location is where a move reads or writes: a register, an fp-relative
// frame word, or (as a source only) an immediate
type location struct {
	kind locKind
	reg  target.Reg
	off  int64 // inFrame
	val  int64 // isImm
}

func regLoc(r target.Reg) location { return location{kind: inReg, reg: r} }
func frameLoc(off int64) location  { return location{kind: inFrame, off: off} }
func immLoc(v int64) location      { return location{kind: isImm, val: v} }

// same reports whether two locations name the same storage
func (l location) same(o location) bool { return l == o && l.kind != isImm }

// move copies src to dst at width w
type move struct {
	dst, src location
	w        ir.Width
}

// parallelMoves sequentializes a set of moves that must behave as if all
// sources were read before any destination is written. Each destination
// appears at most once. Cycles are broken through temp; frame-to-frame
// copies go through carry.
//
// Moves whose destination is not a pending source are emitted first. When
// only cycles remain, the source of one pending move is copied to temp and
// every pending move reading it reads temp instead, which unblocks the move
// writing that location.
func parallelMoves(moves []move, temp, carry target.Reg) []asm.Instruction {
	var pending []move
	for _, m := range moves {
		if !m.dst.same(m.src) {
			pending = append(pending, m)
		}
	}

	var code []asm.Instruction
	done := make([]bool, len(pending))
	remaining := len(pending)

	// isSourceOfPendingMove returns true if loc is read by a move that hasn't been done
	isSourceOfPendingMove := func(loc location) bool {
		for i, m := range pending {
			if !done[i] && m.src.same(loc) {
				return true
			}
		}
		return false
	}

	isDestOfPendingMove := func(loc location) bool {
		for i, m := range pending {
			if !done[i] && m.dst.same(loc) {
				return true
			}
		}
		return false
	}

	for remaining > 0 {
		madeProgress := false
		for i, m := range pending {
			if done[i] || isSourceOfPendingMove(m.dst) {
				continue
			}
			code = append(code, emitMove(m, carry)...)
			done[i] = true
			remaining--
			madeProgress = true
		}
		if madeProgress {
			continue
		}

		// Only cycles are left: park a source that another move overwrites
		for i, m := range pending {
			if done[i] || !isDestOfPendingMove(m.src) {
				continue
			}
			saved := m.src
			code = append(code, emitMove(move{dst: regLoc(temp), src: saved, w: m.w}, carry)...)
			for j := range pending {
				if !done[j] && pending[j].src.same(saved) {
					pending[j].src = regLoc(temp)
				}
			}
			break
		}
	}
	return code
}

// emitMove lowers one move; frame-to-frame and immediate-to-frame copies
// go through carry
func emitMove(m move, carry target.Reg) []asm.Instruction {
	switch m.dst.kind {
	case inReg:
		return []asm.Instruction{load(m.w, m.dst.reg, m.src)}
	case inFrame:
		mem := asm.Addr{Base: target.FP, Off: m.dst.off}
		if m.src.kind == inReg {
			return []asm.Instruction{asm.St{W: m.w, Rs: m.src.reg, Mem: mem}}
		}
		return []asm.Instruction{
			load(m.w, carry, m.src),
			asm.St{W: m.w, Rs: carry, Mem: mem},
		}
	}
	panic("asmgen: move into an immediate")
}

// load puts src into rd
func load(w ir.Width, rd target.Reg, src location) asm.Instruction {
	switch src.kind {
	case inReg:
		return asm.Mov{W: w, Rd: rd, Rs: src.reg}
	case inFrame:
		return asm.Ld{W: w, Rd: rd, Mem: asm.Addr{Base: target.FP, Off: src.off}}
	default:
		return asm.Movi{W: w, Rd: rd, Imm: src.val}
	}
}
