package stacking

import (
	"github.com/raymyers/llvm-to-shasm/pkg/asm"
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

// Prologue builds the frame:
//  1. push fp
//  2. mov.64 fp, sp
//  3. add.64 sp, sp, #-Size (omitted for an empty frame)
//  4. store each callee-saved register the function uses
func Prologue(l *Layout) []asm.Instruction {
	code := []asm.Instruction{
		asm.Push{Rs: target.FP},
		asm.Mov{W: ir.W64, Rd: target.FP, Rs: target.SP},
	}
	if l.Size > 0 {
		code = append(code, asm.AluImm{Op: ir.Add, W: ir.W64, Rd: target.SP, Rn: target.SP, Imm: -l.Size})
	}
	for _, r := range l.SavedRegs() {
		code = append(code, asm.St{W: ir.W64, Rs: r, Mem: asm.Addr{Base: target.FP, Off: l.SaveOffset(r)}})
	}
	return code
}

// Epilogue tears the frame down and returns:
//  1. reload callee-saved registers
//  2. mov.64 sp, fp
//  3. pop fp
//  4. ret
func Epilogue(l *Layout) []asm.Instruction {
	var code []asm.Instruction
	for _, r := range l.SavedRegs() {
		code = append(code, asm.Ld{W: ir.W64, Rd: r, Mem: asm.Addr{Base: target.FP, Off: l.SaveOffset(r)}})
	}
	return append(code,
		asm.Mov{W: ir.W64, Rd: target.SP, Rs: target.FP},
		asm.Pop{Rd: target.FP},
		asm.Ret{},
	)
}

// SavedRegs returns the callee-saved registers the layout preserves, in the
// order the prologue stores them
func (l *Layout) SavedRegs() []target.Reg {
	var regs []target.Reg
	for _, s := range l.Slots {
		if s.Kind == SlotSave {
			regs = append(regs, s.Reg)
		}
	}
	return regs
}
