// Package asm defines the shasm assembly representation, the final output
// of the backend, together with its printer and a parser for the textual form.
//
// Registers always hold a value in canonical form: the W-bit result of a
// width-W instruction sign-extended to 64 bits. Unsigned operations (udiv,
// urem, lshr, unsigned compares) look only at the low W bits of their inputs.
package asm

import (
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

// Re-export types
type (
	Reg   = target.Reg
	Width = ir.Width
)

// Re-export register constants
const (
	R0  = target.R0
	R1  = target.R1
	R2  = target.R2
	R3  = target.R3
	R4  = target.R4
	R13 = target.R13
	R14 = target.R14
	R15 = target.R15
	FP  = target.FP
	SP  = target.SP
)

// Label represents a branch or call target
type Label string

// Addr is a memory operand: Base + Index*Scale + Off
type Addr struct {
	Base     Reg
	Index    Reg
	HasIndex bool
	Scale    int64
	Off      int64
}

// Instruction is the interface for shasm instructions
type Instruction interface {
	implInstruction()
}

// --- Data movement ---

// Mov - rd = rs at width W
type Mov struct {
	W      Width
	Rd, Rs Reg
}

// Movi - rd = immediate
type Movi struct {
	W   Width
	Rd  Reg
	Imm int64
}

// Sext - sign-extend the low W bits of rs
type Sext struct {
	W      Width
	Rd, Rs Reg
}

// Zext - zero-extend the low W bits of rs
type Zext struct {
	W      Width
	Rd, Rs Reg
}

// --- Arithmetic ---

// Alu - rd = rn op rm
type Alu struct {
	Op         ir.BinOp
	W          Width
	Rd, Rn, Rm Reg
}

// AluImm - rd = rn op #imm
type AluImm struct {
	Op     ir.BinOp
	W      Width
	Rd, Rn Reg
	Imm    int64
}

// Cmp - rd = (rn cond rm) ? 1 : 0
type Cmp struct {
	Cond       ir.Cond
	W          Width
	Rd, Rn, Rm Reg
}

// CmpImm - rd = (rn cond #imm) ? 1 : 0
type CmpImm struct {
	Cond   ir.Cond
	W      Width
	Rd, Rn Reg
	Imm    int64
}

// --- Memory ---

// Ld - load W bits, sign-extended
type Ld struct {
	W   Width
	Rd  Reg
	Mem Addr
}

// St - store the low W bits of rs
type St struct {
	W   Width
	Rs  Reg
	Mem Addr
}

// Lea - rd = effective address of mem
type Lea struct {
	Rd  Reg
	Mem Addr
}

// Push - sp -= 8; [sp] = rs
type Push struct {
	Rs Reg
}

// Pop - rd = [sp]; sp += 8
type Pop struct {
	Rd Reg
}

// --- Control flow ---

// Jmp - unconditional jump
type Jmp struct {
	Target Label
}

// Jz - jump if rs == 0, printed as jmp0
type Jz struct {
	Rs     Reg
	Target Label
}

// Jnz - jump if rs != 0
type Jnz struct {
	Rs     Reg
	Target Label
}

// Call - push the return address and jump
type Call struct {
	Target Label
}

// Ret - pop the return address and jump to it
type Ret struct{}

// Halt - stop the machine
type Halt struct{}

// --- Labels and comments ---

// LabelDef defines a label
type LabelDef struct {
	Name Label
}

// Comment is printed as a ';' line
type Comment struct {
	Text string
}

func (Mov) implInstruction()      {}
func (Movi) implInstruction()     {}
func (Sext) implInstruction()     {}
func (Zext) implInstruction()     {}
func (Alu) implInstruction()      {}
func (AluImm) implInstruction()   {}
func (Cmp) implInstruction()      {}
func (CmpImm) implInstruction()   {}
func (Ld) implInstruction()       {}
func (St) implInstruction()       {}
func (Lea) implInstruction()      {}
func (Push) implInstruction()     {}
func (Pop) implInstruction()      {}
func (Jmp) implInstruction()      {}
func (Jz) implInstruction()       {}
func (Jnz) implInstruction()      {}
func (Call) implInstruction()     {}
func (Ret) implInstruction()      {}
func (Halt) implInstruction()     {}
func (LabelDef) implInstruction() {}
func (Comment) implInstruction()  {}

// --- Function and Program ---

// Function represents an assembly function
type Function struct {
	Name      string
	Code      []Instruction
	FrameSize int64
}

// Program represents a complete assembly program. When Entry is set the
// printer emits a _start stub that calls it and halts.
type Program struct {
	Entry     string
	Functions []Function
}

// StartLabel is the label of the program entry stub
const StartLabel Label = "_start"

// NewFunction creates a new assembly function
func NewFunction(name string) *Function {
	return &Function{
		Name: name,
		Code: make([]Instruction, 0),
	}
}

// Append adds an instruction to the function
func (f *Function) Append(inst Instruction) {
	f.Code = append(f.Code, inst)
}

// AppendLabel adds a label definition
func (f *Function) AppendLabel(name Label) {
	f.Code = append(f.Code, LabelDef{Name: name})
}

// Flatten returns the instructions of the whole program as one listing,
// including the entry stub
func (p *Program) Flatten() []Instruction {
	var code []Instruction
	if p.Entry != "" {
		code = append(code, LabelDef{Name: StartLabel}, Call{Target: Label(p.Entry)}, Halt{})
	}
	for _, f := range p.Functions {
		code = append(code, LabelDef{Name: Label(f.Name)})
		code = append(code, f.Code...)
	}
	return code
}
