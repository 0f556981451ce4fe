// Package sim executes shasm assembly. It is the reference machine the test
// suites and the --run flag use to check generated code.
//
// Memory is a flat little-endian byte array whose top holds the stack; sp
// starts at the end of memory and grows down. Return addresses pushed by
// call are instruction indexes.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/raymyers/llvm-to-shasm/pkg/asm"
	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

const (
	DefaultMemSize  = 1 << 20
	DefaultMaxSteps = 50_000_000
)

// returnSentinel is the return address Call pushes; returning to it ends the run
const returnSentinel = -1

var (
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrDivideByZero   = ir.ErrDivideByZero
	ErrBadAddress     = errors.New("memory access out of bounds")
	ErrUnknownLabel   = errors.New("unknown label")
	ErrDuplicateLabel = errors.New("duplicate label")
)

// Fault is a runtime error, tied to the instruction that raised it
type Fault struct {
	PC    int
	Instr string
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("pc %d (%s): %v", f.PC, f.Instr, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Machine is a shasm processor with its memory
type Machine struct {
	Regs [target.NumRegs]int64
	Mem  []byte

	// MaxSteps bounds a run; zero means DefaultMaxSteps
	MaxSteps int
	// Steps counts the instructions executed by the last run
	Steps int
	// MaxDepth is the deepest the stack has been, in bytes
	MaxDepth int64

	code   []asm.Instruction
	labels map[asm.Label]int
	pc     int
	halted bool
}

// New loads code into a machine with DefaultMemSize bytes of memory
func New(code []asm.Instruction) (*Machine, error) {
	m := &Machine{
		Mem:    make([]byte, DefaultMemSize),
		code:   code,
		labels: make(map[asm.Label]int),
	}
	for i, inst := range code {
		if l, ok := inst.(asm.LabelDef); ok {
			if _, dup := m.labels[l.Name]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateLabel, l.Name)
			}
			m.labels[l.Name] = i
		}
	}
	return m, nil
}

// Load flattens a program (with its entry stub) into a machine
func Load(prog *asm.Program) (*Machine, error) {
	return New(prog.Flatten())
}

func (m *Machine) reset() {
	for i := range m.Regs {
		m.Regs[i] = 0
	}
	m.Regs[target.SP] = int64(len(m.Mem))
	m.Steps = 0
	m.MaxDepth = 0
	m.halted = false
}

func (m *Machine) jump(l asm.Label) error {
	pc, ok := m.labels[l]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLabel, l)
	}
	m.pc = pc
	return nil
}

// Run starts at entry and executes until halt, returning r0
func (m *Machine) Run(entry asm.Label) (int64, error) {
	m.reset()
	if err := m.jump(entry); err != nil {
		return 0, err
	}
	if err := m.loop(); err != nil {
		return 0, err
	}
	return m.Regs[target.R0], nil
}

// Call invokes fn with args under the calling convention of desc and returns
// the value left in the return register
func (m *Machine) Call(desc *target.Descriptor, fn string, args ...int64) (int64, error) {
	m.reset()
	nregs := len(desc.ArgRegs)
	for k := len(args) - 1; k >= nregs; k-- {
		if err := m.push(args[k]); err != nil {
			return 0, err
		}
	}
	for k, a := range args {
		if k >= nregs {
			break
		}
		m.Regs[desc.ArgRegs[k]] = a
	}
	if err := m.push(returnSentinel); err != nil {
		return 0, err
	}
	if err := m.jump(asm.Label(fn)); err != nil {
		return 0, err
	}
	if err := m.loop(); err != nil {
		return 0, err
	}
	return m.Regs[desc.Return], nil
}

func (m *Machine) loop() error {
	limit := m.MaxSteps
	if limit == 0 {
		limit = DefaultMaxSteps
	}
	for !m.halted {
		if m.pc < 0 || m.pc >= len(m.code) {
			return &Fault{PC: m.pc, Instr: "?", Err: ErrBadAddress}
		}
		if m.Steps >= limit {
			return &Fault{PC: m.pc, Instr: asm.FormatInstruction(m.code[m.pc]), Err: ErrStepLimit}
		}
		inst := m.code[m.pc]
		pc := m.pc
		m.pc++
		if err := m.Step(inst); err != nil {
			return &Fault{PC: pc, Instr: asm.FormatInstruction(inst), Err: err}
		}
	}
	return nil
}

// --- Memory ---

func (m *Machine) check(addr, size int64) error {
	if addr < 0 || addr+size > int64(len(m.Mem)) {
		return fmt.Errorf("%w: %d", ErrBadAddress, addr)
	}
	return nil
}

// Read loads a w-bit value at addr, sign-extended
func (m *Machine) Read(w ir.Width, addr int64) (int64, error) {
	if err := m.check(addr, w.Bytes()); err != nil {
		return 0, err
	}
	b := m.Mem[addr:]
	switch w {
	case ir.W8:
		return int64(int8(b[0])), nil
	case ir.W16:
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case ir.W32:
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// Write stores the low w bits of v at addr
func (m *Machine) Write(w ir.Width, addr, v int64) error {
	if err := m.check(addr, w.Bytes()); err != nil {
		return err
	}
	b := m.Mem[addr:]
	switch w {
	case ir.W8:
		b[0] = byte(v)
	case ir.W16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case ir.W32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
	return nil
}

func (m *Machine) push(v int64) error {
	sp := m.Regs[target.SP] - 8
	if sp < 0 {
		return ErrStackOverflow
	}
	if err := m.Write(ir.W64, sp, v); err != nil {
		return err
	}
	m.Regs[target.SP] = sp
	if depth := int64(len(m.Mem)) - sp; depth > m.MaxDepth {
		m.MaxDepth = depth
	}
	return nil
}

func (m *Machine) pop() (int64, error) {
	sp := m.Regs[target.SP]
	v, err := m.Read(ir.W64, sp)
	if err != nil {
		return 0, err
	}
	m.Regs[target.SP] = sp + 8
	return v, nil
}

func (m *Machine) effective(a asm.Addr) int64 {
	addr := m.Regs[a.Base] + a.Off
	if a.HasIndex {
		addr += m.Regs[a.Index] * a.Scale
	}
	return addr
}

// --- Execution ---

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Step executes one instruction; the pc has already moved past it
func (m *Machine) Step(inst asm.Instruction) error {
	m.Steps++
	r := &m.Regs
	switch i := inst.(type) {
	case asm.LabelDef, asm.Comment:
		m.Steps--
	case asm.Mov:
		r[i.Rd] = ir.Canonical(i.W, r[i.Rs])
	case asm.Movi:
		r[i.Rd] = ir.Canonical(i.W, i.Imm)
	case asm.Sext:
		r[i.Rd] = ir.Canonical(i.W, r[i.Rs])
	case asm.Zext:
		r[i.Rd] = int64(ir.Low(i.W, r[i.Rs]))
	case asm.Alu:
		v, err := ir.EvalBinop(i.Op, i.W, r[i.Rn], r[i.Rm])
		if err != nil {
			return err
		}
		r[i.Rd] = v
	case asm.AluImm:
		v, err := ir.EvalBinop(i.Op, i.W, r[i.Rn], i.Imm)
		if err != nil {
			return err
		}
		r[i.Rd] = v
		if i.Rd == target.SP {
			return m.checkStack()
		}
	case asm.Cmp:
		r[i.Rd] = boolInt(ir.EvalCmp(i.Cond, i.W, r[i.Rn], r[i.Rm]))
	case asm.CmpImm:
		r[i.Rd] = boolInt(ir.EvalCmp(i.Cond, i.W, r[i.Rn], i.Imm))
	case asm.Ld:
		v, err := m.Read(i.W, m.effective(i.Mem))
		if err != nil {
			return err
		}
		r[i.Rd] = v
	case asm.St:
		return m.Write(i.W, m.effective(i.Mem), r[i.Rs])
	case asm.Lea:
		r[i.Rd] = m.effective(i.Mem)
	case asm.Push:
		return m.push(r[i.Rs])
	case asm.Pop:
		v, err := m.pop()
		if err != nil {
			return err
		}
		r[i.Rd] = v
	case asm.Jmp:
		return m.jump(i.Target)
	case asm.Jz:
		if r[i.Rs] == 0 {
			return m.jump(i.Target)
		}
	case asm.Jnz:
		if r[i.Rs] != 0 {
			return m.jump(i.Target)
		}
	case asm.Call:
		if err := m.push(int64(m.pc)); err != nil {
			return err
		}
		return m.jump(i.Target)
	case asm.Ret:
		ra, err := m.pop()
		if err != nil {
			return err
		}
		if ra == returnSentinel {
			m.halted = true
			return nil
		}
		m.pc = int(ra)
	case asm.Halt:
		m.halted = true
	default:
		return fmt.Errorf("unknown instruction %T", inst)
	}
	return nil
}

// checkStack records the depth after sp moved and rejects a stack that
// runs past the bottom of memory
func (m *Machine) checkStack() error {
	sp := m.Regs[target.SP]
	if sp < 0 {
		return ErrStackOverflow
	}
	if depth := int64(len(m.Mem)) - sp; depth > m.MaxDepth {
		m.MaxDepth = depth
	}
	return nil
}
