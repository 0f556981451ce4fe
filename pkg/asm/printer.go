package asm

import (
	"fmt"
	"io"
	"strings"
)

// Printer outputs shasm assembly text
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new assembly printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintProgram outputs an entire program. The program must pass Validate;
// anything else is a defect in the code generator.
func (p *Printer) PrintProgram(prog *Program) {
	if err := Validate(prog); err != nil {
		panic(fmt.Sprintf("asm: printing invalid program: %v", err))
	}
	if prog.Entry != "" {
		fmt.Fprintf(p.w, "\t.global\t%s\n", StartLabel)
		fmt.Fprintf(p.w, "%s:\n", StartLabel)
		p.printInstruction(Call{Target: Label(prog.Entry)})
		p.printInstruction(Halt{})
		fmt.Fprintln(p.w)
	}
	for i, f := range prog.Functions {
		p.PrintFunction(f)
		if i < len(prog.Functions)-1 {
			fmt.Fprintln(p.w)
		}
	}
}

// PrintFunction outputs one function with its .global directive
func (p *Printer) PrintFunction(f Function) {
	fmt.Fprintf(p.w, "\t.global\t%s\n", f.Name)
	fmt.Fprintf(p.w, "%s:\n", f.Name)
	fmt.Fprintf(p.w, "\t; frame size %d\n", f.FrameSize)
	for _, inst := range f.Code {
		p.printInstruction(inst)
	}
}

func (p *Printer) printInstruction(inst Instruction) {
	switch i := inst.(type) {
	case LabelDef:
		fmt.Fprintf(p.w, "%s:\n", i.Name)
	case Comment:
		fmt.Fprintf(p.w, "\t; %s\n", i.Text)
	default:
		fmt.Fprintf(p.w, "\t%s\n", FormatInstruction(inst))
	}
}

func imm(n int64) string {
	return fmt.Sprintf("#%d", n)
}

// String renders a memory operand such as [fp, r2*4, #-80]
func (a Addr) String() string {
	parts := []string{a.Base.String()}
	if a.HasIndex {
		parts = append(parts, fmt.Sprintf("%s*%d", a.Index, a.Scale))
	}
	if a.Off != 0 {
		parts = append(parts, imm(a.Off))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func suffixed(name string, w Width) string {
	return fmt.Sprintf("%s.%d", name, uint8(w))
}

func ops(operands ...string) string {
	return strings.Join(operands, ", ")
}

// FormatInstruction renders an instruction as "mnemonic\toperands"
func FormatInstruction(inst Instruction) string {
	line := func(mn string, operands ...string) string {
		if len(operands) == 0 {
			return mn
		}
		return mn + "\t" + ops(operands...)
	}
	switch i := inst.(type) {
	case Mov:
		return line(suffixed("mov", i.W), i.Rd.String(), i.Rs.String())
	case Movi:
		return line(suffixed("movi", i.W), i.Rd.String(), imm(i.Imm))
	case Sext:
		return line(suffixed("sext", i.W), i.Rd.String(), i.Rs.String())
	case Zext:
		return line(suffixed("zext", i.W), i.Rd.String(), i.Rs.String())
	case Alu:
		return line(suffixed(i.Op.String(), i.W), i.Rd.String(), i.Rn.String(), i.Rm.String())
	case AluImm:
		return line(suffixed(i.Op.String(), i.W), i.Rd.String(), i.Rn.String(), imm(i.Imm))
	case Cmp:
		return line(suffixed("cmp."+i.Cond.String(), i.W), i.Rd.String(), i.Rn.String(), i.Rm.String())
	case CmpImm:
		return line(suffixed("cmp."+i.Cond.String(), i.W), i.Rd.String(), i.Rn.String(), imm(i.Imm))
	case Ld:
		return line(suffixed("ld", i.W), i.Rd.String(), i.Mem.String())
	case St:
		return line(suffixed("st", i.W), i.Rs.String(), i.Mem.String())
	case Lea:
		return line("lea", i.Rd.String(), i.Mem.String())
	case Push:
		return line("push", i.Rs.String())
	case Pop:
		return line("pop", i.Rd.String())
	case Jmp:
		return line("jmp", string(i.Target))
	case Jz:
		return line("jmp0", i.Rs.String(), string(i.Target))
	case Jnz:
		return line("jnz", i.Rs.String(), string(i.Target))
	case Call:
		return line("call", string(i.Target))
	case Ret:
		return "ret"
	case Halt:
		return "halt"
	case LabelDef:
		return string(i.Name) + ":"
	case Comment:
		return "; " + i.Text
	}
	panic(fmt.Sprintf("asm: unknown instruction %T", inst))
}
