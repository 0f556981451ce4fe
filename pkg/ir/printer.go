package ir

import (
	"fmt"
	"io"
	"strings"
)

// Printer outputs IR in an LLVM-like textual form (the -dir dump)
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new IR printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintModule prints every function of a module
func (p *Printer) PrintModule(m *Module) {
	for i, fn := range m.Functions {
		p.PrintFunction(fn)
		if i < len(m.Functions)-1 {
			fmt.Fprintln(p.w)
		}
	}
}

// PrintFunction prints a function
func (p *Printer) PrintFunction(fn *Function) {
	result := "void"
	if fn.Result != 0 {
		result = fn.Result.String()
	}
	params := make([]string, len(fn.Params))
	for i, v := range fn.Params {
		params[i] = fmt.Sprintf("%s %s", v.W, v)
	}
	fmt.Fprintf(p.w, "define %s @%s(%s) {\n", result, fn.Name, strings.Join(params, ", "))
	for _, s := range fn.Slots {
		fmt.Fprintf(p.w, "  slot $%d %q: [%d x %s]\n", s.ID, s.Name, s.Count, s.Elem)
	}
	for _, b := range fn.Blocks {
		if b.ID == fn.Entry {
			fmt.Fprintf(p.w, "%s: ; entry\n", b.Label)
		} else {
			fmt.Fprintf(p.w, "%s:\n", b.Label)
		}
		for _, instr := range b.Code {
			fmt.Fprintf(p.w, "  %s\n", FormatInstruction(fn, instr))
		}
	}
	fmt.Fprintln(p.w, "}")
}

func typed(op Operand) string {
	switch o := op.(type) {
	case Var:
		return fmt.Sprintf("%s %s", o.W, o)
	case Imm:
		return fmt.Sprintf("%s %d", o.W, o.Val)
	}
	return "?"
}

func bare(op Operand) string {
	switch o := op.(type) {
	case Var:
		return o.String()
	case Imm:
		return fmt.Sprintf("%d", o.Val)
	}
	return "?"
}

func formatMem(m MemRef) string {
	switch r := m.(type) {
	case SlotRef:
		s := fmt.Sprintf("$%d", r.Slot)
		if r.Index != nil {
			s += fmt.Sprintf(" + %s*%d", bare(r.Index), r.Scale)
		}
		if r.Off != 0 {
			s += fmt.Sprintf(" + %d", r.Off)
		}
		return "[" + s + "]"
	case PtrRef:
		if r.Off != 0 {
			return fmt.Sprintf("[%s + %d]", bare(r.Ptr), r.Off)
		}
		return fmt.Sprintf("[%s]", bare(r.Ptr))
	}
	return "[?]"
}

// FormatInstruction renders one instruction; fn supplies block labels
func FormatInstruction(fn *Function, instr Instruction) string {
	label := func(id BlockID) string {
		if b := fn.Block(id); b != nil {
			return "%" + b.Label
		}
		return fmt.Sprintf("%%<%d>", id)
	}
	switch i := instr.(type) {
	case Binop:
		return fmt.Sprintf("%s = %s %s, %s", i.Dest, i.Op, typed(i.X), bare(i.Y))
	case Cmp:
		return fmt.Sprintf("%s = icmp %s %s, %s", i.Dest, i.Cond, typed(i.X), bare(i.Y))
	case Cast:
		return fmt.Sprintf("%s = %s %s to %s", i.Dest, i.Op, typed(i.Src), i.Dest.W)
	case Load:
		return fmt.Sprintf("%s = load %s %s", i.Dest, i.Dest.W, formatMem(i.Mem))
	case Store:
		return fmt.Sprintf("store %s, %s", typed(i.Src), formatMem(i.Mem))
	case SlotAddr:
		return fmt.Sprintf("%s = addr %s", i.Dest, formatMem(i.Mem))
	case Phi:
		edges := make([]string, len(i.Edges))
		for k, e := range i.Edges {
			edges[k] = fmt.Sprintf("[ %s, %s ]", bare(e.Value), label(e.Pred))
		}
		return fmt.Sprintf("%s = phi %s %s", i.Dest, i.Dest.W, strings.Join(edges, ", "))
	case Call:
		args := make([]string, len(i.Args))
		for k, a := range i.Args {
			args[k] = typed(a)
		}
		if i.Dest == nil {
			return fmt.Sprintf("call void @%s(%s)", i.Callee, strings.Join(args, ", "))
		}
		return fmt.Sprintf("%s = call %s @%s(%s)", *i.Dest, i.Dest.W, i.Callee, strings.Join(args, ", "))
	case Jump:
		return fmt.Sprintf("br label %s", label(i.Target))
	case Branch:
		return fmt.Sprintf("br %s, label %s, label %s", typed(i.Cond), label(i.Then), label(i.Else))
	case Return:
		if i.Val == nil {
			return "ret void"
		}
		return fmt.Sprintf("ret %s", typed(i.Val))
	}
	return fmt.Sprintf("<unknown %T>", instr)
}
