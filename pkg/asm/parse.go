package asm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/raymyers/llvm-to-shasm/pkg/ir"
	"github.com/raymyers/llvm-to-shasm/pkg/target"
)

// ParseError reports malformed assembly text
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse reads assembly text back into a flat instruction listing.
// Directives and comments are dropped; labels become LabelDef entries.
func Parse(r io.Reader) ([]Instruction, error) {
	var code []Instruction
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := sc.Text()
		if i := strings.IndexByte(text, ';'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.HasSuffix(text, ":") && !strings.ContainsAny(text, " \t") {
			code = append(code, LabelDef{Name: Label(strings.TrimSuffix(text, ":"))})
			continue
		}
		if strings.HasPrefix(text, ".") {
			continue
		}
		inst, err := parseLine(text)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Msg: err.Error()}
		}
		code = append(code, inst)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return code, nil
}

func splitOperands(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" || len(out) > 0 {
		out = append(out, rest)
	}
	return out
}

func parseImm(s string) (int64, error) {
	if !strings.HasPrefix(s, "#") {
		return 0, fmt.Errorf("expected immediate, got %q", s)
	}
	return strconv.ParseInt(s[1:], 10, 64)
}

func parseAddr(s string) (Addr, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Addr{}, fmt.Errorf("expected memory operand, got %q", s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	var a Addr
	var err error
	if a.Base, err = target.ParseReg(strings.TrimSpace(parts[0])); err != nil {
		return Addr{}, err
	}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		switch {
		case strings.HasPrefix(p, "#"):
			if a.Off, err = parseImm(p); err != nil {
				return Addr{}, err
			}
		case strings.Contains(p, "*"):
			reg, scale, _ := strings.Cut(p, "*")
			if a.Index, err = target.ParseReg(reg); err != nil {
				return Addr{}, err
			}
			if a.Scale, err = strconv.ParseInt(scale, 10, 64); err != nil {
				return Addr{}, fmt.Errorf("bad scale %q", scale)
			}
			a.HasIndex = true
		default:
			return Addr{}, fmt.Errorf("bad memory operand component %q", p)
		}
	}
	return a, nil
}

func lookupBinOp(name string) (ir.BinOp, bool) {
	for op := ir.Add; op <= ir.AShr; op++ {
		if op.String() == name {
			return op, true
		}
	}
	return 0, false
}

func lookupCond(name string) (ir.Cond, bool) {
	for c := ir.Eq; c <= ir.Uge; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

func parseWidth(s string) (Width, error) {
	n, err := strconv.Atoi(s)
	w := Width(n)
	if err != nil || !w.Valid() {
		return 0, fmt.Errorf("bad width %q", s)
	}
	return w, nil
}

// operands is a cursor over the operand list of one line
type operands struct {
	list []string
	err  error
}

func (o *operands) next() string {
	if len(o.list) == 0 {
		if o.err == nil {
			o.err = fmt.Errorf("missing operand")
		}
		return ""
	}
	s := o.list[0]
	o.list = o.list[1:]
	return s
}

func (o *operands) reg() Reg {
	s := o.next()
	if o.err != nil {
		return 0
	}
	r, err := target.ParseReg(s)
	if err != nil {
		o.err = err
	}
	return r
}

func (o *operands) imm() int64 {
	s := o.next()
	if o.err != nil {
		return 0
	}
	n, err := parseImm(s)
	if err != nil {
		o.err = err
	}
	return n
}

func (o *operands) addr() Addr {
	s := o.next()
	if o.err != nil {
		return Addr{}
	}
	a, err := parseAddr(s)
	if err != nil {
		o.err = err
	}
	return a
}

func (o *operands) label() Label {
	return Label(o.next())
}

func (o *operands) peekImm() bool {
	return len(o.list) > 0 && strings.HasPrefix(o.list[0], "#")
}

func (o *operands) done(inst Instruction) (Instruction, error) {
	if o.err != nil {
		return nil, o.err
	}
	if len(o.list) > 0 {
		return nil, fmt.Errorf("unexpected operand %q", o.list[0])
	}
	return inst, nil
}

func parseLine(text string) (Instruction, error) {
	mn, rest, _ := strings.Cut(text, "\t")
	if i := strings.IndexByte(mn, ' '); i >= 0 {
		mn, rest = mn[:i], mn[i+1:]+rest
	}
	o := &operands{list: splitOperands(rest)}

	parts := strings.Split(mn, ".")
	switch parts[0] {
	case "lea":
		return o.done(Lea{Rd: o.reg(), Mem: o.addr()})
	case "push":
		return o.done(Push{Rs: o.reg()})
	case "pop":
		return o.done(Pop{Rd: o.reg()})
	case "jmp":
		return o.done(Jmp{Target: o.label()})
	case "jmp0":
		return o.done(Jz{Rs: o.reg(), Target: o.label()})
	case "jnz":
		return o.done(Jnz{Rs: o.reg(), Target: o.label()})
	case "call":
		return o.done(Call{Target: o.label()})
	case "ret":
		return o.done(Ret{})
	case "halt":
		return o.done(Halt{})
	case "cmp":
		if len(parts) != 3 {
			return nil, fmt.Errorf("bad mnemonic %q", mn)
		}
		cond, ok := lookupCond(parts[1])
		if !ok {
			return nil, fmt.Errorf("unknown condition %q", parts[1])
		}
		w, err := parseWidth(parts[2])
		if err != nil {
			return nil, err
		}
		rd, rn := o.reg(), o.reg()
		if o.peekImm() {
			return o.done(CmpImm{Cond: cond, W: w, Rd: rd, Rn: rn, Imm: o.imm()})
		}
		return o.done(Cmp{Cond: cond, W: w, Rd: rd, Rn: rn, Rm: o.reg()})
	}

	if len(parts) != 2 {
		return nil, fmt.Errorf("unknown mnemonic %q", mn)
	}
	w, err := parseWidth(parts[1])
	if err != nil {
		return nil, err
	}
	switch parts[0] {
	case "mov":
		return o.done(Mov{W: w, Rd: o.reg(), Rs: o.reg()})
	case "movi":
		return o.done(Movi{W: w, Rd: o.reg(), Imm: o.imm()})
	case "sext":
		return o.done(Sext{W: w, Rd: o.reg(), Rs: o.reg()})
	case "zext":
		return o.done(Zext{W: w, Rd: o.reg(), Rs: o.reg()})
	case "ld":
		return o.done(Ld{W: w, Rd: o.reg(), Mem: o.addr()})
	case "st":
		return o.done(St{W: w, Rs: o.reg(), Mem: o.addr()})
	}
	op, ok := lookupBinOp(parts[0])
	if !ok {
		return nil, fmt.Errorf("unknown mnemonic %q", mn)
	}
	rd, rn := o.reg(), o.reg()
	if o.peekImm() {
		return o.done(AluImm{Op: op, W: w, Rd: rd, Rn: rn, Imm: o.imm()})
	}
	return o.done(Alu{Op: op, W: w, Rd: rd, Rn: rn, Rm: o.reg()})
}
