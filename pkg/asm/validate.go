package asm

import "fmt"

// ValidationError reports a malformed program
type ValidationError struct {
	Func string
	Msg  string
}

func (e *ValidationError) Error() string {
	if e.Func == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Func, e.Msg)
}

// Validate checks that every label is defined exactly once, that every jump
// and call target resolves, and that every instruction carries a valid width.
func Validate(prog *Program) error {
	defined := make(map[Label]string)
	define := func(fn string, l Label) error {
		if prev, dup := defined[l]; dup {
			return &ValidationError{Func: fn, Msg: fmt.Sprintf("label %s already defined in %s", l, prev)}
		}
		defined[l] = fn
		return nil
	}
	if prog.Entry != "" {
		if err := define("", StartLabel); err != nil {
			return err
		}
	}
	for _, f := range prog.Functions {
		if err := define(f.Name, Label(f.Name)); err != nil {
			return err
		}
		for _, inst := range f.Code {
			if l, ok := inst.(LabelDef); ok {
				if err := define(f.Name, l.Name); err != nil {
					return err
				}
			}
		}
	}
	if prog.Entry != "" {
		if _, ok := defined[Label(prog.Entry)]; !ok {
			return &ValidationError{Msg: fmt.Sprintf("entry function %s not defined", prog.Entry)}
		}
	}

	for _, f := range prog.Functions {
		for _, inst := range f.Code {
			if t, ok := jumpTarget(inst); ok {
				if _, ok := defined[t]; !ok {
					return &ValidationError{Func: f.Name, Msg: fmt.Sprintf("unresolved label %s", t)}
				}
			}
			if w, ok := width(inst); ok && !w.Valid() {
				return &ValidationError{Func: f.Name, Msg: fmt.Sprintf("invalid width %d in %T", uint8(w), inst)}
			}
		}
	}
	return nil
}

func jumpTarget(inst Instruction) (Label, bool) {
	switch i := inst.(type) {
	case Jmp:
		return i.Target, true
	case Jz:
		return i.Target, true
	case Jnz:
		return i.Target, true
	case Call:
		return i.Target, true
	}
	return "", false
}

func width(inst Instruction) (Width, bool) {
	switch i := inst.(type) {
	case Mov:
		return i.W, true
	case Movi:
		return i.W, true
	case Sext:
		return i.W, true
	case Zext:
		return i.W, true
	case Alu:
		return i.W, true
	case AluImm:
		return i.W, true
	case Cmp:
		return i.W, true
	case CmpImm:
		return i.W, true
	case Ld:
		return i.W, true
	case St:
		return i.W, true
	}
	return 0, false
}
